package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openledger/payline/internal/observability/tracing"
	paymentdomain "github.com/openledger/payline/internal/payment/domain"
)

// Provider is the registry key for the HTTP bridge gateway.
const Provider = "bridge"

var ErrMissingEndpoint = errors.New("bridge_endpoint_required")

// Factory builds bridge adapters. The bridge gateway forwards charges to an
// external processor over HTTP, letting an org plug in any rail that speaks
// the charge contract. Org config keys: "endpoint" (required), "api_key"
// (optional bearer token), "timeout_seconds" (optional, default 15).
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Provider() string { return Provider }

func (f *Factory) NewAdapter(config paymentdomain.AdapterConfig) (paymentdomain.GatewayAdapter, error) {
	endpoint, _ := config.Config["endpoint"].(string)
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	apiKey, _ := config.Config["api_key"].(string)

	timeout := 15 * time.Second
	if seconds, ok := config.Config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	client := tracing.WrapHTTPClient(&http.Client{Timeout: timeout})
	return &adapter{endpoint: endpoint, apiKey: apiKey, client: client}, nil
}

type adapter struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type chargePayload struct {
	PaymentID  string `json:"payment_id"`
	OrgID      string `json:"org_id"`
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

func (a *adapter) Charge(ctx context.Context, req paymentdomain.ChargeRequest) error {
	if req.Amount <= 0 {
		return paymentdomain.ErrInvalidAmount
	}

	body, err := json.Marshal(chargePayload{
		PaymentID:  req.PaymentID.String(),
		OrgID:      req.OrgID.String(),
		CustomerID: req.CustomerID.String(),
		Amount:     req.Amount,
		Currency:   req.Currency,
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The payment id doubles as the idempotency key: retries of the same
	// charge must not move money twice.
	httpReq.Header.Set("Idempotency-Key", req.PaymentID.String())
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return paymentdomain.ErrChargeDeclined
	default:
		return fmt.Errorf("bridge charge failed: status %d", resp.StatusCode)
	}
}
