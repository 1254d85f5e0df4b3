package offline

import (
	"context"

	paymentdomain "github.com/openledger/payline/internal/payment/domain"
)

// Provider is the registry key for the offline gateway.
const Provider = "offline"

// Factory builds offline adapters. The offline gateway never talks to a
// payment rail: it approves every charge unless the org config pins
// "decline": true, which makes every charge fail. Used for local
// environments and sweep tests.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Provider() string { return Provider }

func (f *Factory) NewAdapter(config paymentdomain.AdapterConfig) (paymentdomain.GatewayAdapter, error) {
	decline, _ := config.Config["decline"].(bool)
	return &adapter{decline: decline}, nil
}

type adapter struct {
	decline bool
}

func (a *adapter) Charge(ctx context.Context, req paymentdomain.ChargeRequest) error {
	if req.Amount <= 0 {
		return paymentdomain.ErrInvalidAmount
	}
	if a.decline {
		return paymentdomain.ErrChargeDeclined
	}
	return nil
}
