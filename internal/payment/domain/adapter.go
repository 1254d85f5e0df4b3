package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// ChargeRequest is handed to a gateway adapter to actually move money.
// Amount is the allocation engine's net amount in minor units.
type ChargeRequest struct {
	OrgID      snowflake.ID
	CustomerID snowflake.ID
	PaymentID  snowflake.ID
	Amount     int64
	Currency   string
}

type GatewayAdapter interface {
	Charge(ctx context.Context, req ChargeRequest) error
}

type AdapterConfig struct {
	OrgID    snowflake.ID
	Provider string
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(config AdapterConfig) (GatewayAdapter, error)
}
