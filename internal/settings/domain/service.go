package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service reads and writes company-level AutoPay settings.
type Service interface {
	Get(ctx context.Context, orgID snowflake.ID) (*AutopaySettings, error)
	// Update normalizes the raw offsets, validates the result and upserts
	// the org's settings. Invalid schedules are rejected without writing.
	Update(ctx context.Context, orgID snowflake.ID, delayDays int, rawOffsets []float64) (*AutopaySettings, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidDelayDays    = errors.New("invalid_delay_days")
)
