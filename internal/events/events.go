package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Billing event types emitted through the outbox.
const (
	TypePaymentApplied   = "payment.applied"
	TypePaymentDeclined  = "payment.declined"
	TypeAutopayScheduled = "autopay.scheduled"
	TypeAutopayRetried   = "autopay.retried"
	TypeAutopayExhausted = "autopay.exhausted"
)

// BillingEvent is the persisted outbox row. Downstream consumers poll
// unpublished rows and flip the published flag.
type BillingEvent struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	OrgID     snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_billing_events_dedupe,priority:1"`
	EventType string            `gorm:"type:text;not null;index"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	DedupeKey *string           `gorm:"type:text;uniqueIndex:ux_billing_events_dedupe,priority:2"`
	Published bool              `gorm:"not null;default:false;index"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }
