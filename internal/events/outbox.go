package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is one collection fact headed for the billing_events outbox:
// a payment applied, an autopay attempt scheduled, retried or exhausted.
// DedupeKey lets retried writers insert the same fact at most once per org.
type Event struct {
	OrgID     snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// Outbox writes events into billing_events inside the caller's transaction,
// so an event is only visible once the state change it describes committed.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID}
}

// Publish stores an event outside any transaction.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	return o.insert(ctx, o.db, event)
}

// PublishTx stores an event through an open transaction.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.insert(ctx, tx, event)
}

func (o *Outbox) insert(ctx context.Context, db *gorm.DB, event Event) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	if event.OrgID == 0 {
		return errors.New("invalid_org_id")
	}
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	// NULL dedupe keys never conflict with each other, so only a non-empty
	// key participates in the uniqueness constraint.
	var dedupeKey any
	if trimmed := strings.TrimSpace(event.DedupeKey); trimmed != "" {
		dedupeKey = trimmed
	}

	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_events (id, org_id, event_type, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, ?, false, ?)
		 ON CONFLICT (org_id, dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		event.OrgID,
		eventType,
		payload,
		dedupeKey,
		time.Now().UTC(),
	).Error
}
