package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentSource describes how a payment was initiated.
type PaymentSource string

const (
	PaymentSourceManual  PaymentSource = "manual"
	PaymentSourceAutopay PaymentSource = "autopay"
)

// Payment is the persisted record of one collection cycle: the net amount
// moved through the gateway plus the ordered application trail explaining how
// it was distributed.
type Payment struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	OrgID      snowflake.ID      `gorm:"not null;index"`
	CustomerID snowflake.ID      `gorm:"not null;index"`
	Provider   string            `gorm:"type:text;not null"`
	Source     PaymentSource     `gorm:"type:text;not null;default:'manual'"`
	Amount     int64             `gorm:"not null"`
	Currency   string            `gorm:"type:text;not null"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Applications []PaymentApplication `gorm:"-"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// PaymentApplication persists one allocation split. Position preserves the
// split order so the audit trail replays deterministically.
type PaymentApplication struct {
	ID           snowflake.ID  `gorm:"primaryKey"`
	OrgID        snowflake.ID  `gorm:"not null;index"`
	PaymentID    snowflake.ID  `gorm:"not null;index"`
	Position     int           `gorm:"not null"`
	Kind         SplitKind     `gorm:"type:text;not null"`
	Amount       int64         `gorm:"not null"`
	InvoiceID    *snowflake.ID `gorm:"index"`
	CreditNoteID *snowflake.ID `gorm:"index"`
	CreatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentApplication) TableName() string { return "payment_applications" }

// InvoicePayment selects an invoice and the amount to collect against it.
type InvoicePayment struct {
	InvoiceID snowflake.ID
	Amount    int64
}

// CreditNoteApplication selects a credit note and the positive value to
// consume from it.
type CreditNoteApplication struct {
	CreditNoteID snowflake.ID
	Amount       int64
}

// ApplyPaymentRequest is the payment form: the caller-ordered selection of
// invoices, credit sources and overpayment that the allocation engine turns
// into splits.
type ApplyPaymentRequest struct {
	OrgID         snowflake.ID
	CustomerID    snowflake.ID
	Provider      string
	Currency      string
	Source        PaymentSource
	Invoices      []InvoicePayment
	CreditNotes   []CreditNoteApplication
	AppliedCredit int64
	Overpayment   int64
}

// LineItems flattens the form into the signed, ordered list consumed by
// Allocate: invoices first, then credit notes, then applied credit, then
// overpayment. Sign conventions are applied here so callers pass positive
// amounts throughout.
func (r ApplyPaymentRequest) LineItems() []LineItem {
	items := make([]LineItem, 0, len(r.Invoices)+len(r.CreditNotes)+2)
	for _, inv := range r.Invoices {
		items = append(items, LineItem{
			Kind:      LineItemKindInvoice,
			Amount:    inv.Amount,
			InvoiceID: inv.InvoiceID,
		})
	}
	for _, note := range r.CreditNotes {
		items = append(items, LineItem{
			Kind:         LineItemKindCreditNote,
			Amount:       -note.Amount,
			CreditNoteID: note.CreditNoteID,
		})
	}
	if r.AppliedCredit > 0 {
		items = append(items, LineItem{
			Kind:   LineItemKindCreditBalance,
			Amount: -r.AppliedCredit,
		})
	}
	if r.Overpayment > 0 {
		items = append(items, LineItem{
			Kind:   LineItemKindUnattributed,
			Amount: r.Overpayment,
		})
	}
	return items
}

// ChargeInvoiceRequest asks for a full-balance charge of a single invoice,
// used by the AutoPay sweep.
type ChargeInvoiceRequest struct {
	OrgID     snowflake.ID
	InvoiceID snowflake.ID
	Source    PaymentSource
}
