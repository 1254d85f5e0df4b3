package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents an invoice's receivable lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusDraft  InvoiceStatus = "DRAFT"
	InvoiceStatusOpen   InvoiceStatus = "OPEN"
	InvoiceStatusPaid   InvoiceStatus = "PAID"
	InvoiceStatusClosed InvoiceStatus = "CLOSED"
	InvoiceStatusVoid   InvoiceStatus = "VOID"
)

// ProcessingStatusPending marks a charge attempt mid-flight; the sweep skips
// such invoices so only one attempt runs at a time.
const ProcessingStatusPending = "pending"

// Invoice is a receivable document with a balance owed. NextPaymentAttempt
// and AttemptCount are AutoPay bookkeeping written by the sweep after each
// scheduling decision or attempt outcome.
type Invoice struct {
	ID                 snowflake.ID      `gorm:"primaryKey"`
	OrgID              snowflake.ID      `gorm:"not null;index"`
	CustomerID         snowflake.ID      `gorm:"not null;index"`
	Number             string            `gorm:"type:text;not null"`
	Status             InvoiceStatus     `gorm:"type:text;not null;default:'DRAFT'"`
	ProcessingStatus   string            `gorm:"type:text;not null;default:''"`
	AutopayEnabled     bool              `gorm:"not null;default:false"`
	Currency           string            `gorm:"type:text;not null"`
	TotalAmount        int64             `gorm:"not null"`
	Balance            int64             `gorm:"not null"`
	IssueDate          time.Time         `gorm:"not null"`
	DueDate            *time.Time        `gorm:"column:due_date"`
	PaidAt             *time.Time        `gorm:"column:paid_at"`
	NextPaymentAttempt *time.Time        `gorm:"column:next_payment_attempt;index"`
	AttemptCount       int               `gorm:"not null;default:0"`
	PaymentPlanID      *snowflake.ID     `gorm:"index"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

var (
	ErrInvalidInvoiceID = errors.New("invalid_invoice_id")
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrInvoiceNotOpen   = errors.New("invoice_not_open")
)
