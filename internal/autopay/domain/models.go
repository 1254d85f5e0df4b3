package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ProcessingStatusPending marks an invoice with a charge attempt mid-flight.
const ProcessingStatusPending = "pending"

// Invoice is an immutable scheduling snapshot of an invoice. The scheduler
// only reads it; NextAttemptAt and AttemptCount are persisted by the caller
// after each decided or attempted cycle.
type Invoice struct {
	ID               snowflake.ID
	AutopayEnabled   bool
	Draft            bool
	Closed           bool
	Voided           bool
	Paid             bool
	ProcessingStatus string
	IssueDate        time.Time
	NextAttemptAt    *time.Time
	AttemptCount     int
}

// PlanStatus represents a payment plan's lifecycle state.
type PlanStatus string

const (
	PlanStatusPendingSignup PlanStatus = "PENDING_SIGNUP"
	PlanStatusActive        PlanStatus = "ACTIVE"
	PlanStatusCompleted     PlanStatus = "COMPLETED"
	PlanStatusCanceled      PlanStatus = "CANCELED"
)

// Installment is one dated partial charge of a payment plan.
type Installment struct {
	DueDate time.Time
	Balance int64
}

// Plan is an immutable snapshot of an invoice's payment plan. Installment
// order is significant: charge timing follows the first unpaid installment.
type Plan struct {
	Status       PlanStatus
	Installments []Installment
}

// DelayConfig resolves the days to wait after issue before the first
// automatic charge. A customer-level override wins over the company default.
type DelayConfig struct {
	CustomerDelayDays *int
	CompanyDelayDays  int
}

var (
	ErrMissingLastAttempt  = errors.New("missing_last_attempt")
	ErrInvalidAttemptCount = errors.New("invalid_attempt_count")
	ErrInvalidRetryOffsets = errors.New("invalid_retry_offsets")
)
