package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PlanStatus represents a payment plan's lifecycle state.
type PlanStatus string

const (
	PlanStatusPendingSignup PlanStatus = "PENDING_SIGNUP"
	PlanStatusActive        PlanStatus = "ACTIVE"
	PlanStatusCompleted     PlanStatus = "COMPLETED"
	PlanStatusCanceled      PlanStatus = "CANCELED"
)

// PaymentPlan splits one invoice's balance into dated partial charges.
// RetryOffsets, when set, overrides the company retry schedule for this plan
// (a JSON array of day counts, validated before storage).
type PaymentPlan struct {
	ID           snowflake.ID   `gorm:"primaryKey"`
	OrgID        snowflake.ID   `gorm:"not null;index"`
	InvoiceID    snowflake.ID   `gorm:"not null;index"`
	Status       PlanStatus     `gorm:"type:text;not null;default:'PENDING_SIGNUP'"`
	RetryOffsets datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentPlan) TableName() string { return "payment_plans" }

// Installment is one dated partial charge of a plan. Position preserves the
// agreed order; scheduling follows the first installment with a balance.
type Installment struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	PlanID    snowflake.ID `gorm:"not null;index"`
	Position  int          `gorm:"not null"`
	DueDate   time.Time    `gorm:"not null"`
	Amount    int64        `gorm:"not null"`
	Balance   int64        `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Installment) TableName() string { return "payment_plan_installments" }

var ErrPlanNotFound = errors.New("payment_plan_not_found")
