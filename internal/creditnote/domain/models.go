package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreditNote is a negative receivable: value owed back to the customer,
// consumable against invoice balances. Balance is the remaining consumable
// value in minor units.
type CreditNote struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"not null;index"`
	CustomerID snowflake.ID `gorm:"not null;index"`
	Number     string       `gorm:"type:text;not null"`
	Currency   string       `gorm:"type:text;not null"`
	Total      int64        `gorm:"not null"`
	Balance    int64        `gorm:"not null"`
	VoidedAt   *time.Time   `gorm:"column:voided_at"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditNote) TableName() string { return "credit_notes" }

var ErrCreditNoteNotFound = errors.New("credit_note_not_found")
