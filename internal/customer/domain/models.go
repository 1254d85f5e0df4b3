package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer owns the stored credit wallet and an optional AutoPay delay
// override. CreditBalance is minor units of previously issued, unattributed
// credit.
type Customer struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	OrgID             snowflake.ID `gorm:"not null;index"`
	Name              string       `gorm:"type:text;not null"`
	Email             string       `gorm:"type:text;not null"`
	AutopayDelayDays  *int         `gorm:"column:autopay_delay_days"`
	CreditBalance     int64        `gorm:"not null;default:0"`
	DefaultProviderID *string      `gorm:"column:default_provider_id;type:text"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }

var ErrCustomerNotFound = errors.New("customer_not_found")
