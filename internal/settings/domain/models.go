package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AutopaySettings is the company-level AutoPay configuration: the delay
// between issue and first charge, and the retry-offset schedule used after a
// failed attempt. RetryOffsets is a JSON array of day counts, stored
// normalized and only after validation.
type AutopaySettings struct {
	OrgID        snowflake.ID   `gorm:"primaryKey"`
	DelayDays    int            `gorm:"not null;default:0"`
	RetryOffsets datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AutopaySettings) TableName() string { return "autopay_settings" }

// Offsets decodes the stored retry schedule.
func (s AutopaySettings) Offsets() ([]int, error) {
	if len(s.RetryOffsets) == 0 {
		return nil, nil
	}
	var offsets []int
	if err := json.Unmarshal(s.RetryOffsets, &offsets); err != nil {
		return nil, ErrCorruptRetryOffsets
	}
	return offsets, nil
}

var (
	ErrSettingsNotFound    = errors.New("autopay_settings_not_found")
	ErrCorruptRetryOffsets = errors.New("corrupt_retry_offsets")
)
