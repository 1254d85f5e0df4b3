package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	autopaydomain "github.com/openledger/payline/internal/autopay/domain"
	settingsdomain "github.com/openledger/payline/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) settingsdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("settings.service"),
	}
}

func (s *Service) Get(ctx context.Context, orgID snowflake.ID) (*settingsdomain.AutopaySettings, error) {
	if orgID == 0 {
		return nil, settingsdomain.ErrInvalidOrganization
	}
	var settings settingsdomain.AutopaySettings
	err := s.db.WithContext(ctx).Raw(
		`SELECT org_id, delay_days, retry_offsets, updated_at
		 FROM autopay_settings
		 WHERE org_id = ?`,
		orgID,
	).Scan(&settings).Error
	if err != nil {
		return nil, err
	}
	if settings.OrgID == 0 {
		return nil, settingsdomain.ErrSettingsNotFound
	}
	return &settings, nil
}

func (s *Service) Update(ctx context.Context, orgID snowflake.ID, delayDays int, rawOffsets []float64) (*settingsdomain.AutopaySettings, error) {
	if orgID == 0 {
		return nil, settingsdomain.ErrInvalidOrganization
	}
	if delayDays < 0 {
		return nil, settingsdomain.ErrInvalidDelayDays
	}
	normalized := autopaydomain.NormalizeOffsets(rawOffsets)
	if !autopaydomain.ValidateNormalizedOffsets(normalized) {
		return nil, autopaydomain.ErrInvalidRetryOffsets
	}

	encoded, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Exec(
		`INSERT INTO autopay_settings (org_id, delay_days, retry_offsets, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (org_id) DO UPDATE
		 SET delay_days = EXCLUDED.delay_days,
		     retry_offsets = EXCLUDED.retry_offsets,
		     updated_at = EXCLUDED.updated_at`,
		orgID,
		delayDays,
		string(encoded),
		now,
	).Error
	if err != nil {
		return nil, err
	}

	s.log.Info("autopay settings updated",
		zap.String("org_id", orgID.String()),
		zap.Int("delay_days", delayDays),
		zap.Ints("retry_offsets", normalized),
	)
	return s.Get(ctx, orgID)
}
