package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/openledger/payline/internal/apikey/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultOrgName      = "Main"
	defaultDelayDays    = 1
	defaultRetryOffsets = `[1, 3, 5]`
)

// EnsureMainOrg seeds the default organization, its AutoPay settings and a
// bootstrap API key. The key secret is logged once, on first creation only.
func EnsureMainOrg(db *gorm.DB, node *snowflake.Node, log *zap.Logger) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orgID, err := ensureOrg(ctx, tx, node)
		if err != nil {
			return err
		}
		if err := ensureSettings(ctx, tx, orgID); err != nil {
			return err
		}
		return ensureBootstrapKey(ctx, tx, node, orgID, log)
	})
}

func ensureOrg(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (snowflake.ID, error) {
	var orgID snowflake.ID
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM organizations WHERE name = ? LIMIT 1`,
		defaultOrgName,
	).Scan(&orgID).Error
	if err != nil {
		return 0, err
	}
	if orgID != 0 {
		return orgID, nil
	}

	orgID = node.Generate()
	now := time.Now().UTC()
	err = tx.WithContext(ctx).Exec(
		`INSERT INTO organizations (id, name, currency, created_at, updated_at)
		 VALUES (?, ?, 'USD', ?, ?)`,
		orgID,
		defaultOrgName,
		now,
		now,
	).Error
	if err != nil {
		return 0, err
	}
	return orgID, nil
}

func ensureSettings(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO autopay_settings (org_id, delay_days, retry_offsets, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (org_id) DO NOTHING`,
		orgID,
		defaultDelayDays,
		defaultRetryOffsets,
		time.Now().UTC(),
	).Error
}

func ensureBootstrapKey(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID, log *zap.Logger) error {
	var existing int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM api_keys WHERE org_id = ?`,
		orgID,
	).Scan(&existing).Error
	if err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	secret, err := apikeydomain.NewSecret()
	if err != nil {
		return err
	}
	hash, err := apikeydomain.HashSecret(secret)
	if err != nil {
		return err
	}

	keyID := node.Generate()
	now := time.Now().UTC()
	err = tx.WithContext(ctx).Exec(
		`INSERT INTO api_keys (id, org_id, key_id, secret_hash, name, role, is_active, created_at)
		 VALUES (?, ?, ?, ?, 'bootstrap', 'ADMIN', true, ?)`,
		keyID,
		orgID,
		keyID.String(),
		hash,
		now,
	).Error
	if err != nil {
		return err
	}

	if log != nil {
		log.Info("bootstrap API key created; store it now, it is not shown again",
			zap.String("api_key", keyID.String()+"."+secret),
		)
	}
	return nil
}
