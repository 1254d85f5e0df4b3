package authorization

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestAuthorizeAllowsAdmin(t *testing.T) {
	db := setupAuthzTestDB(t)
	insertMember(t, db, 1, 10, "ADMIN")

	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	svc := &ServiceImpl{
		db:       db,
		log:      zap.NewNop(),
		enforcer: enforcer,
	}

	if err := svc.Authorize(context.Background(), "user:10", "1", ObjectSettings, ActionSettingsUpdate); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestAuthorizeDeniesMemberCapability(t *testing.T) {
	db := setupAuthzTestDB(t)
	insertMember(t, db, 1, 11, "MEMBER")

	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	svc := &ServiceImpl{
		db:       db,
		log:      zap.NewNop(),
		enforcer: enforcer,
	}

	err = svc.Authorize(context.Background(), "user:11", "1", ObjectSettings, ActionSettingsUpdate)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAuthorizeAllowsMemberCapability(t *testing.T) {
	db := setupAuthzTestDB(t)
	insertMember(t, db, 1, 13, "MEMBER")

	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	svc := &ServiceImpl{
		db:       db,
		log:      zap.NewNop(),
		enforcer: enforcer,
	}

	if err := svc.Authorize(context.Background(), "user:13", "1", ObjectPayment, ActionPaymentApply); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestAuthorizeDeniesCrossOrg(t *testing.T) {
	db := setupAuthzTestDB(t)
	insertMember(t, db, 1, 12, "ADMIN")

	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	svc := &ServiceImpl{
		db:       db,
		log:      zap.NewNop(),
		enforcer: enforcer,
	}

	err = svc.Authorize(context.Background(), "user:12", "2", ObjectInvoice, ActionInvoiceCharge)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAuthorizeSystem(t *testing.T) {
	db := setupAuthzTestDB(t)

	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	svc := &ServiceImpl{
		db:       db,
		log:      zap.NewNop(),
		enforcer: enforcer,
	}

	if err := svc.Authorize(context.Background(), "system", "3", ObjectInvoice, ActionInvoiceCharge); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestAuthorizeAdminAPIKey(t *testing.T) {
	db := setupAuthzTestDB(t)
	insertKey(t, db, 1, 21, "ADMIN", true)

	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	svc := &ServiceImpl{
		db:       db,
		log:      zap.NewNop(),
		enforcer: enforcer,
	}

	if err := svc.Authorize(context.Background(), "api_key:21", "1", ObjectSettings, ActionSettingsUpdate); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestAuthorizeMemberAPIKeyCapabilities(t *testing.T) {
	db := setupAuthzTestDB(t)
	insertKey(t, db, 1, 22, "MEMBER", true)

	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	svc := &ServiceImpl{
		db:       db,
		log:      zap.NewNop(),
		enforcer: enforcer,
	}

	if err := svc.Authorize(context.Background(), "api_key:22", "1", ObjectPayment, ActionPaymentApply); err != nil {
		t.Fatalf("expected member key to apply payments, got %v", err)
	}
	err = svc.Authorize(context.Background(), "api_key:22", "1", ObjectSettings, ActionSettingsUpdate)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for member key, got %v", err)
	}
}

func TestAuthorizeDeniesUnknownAndInactiveKeys(t *testing.T) {
	db := setupAuthzTestDB(t)
	insertKey(t, db, 1, 23, "ADMIN", false)

	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	svc := &ServiceImpl{
		db:       db,
		log:      zap.NewNop(),
		enforcer: enforcer,
	}

	err = svc.Authorize(context.Background(), "api_key:23", "1", ObjectPayment, ActionPaymentApply)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for inactive key, got %v", err)
	}
	err = svc.Authorize(context.Background(), "api_key:99", "1", ObjectPayment, ActionPaymentApply)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for unknown key, got %v", err)
	}
}

func setupAuthzTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS organization_members (
			id INTEGER PRIMARY KEY,
			org_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			role TEXT NOT NULL
		)`,
	).Error; err != nil {
		t.Fatalf("create organization_members: %v", err)
	}
	if err := db.Exec(`DELETE FROM organization_members`).Error; err != nil {
		t.Fatalf("reset organization_members: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY,
			org_id BIGINT NOT NULL,
			role TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT true
		)`,
	).Error; err != nil {
		t.Fatalf("create api_keys: %v", err)
	}
	if err := db.Exec(`DELETE FROM api_keys`).Error; err != nil {
		t.Fatalf("reset api_keys: %v", err)
	}
	return db
}

func insertKey(t *testing.T, db *gorm.DB, orgID, keyID int64, role string, active bool) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO api_keys (id, org_id, role, is_active)
		 VALUES (?, ?, ?, ?)`,
		keyID,
		orgID,
		role,
		active,
	).Error; err != nil {
		t.Fatalf("insert api key: %v", err)
	}
}

func insertMember(t *testing.T, db *gorm.DB, orgID, userID int64, role string) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO organization_members (id, org_id, user_id, role)
		 VALUES (?, ?, ?, ?)`,
		userID,
		orgID,
		userID,
		role,
	).Error; err != nil {
		t.Fatalf("insert member: %v", err)
	}
}
