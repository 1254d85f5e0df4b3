package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	autopaydomain "github.com/openledger/payline/internal/autopay/domain"
	settingsdomain "github.com/openledger/payline/internal/settings/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSettingsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&settingsdomain.AutopaySettings{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newSettingsService(t *testing.T, db *gorm.DB) settingsdomain.Service {
	t.Helper()
	return NewService(Params{DB: db, Log: zap.NewNop()})
}

func TestUpdateNormalizesAndStoresOffsets(t *testing.T) {
	db := setupSettingsTestDB(t)
	svc := newSettingsService(t, db)

	settings, err := svc.Update(context.Background(), 1, 2, []float64{1.9, 3.2, 7})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if settings.DelayDays != 2 {
		t.Fatalf("expected delay 2, got %d", settings.DelayDays)
	}
	offsets, err := settings.Offsets()
	if err != nil {
		t.Fatalf("decode offsets: %v", err)
	}
	want := []int{1, 3, 7}
	if len(offsets) != len(want) {
		t.Fatalf("expected %v, got %v", want, offsets)
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, offsets)
		}
	}
}

func TestUpdateOverwritesExistingSettings(t *testing.T) {
	db := setupSettingsTestDB(t)
	svc := newSettingsService(t, db)

	if _, err := svc.Update(context.Background(), 1, 1, []float64{1, 3, 5}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	settings, err := svc.Update(context.Background(), 1, 4, []float64{2, 6})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if settings.DelayDays != 4 {
		t.Fatalf("expected delay 4, got %d", settings.DelayDays)
	}
	offsets, err := settings.Offsets()
	if err != nil {
		t.Fatalf("decode offsets: %v", err)
	}
	if len(offsets) != 2 || offsets[0] != 2 || offsets[1] != 6 {
		t.Fatalf("expected [2 6], got %v", offsets)
	}
}

func TestUpdateRejectsInvalidSchedules(t *testing.T) {
	db := setupSettingsTestDB(t)
	svc := newSettingsService(t, db)

	cases := [][]float64{
		{},
		{1, 2, 3, 4, 5},
		{0.5},
		{11},
		{3, 3},
		{5, 2},
	}
	for _, offsets := range cases {
		if _, err := svc.Update(context.Background(), 1, 1, offsets); !errors.Is(err, autopaydomain.ErrInvalidRetryOffsets) {
			t.Fatalf("offsets %v: expected invalid schedule, got %v", offsets, err)
		}
	}

	if _, err := svc.Get(context.Background(), 1); !errors.Is(err, settingsdomain.ErrSettingsNotFound) {
		t.Fatalf("rejected updates must not write, got %v", err)
	}
}

func TestGetUnknownOrg(t *testing.T) {
	db := setupSettingsTestDB(t)
	svc := newSettingsService(t, db)

	if _, err := svc.Get(context.Background(), 42); !errors.Is(err, settingsdomain.ErrSettingsNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Get(context.Background(), 0); !errors.Is(err, settingsdomain.ErrInvalidOrganization) {
		t.Fatalf("expected invalid organization, got %v", err)
	}
}
