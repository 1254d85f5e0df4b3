package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/openledger/payline/internal/audit/domain"
	auditrepository "github.com/openledger/payline/internal/audit/repository"
	auditservice "github.com/openledger/payline/internal/audit/service"
	autopaydomain "github.com/openledger/payline/internal/autopay/domain"
	"github.com/openledger/payline/internal/clock"
	"github.com/openledger/payline/internal/config"
	creditnotedomain "github.com/openledger/payline/internal/creditnote/domain"
	customerdomain "github.com/openledger/payline/internal/customer/domain"
	"github.com/openledger/payline/internal/events"
	invoicedomain "github.com/openledger/payline/internal/invoice/domain"
	ledgerdomain "github.com/openledger/payline/internal/ledger/domain"
	ledgerservice "github.com/openledger/payline/internal/ledger/service"
	"github.com/openledger/payline/internal/payment/adapters"
	"github.com/openledger/payline/internal/payment/adapters/offline"
	paymentdomain "github.com/openledger/payline/internal/payment/domain"
	paymentrepository "github.com/openledger/payline/internal/payment/repository"
	paymentservice "github.com/openledger/payline/internal/payment/service"
	paymentplandomain "github.com/openledger/payline/internal/paymentplan/domain"
	settingsdomain "github.com/openledger/payline/internal/settings/domain"
	settingsservice "github.com/openledger/payline/internal/settings/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var sweepNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type alwaysDecline struct{}

func (alwaysDecline) Provider() string { return "declining" }

func (alwaysDecline) NewAdapter(config paymentdomain.AdapterConfig) (paymentdomain.GatewayAdapter, error) {
	return declineAdapter{}, nil
}

type declineAdapter struct{}

func (declineAdapter) Charge(ctx context.Context, req paymentdomain.ChargeRequest) error {
	return paymentdomain.ErrChargeDeclined
}

func setupSweepTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&customerdomain.Customer{},
		&invoicedomain.Invoice{},
		&creditnotedomain.CreditNote{},
		&paymentplandomain.PaymentPlan{},
		&paymentplandomain.Installment{},
		&paymentdomain.Payment{},
		&paymentdomain.PaymentApplication{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
		&events.BillingEvent{},
		&auditdomain.AuditLog{},
		&settingsdomain.AutopaySettings{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newSweepWorker(t *testing.T, db *gorm.DB) *Worker {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	log := zap.NewNop()
	outbox := events.NewOutbox(db, node)
	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepository.Provide()})
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		LedgerSvc: ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node}),
		AuditSvc:  auditSvc,
		Repo:      paymentrepository.Provide(),
		Adapters:  adapters.NewRegistry(offline.NewFactory(), alwaysDecline{}),
		Outbox:    outbox,
	})
	settingsSvc := settingsservice.NewService(settingsservice.Params{DB: db, Log: log})

	return NewWorker(Params{
		DB:          db,
		Log:         log,
		Clock:       clock.Fixed(sweepNow),
		Cfg:         config.Config{Autopay: config.AutopayConfig{SweepInterval: time.Minute, BatchSize: 50, DefaultDelayDays: 1, DefaultRetryOffsets: []int{1, 3, 5}}},
		PaymentSvc:  paymentSvc,
		SettingsSvc: settingsSvc,
		AuditSvc:    auditSvc,
		Outbox:      outbox,
	})
}

func insertSweepCustomer(t *testing.T, db *gorm.DB, id, orgID snowflake.ID, provider string) {
	t.Helper()
	customer := customerdomain.Customer{
		ID:        id,
		OrgID:     orgID,
		Name:      "Acme",
		Email:     "billing@acme.test",
		CreatedAt: sweepNow,
		UpdatedAt: sweepNow,
	}
	if provider != "" {
		customer.DefaultProviderID = &provider
	}
	if err := db.Create(&customer).Error; err != nil {
		t.Fatalf("insert customer: %v", err)
	}
}

func insertSweepInvoice(t *testing.T, db *gorm.DB, inv invoicedomain.Invoice) {
	t.Helper()
	if inv.Number == "" {
		inv.Number = fmt.Sprintf("INV-%d", inv.ID)
	}
	if inv.Currency == "" {
		inv.Currency = "USD"
	}
	if inv.TotalAmount == 0 {
		inv.TotalAmount = inv.Balance
	}
	inv.CreatedAt = sweepNow
	inv.UpdatedAt = sweepNow
	if err := db.Create(&inv).Error; err != nil {
		t.Fatalf("insert invoice: %v", err)
	}
}

func loadInvoice(t *testing.T, db *gorm.DB, id snowflake.ID) invoicedomain.Invoice {
	t.Helper()
	var invoice invoicedomain.Invoice
	if err := db.First(&invoice, "id = ?", id).Error; err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	return invoice
}

func countEvents(t *testing.T, db *gorm.DB, eventType string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&events.BillingEvent{}).Where("event_type = ?", eventType).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func TestSchedulePassUsesIssueDelay(t *testing.T) {
	db := setupSweepTestDB(t)
	w := newSweepWorker(t, db)
	insertSweepCustomer(t, db, 10, 1, "offline")
	insertSweepInvoice(t, db, invoicedomain.Invoice{
		ID:             100,
		OrgID:          1,
		CustomerID:     10,
		Status:         invoicedomain.InvoiceStatusOpen,
		AutopayEnabled: true,
		Balance:        5000,
		IssueDate:      sweepNow,
	})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	invoice := loadInvoice(t, db, 100)
	if invoice.NextPaymentAttempt == nil {
		t.Fatalf("expected next attempt to be scheduled")
	}
	want := sweepNow.Add(24 * time.Hour)
	if !invoice.NextPaymentAttempt.UTC().Equal(want) {
		t.Fatalf("expected %v, got %v", want, invoice.NextPaymentAttempt.UTC())
	}
	if got := countEvents(t, db, events.TypeAutopayScheduled); got != 1 {
		t.Fatalf("expected 1 scheduled event, got %d", got)
	}
	if invoice.Status != invoicedomain.InvoiceStatusOpen || invoice.Balance != 5000 {
		t.Fatalf("invoice must not be charged before its attempt time")
	}
}

func TestSchedulePassQueuesOverdueInvoice(t *testing.T) {
	db := setupSweepTestDB(t)
	w := newSweepWorker(t, db)
	insertSweepCustomer(t, db, 10, 1, "offline")
	insertSweepInvoice(t, db, invoicedomain.Invoice{
		ID:             100,
		OrgID:          1,
		CustomerID:     10,
		Status:         invoicedomain.InvoiceStatusOpen,
		AutopayEnabled: true,
		Balance:        5000,
		IssueDate:      sweepNow.Add(-10 * 24 * time.Hour),
	})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	invoice := loadInvoice(t, db, 100)
	if invoice.NextPaymentAttempt == nil {
		t.Fatalf("expected next attempt to be scheduled")
	}
	want := sweepNow.Add(autopaydomain.ImminentBuffer)
	if !invoice.NextPaymentAttempt.UTC().Equal(want) {
		t.Fatalf("expected %v, got %v", want, invoice.NextPaymentAttempt.UTC())
	}
}

func TestSchedulePassHonorsCompanySettings(t *testing.T) {
	db := setupSweepTestDB(t)
	w := newSweepWorker(t, db)
	insertSweepCustomer(t, db, 10, 1, "offline")
	if err := db.Exec(
		`INSERT INTO autopay_settings (org_id, delay_days, retry_offsets, updated_at)
		 VALUES (?, ?, ?, ?)`,
		1, 3, `[2, 4]`, sweepNow,
	).Error; err != nil {
		t.Fatalf("insert settings: %v", err)
	}
	insertSweepInvoice(t, db, invoicedomain.Invoice{
		ID:             100,
		OrgID:          1,
		CustomerID:     10,
		Status:         invoicedomain.InvoiceStatusOpen,
		AutopayEnabled: true,
		Balance:        5000,
		IssueDate:      sweepNow,
	})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	invoice := loadInvoice(t, db, 100)
	want := sweepNow.Add(3 * 24 * time.Hour)
	if invoice.NextPaymentAttempt == nil || !invoice.NextPaymentAttempt.UTC().Equal(want) {
		t.Fatalf("expected %v, got %v", want, invoice.NextPaymentAttempt)
	}
}

func TestSchedulePassFollowsPlanTiming(t *testing.T) {
	db := setupSweepTestDB(t)
	w := newSweepWorker(t, db)
	insertSweepCustomer(t, db, 10, 1, "offline")

	planID := snowflake.ID(900)
	if err := db.Create(&paymentplandomain.PaymentPlan{
		ID:        planID,
		OrgID:     1,
		InvoiceID: 100,
		Status:    paymentplandomain.PlanStatusActive,
		CreatedAt: sweepNow,
		UpdatedAt: sweepNow,
	}).Error; err != nil {
		t.Fatalf("insert plan: %v", err)
	}
	due := sweepNow.Add(5 * 24 * time.Hour)
	if err := db.Create(&paymentplandomain.Installment{
		ID:        901,
		OrgID:     1,
		PlanID:    planID,
		Position:  0,
		DueDate:   due,
		Amount:    2000,
		Balance:   2000,
		CreatedAt: sweepNow,
		UpdatedAt: sweepNow,
	}).Error; err != nil {
		t.Fatalf("insert installment: %v", err)
	}
	insertSweepInvoice(t, db, invoicedomain.Invoice{
		ID:             100,
		OrgID:          1,
		CustomerID:     10,
		Status:         invoicedomain.InvoiceStatusOpen,
		AutopayEnabled: true,
		Balance:        5000,
		IssueDate:      sweepNow.Add(-48 * time.Hour),
		PaymentPlanID:  &planID,
	})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	invoice := loadInvoice(t, db, 100)
	if invoice.NextPaymentAttempt == nil || !invoice.NextPaymentAttempt.UTC().Equal(due) {
		t.Fatalf("expected plan due %v, got %v", due, invoice.NextPaymentAttempt)
	}
}

func TestChargePassCollectsDueInvoice(t *testing.T) {
	db := setupSweepTestDB(t)
	w := newSweepWorker(t, db)
	insertSweepCustomer(t, db, 10, 1, "offline")
	attemptAt := sweepNow.Add(-time.Hour)
	insertSweepInvoice(t, db, invoicedomain.Invoice{
		ID:                 100,
		OrgID:              1,
		CustomerID:         10,
		Status:             invoicedomain.InvoiceStatusOpen,
		AutopayEnabled:     true,
		Balance:            5000,
		IssueDate:          sweepNow.Add(-72 * time.Hour),
		NextPaymentAttempt: &attemptAt,
	})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	invoice := loadInvoice(t, db, 100)
	if invoice.Status != invoicedomain.InvoiceStatusPaid || invoice.Balance != 0 {
		t.Fatalf("expected PAID/0, got %s/%d", invoice.Status, invoice.Balance)
	}
	if invoice.NextPaymentAttempt != nil || invoice.ProcessingStatus != "" || invoice.AttemptCount != 0 {
		t.Fatalf("expected attempt bookkeeping cleared, got %+v", invoice)
	}
	if got := countEvents(t, db, events.TypePaymentApplied); got != 1 {
		t.Fatalf("expected 1 payment.applied event, got %d", got)
	}
}

func TestChargeFailureBooksRetry(t *testing.T) {
	db := setupSweepTestDB(t)
	w := newSweepWorker(t, db)
	insertSweepCustomer(t, db, 10, 1, "declining")
	attemptAt := sweepNow.Add(-time.Hour)
	insertSweepInvoice(t, db, invoicedomain.Invoice{
		ID:                 100,
		OrgID:              1,
		CustomerID:         10,
		Status:             invoicedomain.InvoiceStatusOpen,
		AutopayEnabled:     true,
		Balance:            5000,
		IssueDate:          sweepNow.Add(-72 * time.Hour),
		NextPaymentAttempt: &attemptAt,
	})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	invoice := loadInvoice(t, db, 100)
	if invoice.Status != invoicedomain.InvoiceStatusOpen || invoice.Balance != 5000 {
		t.Fatalf("declined invoice must keep its balance, got %s/%d", invoice.Status, invoice.Balance)
	}
	if invoice.AttemptCount != 1 {
		t.Fatalf("expected attempt count 1, got %d", invoice.AttemptCount)
	}
	want := attemptAt.Add(24 * time.Hour)
	if invoice.NextPaymentAttempt == nil || !invoice.NextPaymentAttempt.UTC().Equal(want) {
		t.Fatalf("expected retry at %v, got %v", want, invoice.NextPaymentAttempt)
	}
	if invoice.ProcessingStatus != "" {
		t.Fatalf("expected claim released, got %q", invoice.ProcessingStatus)
	}
	if got := countEvents(t, db, events.TypeAutopayRetried); got != 1 {
		t.Fatalf("expected 1 retried event, got %d", got)
	}
}

func TestChargeFailureExhaustsSchedule(t *testing.T) {
	db := setupSweepTestDB(t)
	w := newSweepWorker(t, db)
	insertSweepCustomer(t, db, 10, 1, "declining")
	attemptAt := sweepNow.Add(-time.Hour)
	insertSweepInvoice(t, db, invoicedomain.Invoice{
		ID:                 100,
		OrgID:              1,
		CustomerID:         10,
		Status:             invoicedomain.InvoiceStatusOpen,
		AutopayEnabled:     true,
		Balance:            5000,
		IssueDate:          sweepNow.Add(-30 * 24 * time.Hour),
		NextPaymentAttempt: &attemptAt,
		AttemptCount:       3,
	})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	invoice := loadInvoice(t, db, 100)
	if invoice.AttemptCount != 4 {
		t.Fatalf("expected attempt count 4, got %d", invoice.AttemptCount)
	}
	if invoice.NextPaymentAttempt != nil {
		t.Fatalf("expected no further attempts, got %v", invoice.NextPaymentAttempt)
	}
	if got := countEvents(t, db, events.TypeAutopayExhausted); got != 1 {
		t.Fatalf("expected 1 exhausted event, got %d", got)
	}

	var auditCount int64
	if err := db.Model(&auditdomain.AuditLog{}).Where("action = ?", "autopay.exhausted").Count(&auditCount).Error; err != nil {
		t.Fatalf("count audit logs: %v", err)
	}
	if auditCount != 1 {
		t.Fatalf("expected exhaustion audit entry, got %d", auditCount)
	}
}

func TestChargeFailureRejectsInvalidFallbackSchedule(t *testing.T) {
	db := setupSweepTestDB(t)
	w := newSweepWorker(t, db)
	w.cfg.DefaultRetryOffsets = []int{5, 3, 1}
	insertSweepCustomer(t, db, 10, 1, "declining")
	attemptAt := sweepNow.Add(-time.Hour)
	insertSweepInvoice(t, db, invoicedomain.Invoice{
		ID:                 100,
		OrgID:              1,
		CustomerID:         10,
		Status:             invoicedomain.InvoiceStatusOpen,
		AutopayEnabled:     true,
		Balance:            5000,
		IssueDate:          sweepNow.Add(-72 * time.Hour),
		NextPaymentAttempt: &attemptAt,
		AttemptCount:       2,
	})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	invoice := loadInvoice(t, db, 100)
	if invoice.NextPaymentAttempt != nil {
		t.Fatalf("a non-increasing fallback schedule must not book a retry, got %v", invoice.NextPaymentAttempt)
	}
	if invoice.AttemptCount != 2 {
		t.Fatalf("expected attempt count unchanged, got %d", invoice.AttemptCount)
	}
	if invoice.ProcessingStatus != "" {
		t.Fatalf("expected claim released, got %q", invoice.ProcessingStatus)
	}
	if got := countEvents(t, db, events.TypeAutopayRetried); got != 0 {
		t.Fatalf("expected no retried event, got %d", got)
	}
}

func TestSweepSkipsDisabledAndDraftInvoices(t *testing.T) {
	db := setupSweepTestDB(t)
	w := newSweepWorker(t, db)
	insertSweepCustomer(t, db, 10, 1, "offline")
	insertSweepInvoice(t, db, invoicedomain.Invoice{
		ID:         100,
		OrgID:      1,
		CustomerID: 10,
		Status:     invoicedomain.InvoiceStatusOpen,
		Balance:    5000,
		IssueDate:  sweepNow,
	})
	insertSweepInvoice(t, db, invoicedomain.Invoice{
		ID:             101,
		OrgID:          1,
		CustomerID:     10,
		Status:         invoicedomain.InvoiceStatusDraft,
		AutopayEnabled: true,
		Balance:        5000,
		IssueDate:      sweepNow,
	})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	for _, id := range []snowflake.ID{100, 101} {
		invoice := loadInvoice(t, db, id)
		if invoice.NextPaymentAttempt != nil {
			t.Fatalf("invoice %d must not be scheduled", id)
		}
	}
}
