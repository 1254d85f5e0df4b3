package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/openledger/payline/internal/audit/domain"
	autopaydomain "github.com/openledger/payline/internal/autopay/domain"
	"github.com/openledger/payline/internal/cache"
	"github.com/openledger/payline/internal/clock"
	"github.com/openledger/payline/internal/config"
	"github.com/openledger/payline/internal/events"
	paymentdomain "github.com/openledger/payline/internal/payment/domain"
	settingsdomain "github.com/openledger/payline/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const settingsCacheTTL = time.Minute

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Cfg         config.Config
	PaymentSvc  paymentdomain.Service
	SettingsSvc settingsdomain.Service
	AuditSvc    auditdomain.Service
	Outbox      *events.Outbox
}

// Worker runs the AutoPay sweep: one pass assigns attempt timestamps to
// chargeable invoices that have none, a second pass charges invoices whose
// attempt time has arrived and reschedules or exhausts failures.
type Worker struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	cfg         config.AutopayConfig
	paymentSvc  paymentdomain.Service
	settingsSvc settingsdomain.Service
	auditSvc    auditdomain.Service
	outbox      *events.Outbox

	settingsCache *cache.TTLCache[snowflake.ID, companySettings]
}

type companySettings struct {
	DelayDays int
	Offsets   []int
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:            p.DB,
		log:           p.Log.Named("autopay.sweep"),
		clock:         p.Clock,
		cfg:           p.Cfg.Autopay,
		paymentSvc:    p.PaymentSvc,
		settingsSvc:   p.SettingsSvc,
		auditSvc:      p.AuditSvc,
		outbox:        p.Outbox,
		settingsCache: cache.NewTTLCache[snowflake.ID, companySettings](),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("autopay sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes one full sweep cycle.
func (w *Worker) RunOnce(ctx context.Context) error {
	scheduled, scheduleErr := w.schedulePass(ctx)
	charged, chargeErr := w.chargePass(ctx)
	if scheduled > 0 || charged > 0 {
		w.log.Info("autopay sweep",
			zap.Int("scheduled", scheduled),
			zap.Int("charged", charged),
		)
	}
	return errors.Join(scheduleErr, chargeErr)
}

// schedulePass assigns next_payment_attempt to chargeable invoices that have
// none yet.
func (w *Worker) schedulePass(ctx context.Context) (int, error) {
	scheduled := 0
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := w.fetchUnscheduled(ctx, tx, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		now := w.clock.Now()
		for _, row := range rows {
			next, err := w.decideNextAttempt(ctx, tx, row, now)
			if err != nil {
				return err
			}
			if next == nil {
				continue
			}
			if err := w.storeNextAttempt(ctx, tx, row, *next); err != nil {
				return err
			}
			if err := w.publishScheduled(ctx, tx, row, *next); err != nil {
				return err
			}
			scheduled++
		}
		return nil
	})
	return scheduled, err
}

func (w *Worker) decideNextAttempt(ctx context.Context, tx *gorm.DB, row sweepInvoice, now time.Time) (*time.Time, error) {
	snapshot := autopaydomain.Invoice{
		ID:               row.ID,
		AutopayEnabled:   row.AutopayEnabled,
		Draft:            row.Status == "DRAFT",
		Closed:           row.Status == "CLOSED",
		Voided:           row.Status == "VOID",
		Paid:             row.Status == "PAID" || row.Balance <= 0,
		ProcessingStatus: row.ProcessingStatus,
		IssueDate:        row.IssueDate,
		NextAttemptAt:    row.NextPaymentAttempt,
		AttemptCount:     row.AttemptCount,
	}

	var plan *autopaydomain.Plan
	if row.PaymentPlanID != nil && *row.PaymentPlanID != 0 {
		loaded, err := w.fetchPlanSnapshot(ctx, tx, row.OrgID, *row.PaymentPlanID)
		if err != nil {
			return nil, err
		}
		plan = loaded
	}

	company := w.companySettings(ctx, row.OrgID)
	delays := autopaydomain.DelayConfig{
		CustomerDelayDays: row.CustomerDelayDays,
		CompanyDelayDays:  company.DelayDays,
	}
	return autopaydomain.NextAttempt(snapshot, plan, delays, now), nil
}

// chargePass claims due invoices, then runs the charges outside the claim
// transaction so one slow gateway call does not hold row locks across the
// whole batch.
func (w *Worker) chargePass(ctx context.Context) (int, error) {
	var due []sweepInvoice
	now := w.clock.Now()
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := w.fetchDue(ctx, tx, now, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := w.markProcessing(ctx, tx, row); err != nil {
				return err
			}
		}
		due = rows
		return nil
	})
	if err != nil {
		return 0, err
	}

	charged := 0
	var errs []error
	for _, row := range due {
		if err := w.chargeOne(ctx, row); err != nil {
			errs = append(errs, err)
			continue
		}
		charged++
	}
	return charged, errors.Join(errs...)
}

func (w *Worker) chargeOne(ctx context.Context, row sweepInvoice) error {
	_, err := w.paymentSvc.ChargeInvoice(ctx, paymentdomain.ChargeInvoiceRequest{
		OrgID:     row.OrgID,
		InvoiceID: row.ID,
		Source:    paymentdomain.PaymentSourceAutopay,
	})
	if err == nil {
		// A successful charge clears the claim; drop the consumed attempt
		// time so a partially paid plan invoice gets rescheduled from its
		// next unpaid installment.
		return w.clearAttempt(ctx, row, true)
	}

	w.log.Info("autopay charge failed",
		zap.String("invoice_id", row.ID.String()),
		zap.Error(err),
	)
	return w.handleFailure(ctx, row, err)
}

// handleFailure bumps the attempt count and either books the next retry or
// declares the schedule exhausted.
func (w *Worker) handleFailure(ctx context.Context, row sweepInvoice, cause error) error {
	attemptCount := row.AttemptCount + 1
	snapshot := autopaydomain.Invoice{
		ID:            row.ID,
		NextAttemptAt: row.NextPaymentAttempt,
		AttemptCount:  attemptCount,
	}

	offsets, err := w.resolveOffsets(ctx, row)
	if err != nil {
		if errors.Is(err, autopaydomain.ErrInvalidRetryOffsets) {
			w.log.Warn("no valid retry schedule, releasing claim",
				zap.String("invoice_id", row.ID.String()),
			)
			return w.clearAttempt(ctx, row, false)
		}
		return err
	}

	next, err := autopaydomain.NextAttemptAfterFailure(snapshot, offsets)
	if err != nil {
		w.log.Warn("retry evaluation failed",
			zap.String("invoice_id", row.ID.String()),
			zap.Error(err),
		)
		return w.clearAttempt(ctx, row, false)
	}

	now := w.clock.Now()
	if next == nil {
		if err := w.db.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET attempt_count = ?, next_payment_attempt = NULL,
			     processing_status = '', updated_at = ?
			 WHERE id = ? AND org_id = ?`,
			attemptCount,
			now,
			row.ID,
			row.OrgID,
		).Error; err != nil {
			return err
		}
		return w.publishExhausted(ctx, row, attemptCount, cause)
	}

	if err := w.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET attempt_count = ?, next_payment_attempt = ?,
		     processing_status = '', updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		attemptCount,
		next.UTC(),
		now,
		row.ID,
		row.OrgID,
	).Error; err != nil {
		return err
	}
	return w.publishRetried(ctx, row, attemptCount, next.UTC())
}

// resolveOffsets picks the retry schedule: plan override, then company
// settings, then the configured default. Invalid stored schedules fall
// through instead of failing the sweep; the configured default gets the
// same check so a bad schedule is rejected rather than consumed.
func (w *Worker) resolveOffsets(ctx context.Context, row sweepInvoice) ([]int, error) {
	if row.PaymentPlanID != nil && *row.PaymentPlanID != 0 {
		offsets, err := w.fetchPlanOffsets(ctx, row.OrgID, *row.PaymentPlanID)
		if err != nil {
			return nil, err
		}
		if autopaydomain.ValidateNormalizedOffsets(offsets) {
			return offsets, nil
		}
	}

	company := w.companySettings(ctx, row.OrgID)
	if autopaydomain.ValidateNormalizedOffsets(company.Offsets) {
		return company.Offsets, nil
	}
	if autopaydomain.ValidateNormalizedOffsets(w.cfg.DefaultRetryOffsets) {
		return w.cfg.DefaultRetryOffsets, nil
	}
	return nil, autopaydomain.ErrInvalidRetryOffsets
}

func (w *Worker) companySettings(ctx context.Context, orgID snowflake.ID) companySettings {
	if cached, ok := w.settingsCache.Get(orgID); ok {
		return cached
	}

	resolved := companySettings{
		DelayDays: w.cfg.DefaultDelayDays,
		Offsets:   w.cfg.DefaultRetryOffsets,
	}
	stored, err := w.settingsSvc.Get(ctx, orgID)
	switch {
	case err == nil:
		resolved.DelayDays = stored.DelayDays
		if offsets, err := stored.Offsets(); err == nil && len(offsets) > 0 {
			resolved.Offsets = offsets
		}
	case errors.Is(err, settingsdomain.ErrSettingsNotFound):
	default:
		w.log.Warn("autopay settings lookup failed",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}

	w.settingsCache.Set(orgID, resolved, settingsCacheTTL)
	return resolved
}

func (w *Worker) publishScheduled(ctx context.Context, tx *gorm.DB, row sweepInvoice, at time.Time) error {
	return w.outbox.PublishTx(ctx, tx, events.Event{
		OrgID:     row.OrgID,
		Type:      events.TypeAutopayScheduled,
		DedupeKey: "autopay:scheduled:" + row.ID.String() + ":" + at.UTC().Format(time.RFC3339),
		Payload: map[string]any{
			"invoice_id": row.ID.String(),
			"attempt_at": at.UTC().Format(time.RFC3339),
		},
	})
}

func (w *Worker) publishRetried(ctx context.Context, row sweepInvoice, attemptCount int, at time.Time) error {
	return w.outbox.Publish(ctx, events.Event{
		OrgID:     row.OrgID,
		Type:      events.TypeAutopayRetried,
		DedupeKey: "autopay:retried:" + row.ID.String() + ":" + at.Format(time.RFC3339),
		Payload: map[string]any{
			"invoice_id":    row.ID.String(),
			"attempt_count": attemptCount,
			"attempt_at":    at.Format(time.RFC3339),
		},
	})
}

func (w *Worker) publishExhausted(ctx context.Context, row sweepInvoice, attemptCount int, cause error) error {
	if err := w.outbox.Publish(ctx, events.Event{
		OrgID:     row.OrgID,
		Type:      events.TypeAutopayExhausted,
		DedupeKey: "autopay:exhausted:" + row.ID.String(),
		Payload: map[string]any{
			"invoice_id":    row.ID.String(),
			"attempt_count": attemptCount,
			"last_error":    cause.Error(),
		},
	}); err != nil {
		return err
	}

	targetID := row.ID.String()
	orgID := row.OrgID
	return w.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeSystem), nil,
		"autopay.exhausted", "invoice", &targetID, map[string]any{
			"attempt_count": attemptCount,
			"last_error":    cause.Error(),
		})
}
