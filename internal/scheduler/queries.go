package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	autopaydomain "github.com/openledger/payline/internal/autopay/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type sweepInvoice struct {
	ID                 snowflake.ID
	OrgID              snowflake.ID
	CustomerID         snowflake.ID
	Status             string
	ProcessingStatus   string
	AutopayEnabled     bool
	Balance            int64
	IssueDate          time.Time
	NextPaymentAttempt *time.Time
	AttemptCount       int
	PaymentPlanID      *snowflake.ID
	CustomerDelayDays  *int
}

const sweepInvoiceColumns = `
	i.id, i.org_id, i.customer_id, i.status, i.processing_status,
	i.autopay_enabled, i.balance, i.issue_date, i.next_payment_attempt,
	i.attempt_count, i.payment_plan_id, c.autopay_delay_days AS customer_delay_days`

func (w *Worker) fetchUnscheduled(ctx context.Context, tx *gorm.DB, limit int) ([]sweepInvoice, error) {
	var rows []sweepInvoice
	err := tx.WithContext(ctx).Raw(
		`SELECT `+sweepInvoiceColumns+`
		 FROM invoices i
		 JOIN customers c ON c.id = i.customer_id
		 WHERE i.autopay_enabled
		   AND i.status = 'OPEN'
		   AND i.balance > 0
		   AND i.processing_status = ''
		   AND i.next_payment_attempt IS NULL
		 ORDER BY i.id`+w.lockSuffix()+`
		 LIMIT ?`,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (w *Worker) fetchDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]sweepInvoice, error) {
	var rows []sweepInvoice
	err := tx.WithContext(ctx).Raw(
		`SELECT `+sweepInvoiceColumns+`
		 FROM invoices i
		 JOIN customers c ON c.id = i.customer_id
		 WHERE i.autopay_enabled
		   AND i.status = 'OPEN'
		   AND i.balance > 0
		   AND i.processing_status = ''
		   AND i.next_payment_attempt IS NOT NULL
		   AND i.next_payment_attempt <= ?
		 ORDER BY i.next_payment_attempt`+w.lockSuffix()+`
		 LIMIT ?`,
		now,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (w *Worker) markProcessing(ctx context.Context, tx *gorm.DB, row sweepInvoice) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET processing_status = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		autopaydomain.ProcessingStatusPending,
		w.clock.Now(),
		row.ID,
		row.OrgID,
	).Error
}

func (w *Worker) storeNextAttempt(ctx context.Context, tx *gorm.DB, row sweepInvoice, at time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET next_payment_attempt = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		at.UTC(),
		w.clock.Now(),
		row.ID,
		row.OrgID,
	).Error
}

func (w *Worker) clearAttempt(ctx context.Context, row sweepInvoice, resetCount bool) error {
	if resetCount {
		return w.db.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET next_payment_attempt = NULL, attempt_count = 0,
			     processing_status = '', updated_at = ?
			 WHERE id = ? AND org_id = ?`,
			w.clock.Now(),
			row.ID,
			row.OrgID,
		).Error
	}
	return w.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET next_payment_attempt = NULL, processing_status = '', updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		w.clock.Now(),
		row.ID,
		row.OrgID,
	).Error
}

func (w *Worker) fetchPlanSnapshot(ctx context.Context, tx *gorm.DB, orgID, planID snowflake.ID) (*autopaydomain.Plan, error) {
	var plan struct {
		ID     snowflake.ID
		Status string
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT id, status FROM payment_plans WHERE id = ? AND org_id = ?`,
		planID,
		orgID,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}

	var installments []struct {
		DueDate time.Time
		Balance int64
	}
	err = tx.WithContext(ctx).Raw(
		`SELECT due_date, balance
		 FROM payment_plan_installments
		 WHERE org_id = ? AND plan_id = ?
		 ORDER BY position ASC`,
		orgID,
		planID,
	).Scan(&installments).Error
	if err != nil {
		return nil, err
	}

	snapshot := &autopaydomain.Plan{Status: autopaydomain.PlanStatus(plan.Status)}
	for _, installment := range installments {
		snapshot.Installments = append(snapshot.Installments, autopaydomain.Installment{
			DueDate: installment.DueDate,
			Balance: installment.Balance,
		})
	}
	return snapshot, nil
}

func (w *Worker) fetchPlanOffsets(ctx context.Context, orgID, planID snowflake.ID) ([]int, error) {
	var row struct {
		RetryOffsets datatypes.JSON
	}
	err := w.db.WithContext(ctx).Raw(
		`SELECT retry_offsets
		 FROM payment_plans
		 WHERE id = ? AND org_id = ?`,
		planID,
		orgID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if len(row.RetryOffsets) == 0 {
		return nil, nil
	}
	var offsets []int
	if err := json.Unmarshal(row.RetryOffsets, &offsets); err != nil {
		return nil, nil
	}
	return offsets, nil
}

func (w *Worker) lockSuffix() string {
	// SQLite (tests) has no row locks; its write transactions serialize.
	if w.db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE SKIP LOCKED"
}
