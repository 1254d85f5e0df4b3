package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/openledger/payline/internal/audit/domain"
	"github.com/openledger/payline/internal/events"
	ledgerdomain "github.com/openledger/payline/internal/ledger/domain"
	"github.com/openledger/payline/internal/payment/adapters"
	paymentdomain "github.com/openledger/payline/internal/payment/domain"
	paymentplandomain "github.com/openledger/payline/internal/paymentplan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	LedgerSvc ledgerdomain.Service
	AuditSvc  auditdomain.Service
	Repo      paymentdomain.Repository
	Adapters  *adapters.Registry
	Outbox    *events.Outbox
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	ledgerSvc ledgerdomain.Service
	auditSvc  auditdomain.Service
	repo      paymentdomain.Repository
	adapters  *adapters.Registry
	outbox    *events.Outbox
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.service"),
		genID:     p.GenID,
		ledgerSvc: p.LedgerSvc,
		auditSvc:  p.AuditSvc,
		repo:      p.Repo,
		adapters:  p.Adapters,
		outbox:    p.Outbox,
	}
}

type customerRow struct {
	ID            snowflake.ID
	CreditBalance int64
}

type invoiceRow struct {
	ID            snowflake.ID
	CustomerID    snowflake.ID
	Status        string
	Currency      string
	Balance       int64
	PaymentPlanID *snowflake.ID
}

type creditNoteRow struct {
	ID         snowflake.ID
	CustomerID snowflake.ID
	Currency   string
	Balance    int64
	VoidedAt   *time.Time
}

// splitTotals aggregates emitted splits by kind. All balance bookkeeping is
// driven by these, never by the raw request, so persisted state always
// matches the audit trail.
type splitTotals struct {
	charges       int64
	noteConsumed  int64
	creditApplied int64
	issuance      int64
	byInvoice     map[snowflake.ID]int64
	byCreditNote  map[snowflake.ID]int64
}

func (s *Service) ApplyPayment(ctx context.Context, req paymentdomain.ApplyPaymentRequest) (*paymentdomain.Payment, error) {
	if req.OrgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}
	if req.CustomerID == 0 {
		return nil, paymentdomain.ErrInvalidCustomer
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, paymentdomain.ErrInvalidCurrency
	}

	items := req.LineItems()
	if len(items) == 0 {
		return nil, paymentdomain.ErrEmptyPaymentForm
	}

	splits, net, err := paymentdomain.Allocate(items)
	if err != nil {
		return nil, err
	}
	if net < 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	var gateway paymentdomain.GatewayAdapter
	if net > 0 {
		if provider == "" {
			return nil, paymentdomain.ErrInvalidProvider
		}
		gateway, err = s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
			OrgID:    req.OrgID,
			Provider: provider,
		})
		if err != nil {
			return nil, err
		}
	}

	source := req.Source
	if source == "" {
		source = paymentdomain.PaymentSourceManual
	}

	totals := tallySplits(splits)
	now := time.Now().UTC()
	payment := &paymentdomain.Payment{
		ID:         s.genID.Generate(),
		OrgID:      req.OrgID,
		CustomerID: req.CustomerID,
		Provider:   provider,
		Source:     source,
		Amount:     net,
		Currency:   currency,
		Metadata: datatypes.JSONMap{
			"charged_amount": totals.charges,
			"issued_credit":  totals.issuance,
		},
		CreatedAt: now,
	}

	// Row locks are held for the whole read -> decide -> charge -> persist
	// span so no second attempt can interleave on the same invoice.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.lockCustomer(ctx, tx, req.OrgID, req.CustomerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return paymentdomain.ErrInvalidCustomer
		}
		if totals.creditApplied > customer.CreditBalance {
			return paymentdomain.ErrInsufficientCredit
		}

		invoiceRows, err := s.lockInvoices(ctx, tx, req, currency, totals)
		if err != nil {
			return err
		}
		if err := s.consumeCreditNotes(ctx, tx, req.OrgID, req.CustomerID, currency, totals, now); err != nil {
			return err
		}

		if gateway != nil {
			if err := gateway.Charge(ctx, paymentdomain.ChargeRequest{
				OrgID:      req.OrgID,
				CustomerID: req.CustomerID,
				PaymentID:  payment.ID,
				Amount:     net,
				Currency:   currency,
			}); err != nil {
				return err
			}
		}

		if err := s.settleInvoices(ctx, tx, req.OrgID, invoiceRows, totals, now); err != nil {
			return err
		}

		creditDelta := totals.issuance - totals.creditApplied
		if creditDelta != 0 {
			if err := tx.WithContext(ctx).Exec(
				`UPDATE customers
				 SET credit_balance = credit_balance + ?, updated_at = ?
				 WHERE id = ? AND org_id = ?`,
				creditDelta,
				now,
				req.CustomerID,
				req.OrgID,
			).Error; err != nil {
				return err
			}
		}

		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}
		applications := buildApplications(s.genID, payment, splits, now)
		if err := s.repo.InsertApplications(ctx, tx, applications); err != nil {
			return err
		}
		payment.Applications = applications

		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrgID:     req.OrgID,
			Type:      events.TypePaymentApplied,
			DedupeKey: "payment:" + payment.ID.String(),
			Payload: map[string]any{
				"payment_id":  payment.ID.String(),
				"customer_id": req.CustomerID.String(),
				"amount":      net,
				"currency":    currency,
				"source":      string(source),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.postLedgerEntry(ctx, payment, totals); err != nil {
		// The payment is committed; a ledger gap is surfaced for repair
		// instead of unwinding collected money.
		s.log.Error("ledger entry failed for payment",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
	}

	s.writeAuditLog(ctx, payment, totals)

	return payment, nil
}

func (s *Service) ChargeInvoice(ctx context.Context, req paymentdomain.ChargeInvoiceRequest) (*paymentdomain.Payment, error) {
	if req.OrgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}
	if req.InvoiceID == 0 {
		return nil, paymentdomain.ErrInvoiceNotFound
	}

	var row invoiceRow
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, customer_id, status, currency, balance, payment_plan_id
		 FROM invoices
		 WHERE id = ? AND org_id = ?`,
		req.InvoiceID,
		req.OrgID,
	).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, paymentdomain.ErrInvoiceNotFound
	}
	if row.Status != "OPEN" || row.Balance <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	amount := row.Balance
	var installmentID snowflake.ID
	if row.PaymentPlanID != nil && *row.PaymentPlanID != 0 {
		instAmount, instID, err := s.firstUnpaidInstallment(ctx, req.OrgID, *row.PaymentPlanID)
		if err != nil {
			return nil, err
		}
		if instID == 0 {
			return nil, paymentdomain.ErrInvalidAmount
		}
		if instAmount < amount {
			amount = instAmount
		}
		installmentID = instID
	}

	provider, err := s.resolveProvider(ctx, req.OrgID, row.CustomerID)
	if err != nil {
		return nil, err
	}

	payment, err := s.ApplyPayment(ctx, paymentdomain.ApplyPaymentRequest{
		OrgID:      req.OrgID,
		CustomerID: row.CustomerID,
		Provider:   provider,
		Currency:   row.Currency,
		Source:     req.Source,
		Invoices: []paymentdomain.InvoicePayment{
			{InvoiceID: row.ID, Amount: amount},
		},
	})
	if err != nil {
		return nil, err
	}

	if installmentID != 0 {
		if err := s.settleInstallment(ctx, req.OrgID, *row.PaymentPlanID, installmentID, amount); err != nil {
			s.log.Error("installment bookkeeping failed",
				zap.String("invoice_id", row.ID.String()),
				zap.Error(err),
			)
		}
	}

	return payment, nil
}

func tallySplits(splits []paymentdomain.Split) splitTotals {
	totals := splitTotals{
		byInvoice:    make(map[snowflake.ID]int64),
		byCreditNote: make(map[snowflake.ID]int64),
	}
	for _, split := range splits {
		switch split.Kind {
		case paymentdomain.SplitKindInvoiceCharge:
			totals.charges += split.Amount
			totals.byInvoice[split.InvoiceID] += split.Amount
		case paymentdomain.SplitKindCreditNoteConsumption:
			totals.noteConsumed += split.Amount
			totals.byInvoice[split.InvoiceID] += split.Amount
			totals.byCreditNote[split.CreditNoteID] += split.Amount
		case paymentdomain.SplitKindAppliedCreditConsumption:
			totals.creditApplied += split.Amount
			totals.byInvoice[split.InvoiceID] += split.Amount
		case paymentdomain.SplitKindCreditIssuance:
			totals.issuance += split.Amount
		}
	}
	return totals
}

func buildApplications(genID *snowflake.Node, payment *paymentdomain.Payment, splits []paymentdomain.Split, now time.Time) []paymentdomain.PaymentApplication {
	applications := make([]paymentdomain.PaymentApplication, 0, len(splits))
	for i, split := range splits {
		application := paymentdomain.PaymentApplication{
			ID:        genID.Generate(),
			OrgID:     payment.OrgID,
			PaymentID: payment.ID,
			Position:  i,
			Kind:      split.Kind,
			Amount:    split.Amount,
			CreatedAt: now,
		}
		if split.InvoiceID != 0 {
			invoiceID := split.InvoiceID
			application.InvoiceID = &invoiceID
		}
		if split.CreditNoteID != 0 {
			creditNoteID := split.CreditNoteID
			application.CreditNoteID = &creditNoteID
		}
		applications = append(applications, application)
	}
	return applications
}

func (s *Service) lockCustomer(ctx context.Context, tx *gorm.DB, orgID, customerID snowflake.ID) (*customerRow, error) {
	var row customerRow
	err := tx.WithContext(ctx).Raw(
		`SELECT id, credit_balance
		 FROM customers
		 WHERE id = ? AND org_id = ?`+s.lockSuffix(),
		customerID,
		orgID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (s *Service) lockInvoices(
	ctx context.Context,
	tx *gorm.DB,
	req paymentdomain.ApplyPaymentRequest,
	currency string,
	totals splitTotals,
) ([]invoiceRow, error) {
	rows := make([]invoiceRow, 0, len(req.Invoices))
	for _, selection := range req.Invoices {
		var row invoiceRow
		err := tx.WithContext(ctx).Raw(
			`SELECT id, customer_id, status, currency, balance, payment_plan_id
			 FROM invoices
			 WHERE id = ? AND org_id = ?`+s.lockSuffix(),
			selection.InvoiceID,
			req.OrgID,
		).Scan(&row).Error
		if err != nil {
			return nil, err
		}
		if row.ID == 0 {
			return nil, paymentdomain.ErrInvoiceNotFound
		}
		if row.CustomerID != req.CustomerID {
			return nil, paymentdomain.ErrInvalidCustomer
		}
		if row.Status != "OPEN" {
			return nil, paymentdomain.ErrInvalidAmount
		}
		if row.Currency != currency {
			return nil, paymentdomain.ErrInvalidCurrency
		}
		if totals.byInvoice[row.ID] > row.Balance {
			return nil, paymentdomain.ErrInvalidAmount
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Service) consumeCreditNotes(
	ctx context.Context,
	tx *gorm.DB,
	orgID, customerID snowflake.ID,
	currency string,
	totals splitTotals,
	now time.Time,
) error {
	// Lock rows in ID order so concurrent payments over the same notes
	// cannot deadlock.
	noteIDs := make([]snowflake.ID, 0, len(totals.byCreditNote))
	for noteID := range totals.byCreditNote {
		noteIDs = append(noteIDs, noteID)
	}
	sort.Slice(noteIDs, func(i, j int) bool { return noteIDs[i] < noteIDs[j] })

	for _, noteID := range noteIDs {
		consumed := totals.byCreditNote[noteID]
		if consumed == 0 {
			continue
		}
		var row creditNoteRow
		err := tx.WithContext(ctx).Raw(
			`SELECT id, customer_id, currency, balance, voided_at
			 FROM credit_notes
			 WHERE id = ? AND org_id = ?`+s.lockSuffix(),
			noteID,
			orgID,
		).Scan(&row).Error
		if err != nil {
			return err
		}
		if row.ID == 0 || row.VoidedAt != nil {
			return paymentdomain.ErrCreditNoteNotFound
		}
		if row.CustomerID != customerID {
			return paymentdomain.ErrInvalidCustomer
		}
		if row.Currency != currency {
			return paymentdomain.ErrInvalidCurrency
		}
		if consumed > row.Balance {
			return paymentdomain.ErrInsufficientCredit
		}
		if err := tx.WithContext(ctx).Exec(
			`UPDATE credit_notes
			 SET balance = balance - ?, updated_at = ?
			 WHERE id = ? AND org_id = ?`,
			consumed,
			now,
			noteID,
			orgID,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) settleInvoices(
	ctx context.Context,
	tx *gorm.DB,
	orgID snowflake.ID,
	rows []invoiceRow,
	totals splitTotals,
	now time.Time,
) error {
	for _, row := range rows {
		applied := totals.byInvoice[row.ID]
		if applied == 0 {
			continue
		}
		remaining := row.Balance - applied
		if remaining == 0 {
			if err := tx.WithContext(ctx).Exec(
				`UPDATE invoices
				 SET balance = 0, status = 'PAID', paid_at = ?,
				     processing_status = '', next_payment_attempt = NULL,
				     attempt_count = 0, updated_at = ?
				 WHERE id = ? AND org_id = ?`,
				now,
				now,
				row.ID,
				orgID,
			).Error; err != nil {
				return err
			}
			continue
		}
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET balance = ?, processing_status = '', updated_at = ?
			 WHERE id = ? AND org_id = ?`,
			remaining,
			now,
			row.ID,
			orgID,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) postLedgerEntry(ctx context.Context, payment *paymentdomain.Payment, totals splitTotals) error {
	var lines []ledgerdomain.LedgerEntryLine

	appendLine := func(code, name string, direction ledgerdomain.LedgerEntryDirection, amount int64) error {
		if amount == 0 {
			return nil
		}
		accountID, err := s.ledgerSvc.EnsureAccount(ctx, payment.OrgID, code, name)
		if err != nil {
			return err
		}
		lines = append(lines, ledgerdomain.LedgerEntryLine{
			AccountID: accountID,
			Direction: direction,
			Amount:    amount,
		})
		return nil
	}

	if err := appendLine(ledgerdomain.AccountCodeCashClearing, "Cash / Clearing", ledgerdomain.LedgerEntryDirectionDebit, totals.charges+totals.issuance); err != nil {
		return err
	}
	if err := appendLine(ledgerdomain.AccountCodeCreditNotes, "Credit Notes", ledgerdomain.LedgerEntryDirectionDebit, totals.noteConsumed); err != nil {
		return err
	}
	if err := appendLine(ledgerdomain.AccountCodeCustomerCredit, "Customer Credit", ledgerdomain.LedgerEntryDirectionDebit, totals.creditApplied); err != nil {
		return err
	}
	if err := appendLine(ledgerdomain.AccountCodeAccountsReceivable, "Accounts Receivable", ledgerdomain.LedgerEntryDirectionCredit, totals.charges+totals.noteConsumed+totals.creditApplied); err != nil {
		return err
	}
	if err := appendLine(ledgerdomain.AccountCodeCustomerCredit, "Customer Credit", ledgerdomain.LedgerEntryDirectionCredit, totals.issuance); err != nil {
		return err
	}

	if len(lines) < 2 {
		return nil
	}
	return s.ledgerSvc.CreateEntry(
		ctx,
		payment.OrgID,
		ledgerdomain.SourceTypePayment,
		payment.ID,
		payment.Currency,
		payment.CreatedAt,
		lines,
	)
}

func (s *Service) writeAuditLog(ctx context.Context, payment *paymentdomain.Payment, totals splitTotals) {
	if s.auditSvc == nil {
		return
	}
	targetID := payment.ID.String()
	orgID := payment.OrgID
	metadata := map[string]any{
		"payment_id":     payment.ID.String(),
		"customer_id":    payment.CustomerID.String(),
		"amount":         payment.Amount,
		"currency":       payment.Currency,
		"source":         string(payment.Source),
		"charged_amount": totals.charges,
		"applied_credit": totals.creditApplied,
		"issued_credit":  totals.issuance,
	}
	if err := s.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeSystem), nil, "payment.applied", "payment", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("payment_id", targetID), zap.Error(err))
	}
}

func (s *Service) resolveProvider(ctx context.Context, orgID, customerID snowflake.ID) (string, error) {
	var provider string
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(default_provider_id, '')
		 FROM customers
		 WHERE id = ? AND org_id = ?`,
		customerID,
		orgID,
	).Scan(&provider).Error; err != nil {
		return "", err
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", paymentdomain.ErrProviderNotFound
	}
	return provider, nil
}

func (s *Service) firstUnpaidInstallment(ctx context.Context, orgID, planID snowflake.ID) (int64, snowflake.ID, error) {
	var plan struct {
		ID     snowflake.ID
		Status paymentplandomain.PlanStatus
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, status
		 FROM payment_plans
		 WHERE id = ? AND org_id = ?`,
		planID,
		orgID,
	).Scan(&plan).Error; err != nil {
		return 0, 0, err
	}
	if plan.ID == 0 || plan.Status != paymentplandomain.PlanStatusActive {
		return 0, 0, paymentplandomain.ErrPlanNotFound
	}

	var installment struct {
		ID      snowflake.ID
		Balance int64
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, balance
		 FROM payment_plan_installments
		 WHERE org_id = ? AND plan_id = ? AND balance > 0
		 ORDER BY position ASC
		 LIMIT 1`,
		orgID,
		planID,
	).Scan(&installment).Error; err != nil {
		return 0, 0, err
	}
	return installment.Balance, installment.ID, nil
}

func (s *Service) settleInstallment(ctx context.Context, orgID, planID, installmentID snowflake.ID, amount int64) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Exec(
			`UPDATE payment_plan_installments
			 SET balance = CASE WHEN balance > ? THEN balance - ? ELSE 0 END, updated_at = ?
			 WHERE id = ? AND org_id = ? AND plan_id = ?`,
			amount,
			amount,
			now,
			installmentID,
			orgID,
			planID,
		).Error; err != nil {
			return err
		}

		var open int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT COUNT(1)
			 FROM payment_plan_installments
			 WHERE org_id = ? AND plan_id = ? AND balance > 0`,
			orgID,
			planID,
		).Scan(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return nil
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE payment_plans
			 SET status = ?, updated_at = ?
			 WHERE id = ? AND org_id = ?`,
			paymentplandomain.PlanStatusCompleted,
			now,
			planID,
			orgID,
		).Error
	})
}

func (s *Service) lockSuffix() string {
	// SQLite (tests) has no row locks; its write transactions serialize.
	if s.db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}
