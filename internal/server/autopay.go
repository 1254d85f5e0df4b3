package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	autopaydomain "github.com/openledger/payline/internal/autopay/domain"
)

type previewInvoiceRequest struct {
	AutopayEnabled   bool       `json:"autopay_enabled"`
	Draft            bool       `json:"draft"`
	Closed           bool       `json:"closed"`
	Voided           bool       `json:"voided"`
	Paid             bool       `json:"paid"`
	ProcessingStatus string     `json:"processing_status"`
	IssueDate        time.Time  `json:"issue_date"`
	NextAttemptAt    *time.Time `json:"next_attempt_at,omitempty"`
	AttemptCount     int        `json:"attempt_count"`
}

type previewPlanRequest struct {
	Status       string `json:"status"`
	Installments []struct {
		DueDate time.Time `json:"due_date"`
		Balance int64     `json:"balance"`
	} `json:"installments"`
}

// PreviewAutopay evaluates the scheduling decision for a hypothetical
// invoice without persisting anything.
func (s *Server) PreviewAutopay(c *gin.Context) {
	var req struct {
		Invoice           previewInvoiceRequest `json:"invoice"`
		Plan              *previewPlanRequest   `json:"plan,omitempty"`
		CustomerDelayDays *int                  `json:"customer_delay_days,omitempty"`
		CompanyDelayDays  int                   `json:"company_delay_days"`
		Now               *time.Time            `json:"now,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	snapshot := autopaydomain.Invoice{
		AutopayEnabled:   req.Invoice.AutopayEnabled,
		Draft:            req.Invoice.Draft,
		Closed:           req.Invoice.Closed,
		Voided:           req.Invoice.Voided,
		Paid:             req.Invoice.Paid,
		ProcessingStatus: req.Invoice.ProcessingStatus,
		IssueDate:        req.Invoice.IssueDate,
		NextAttemptAt:    req.Invoice.NextAttemptAt,
		AttemptCount:     req.Invoice.AttemptCount,
	}

	var plan *autopaydomain.Plan
	if req.Plan != nil {
		plan = &autopaydomain.Plan{Status: autopaydomain.PlanStatus(req.Plan.Status)}
		for _, installment := range req.Plan.Installments {
			plan.Installments = append(plan.Installments, autopaydomain.Installment{
				DueDate: installment.DueDate,
				Balance: installment.Balance,
			})
		}
	}

	now := time.Now().UTC()
	if req.Now != nil {
		now = req.Now.UTC()
	}

	next := autopaydomain.NextAttempt(snapshot, plan, autopaydomain.DelayConfig{
		CustomerDelayDays: req.CustomerDelayDays,
		CompanyDelayDays:  req.CompanyDelayDays,
	}, now)

	c.JSON(http.StatusOK, gin.H{"next_attempt_at": next})
}

// PreviewAutopayRetry evaluates the post-failure retry decision for a given
// attempt history and offset schedule.
func (s *Server) PreviewAutopayRetry(c *gin.Context) {
	var req struct {
		LastAttemptAt time.Time `json:"last_attempt_at"`
		AttemptCount  int       `json:"attempt_count"`
		RetryOffsets  []float64 `json:"retry_offsets"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	offsets := autopaydomain.NormalizeOffsets(req.RetryOffsets)
	if !autopaydomain.ValidateNormalizedOffsets(offsets) {
		AbortWithError(c, autopaydomain.ErrInvalidRetryOffsets)
		return
	}

	next, err := autopaydomain.NextRetry(req.LastAttemptAt, req.AttemptCount, offsets)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"next_attempt_at": next,
		"exhausted":       next == nil,
	})
}
