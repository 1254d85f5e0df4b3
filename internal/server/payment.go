package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/openledger/payline/internal/authorization"
	paymentdomain "github.com/openledger/payline/internal/payment/domain"
)

type applyPaymentRequest struct {
	CustomerID string `json:"customer_id"`
	Provider   string `json:"provider"`
	Currency   string `json:"currency"`
	Invoices   []struct {
		InvoiceID string `json:"invoice_id"`
		Amount    int64  `json:"amount"`
	} `json:"invoices"`
	CreditNotes []struct {
		CreditNoteID string `json:"credit_note_id"`
		Amount       int64  `json:"amount"`
	} `json:"credit_notes"`
	AppliedCredit int64 `json:"applied_credit"`
	Overpayment   int64 `json:"overpayment"`
}

// ApplyPayment collects a manually submitted payment form.
func (s *Server) ApplyPayment(c *gin.Context) {
	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeActor(c, authorization.ObjectPayment, authorization.ActionPaymentApply); err != nil {
		AbortWithError(c, err)
		return
	}

	var req applyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := parseSnowflake(req.CustomerID)
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer id"))
		return
	}

	form := paymentdomain.ApplyPaymentRequest{
		OrgID:         orgID,
		CustomerID:    customerID,
		Provider:      strings.TrimSpace(req.Provider),
		Currency:      strings.TrimSpace(req.Currency),
		Source:        paymentdomain.PaymentSourceManual,
		AppliedCredit: req.AppliedCredit,
		Overpayment:   req.Overpayment,
	}
	for _, selection := range req.Invoices {
		invoiceID, err := parseSnowflake(selection.InvoiceID)
		if err != nil {
			AbortWithError(c, newValidationError("invoices", "invalid_invoice_id", "invalid invoice id"))
			return
		}
		form.Invoices = append(form.Invoices, paymentdomain.InvoicePayment{
			InvoiceID: invoiceID,
			Amount:    selection.Amount,
		})
	}
	for _, selection := range req.CreditNotes {
		creditNoteID, err := parseSnowflake(selection.CreditNoteID)
		if err != nil {
			AbortWithError(c, newValidationError("credit_notes", "invalid_credit_note_id", "invalid credit note id"))
			return
		}
		form.CreditNotes = append(form.CreditNotes, paymentdomain.CreditNoteApplication{
			CreditNoteID: creditNoteID,
			Amount:       selection.Amount,
		})
	}

	payment, err := s.paymentSvc.ApplyPayment(c.Request.Context(), form)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

// ListPaymentApplications returns a payment's ordered allocation trail.
func (s *Server) ListPaymentApplications(c *gin.Context) {
	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	paymentID, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_payment_id", "invalid payment id"))
		return
	}

	applications, err := s.paymentRepo.ListApplications(c.Request.Context(), s.db, orgID, paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": applications})
}
