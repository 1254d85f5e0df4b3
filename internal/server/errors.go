package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openledger/payline/internal/authorization"
	autopaydomain "github.com/openledger/payline/internal/autopay/domain"
	paymentdomain "github.com/openledger/payline/internal/payment/domain"
	settingsdomain "github.com/openledger/payline/internal/settings/domain"
)

// APIError is the wire shape of a handled failure.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string { return e.Message }

var (
	ErrNotFound = &APIError{
		Status:  http.StatusNotFound,
		Code:    "not_found",
		Message: "resource not found",
	}
	ErrUnauthorized = &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "unauthorized",
		Message: "missing or invalid credentials",
	}
	ErrForbidden = &APIError{
		Status:  http.StatusForbidden,
		Code:    "forbidden",
		Message: "operation not allowed",
	}
	ErrTooManyRequests = &APIError{
		Status:  http.StatusTooManyRequests,
		Code:    "rate_limited",
		Message: "too many requests",
	}
	ErrServiceUnavailable = &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "service_unavailable",
		Message: "service unavailable",
	}
)

func invalidRequestError() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "invalid_request",
		Message: "malformed request body",
	}
}

func newValidationError(field, code, message string) *APIError {
	return &APIError{
		Status:  http.StatusUnprocessableEntity,
		Code:    code,
		Message: message,
		Field:   field,
	}
}

// AbortWithError translates service errors into API responses. Unrecognized
// errors become an opaque 500 so internals never leak.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
		return
	}

	if status, code := domainStatus(err); status != 0 {
		c.AbortWithStatusJSON(status, gin.H{"error": &APIError{
			Status:  status,
			Code:    code,
			Message: err.Error(),
		}})
		return
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "internal error",
	}})
}

func domainStatus(err error) (int, string) {
	switch {
	case errors.Is(err, paymentdomain.ErrInvoiceNotFound),
		errors.Is(err, paymentdomain.ErrCreditNoteNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, settingsdomain.ErrSettingsNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, paymentdomain.ErrChargeDeclined):
		return http.StatusPaymentRequired, "charge_declined"
	case errors.Is(err, paymentdomain.ErrInsufficientCredit):
		return http.StatusConflict, "insufficient_credit"
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case isValidationError(err):
		return http.StatusUnprocessableEntity, err.Error()
	}
	return 0, ""
}

func isValidationError(err error) bool {
	for _, candidate := range []error{
		paymentdomain.ErrInvalidOrganization,
		paymentdomain.ErrInvalidCustomer,
		paymentdomain.ErrInvalidCurrency,
		paymentdomain.ErrInvalidAmount,
		paymentdomain.ErrInvalidProvider,
		paymentdomain.ErrEmptyPaymentForm,
		paymentdomain.ErrNegativeInvoiceAmount,
		paymentdomain.ErrPositiveCreditAmount,
		paymentdomain.ErrMissingInvoiceRef,
		paymentdomain.ErrMissingCreditNoteRef,
		paymentdomain.ErrUnexpectedDocumentRef,
		paymentdomain.ErrUnknownLineItemKind,
		autopaydomain.ErrInvalidRetryOffsets,
		autopaydomain.ErrMissingLastAttempt,
		autopaydomain.ErrInvalidAttemptCount,
		settingsdomain.ErrInvalidDelayDays,
		settingsdomain.ErrInvalidOrganization,
	} {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
