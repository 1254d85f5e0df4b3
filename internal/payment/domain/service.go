package domain

import (
	"context"
	"errors"
)

type Service interface {
	ApplyPayment(ctx context.Context, req ApplyPaymentRequest) (*Payment, error)
	ChargeInvoice(ctx context.Context, req ChargeInvoiceRequest) (*Payment, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrEmptyPaymentForm    = errors.New("empty_payment_form")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrCreditNoteNotFound  = errors.New("credit_note_not_found")
	ErrInsufficientCredit  = errors.New("insufficient_credit")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrProviderNotFound    = errors.New("provider_not_found")
	ErrChargeDeclined      = errors.New("charge_declined")

	ErrNegativeInvoiceAmount = errors.New("negative_invoice_amount")
	ErrPositiveCreditAmount  = errors.New("positive_credit_amount")
	ErrMissingInvoiceRef     = errors.New("missing_invoice_ref")
	ErrMissingCreditNoteRef  = errors.New("missing_credit_note_ref")
	ErrUnexpectedDocumentRef = errors.New("unexpected_document_ref")
	ErrUnknownLineItemKind   = errors.New("unknown_line_item_kind")
)
