package domain

import (
	"github.com/bwmarrin/snowflake"
)

// LineItemKind identifies the source of a signed payment form entry.
type LineItemKind string

const (
	LineItemKindInvoice       LineItemKind = "invoice"
	LineItemKindCreditNote    LineItemKind = "credit_note"
	LineItemKindCreditBalance LineItemKind = "credit_balance"
	LineItemKindUnattributed  LineItemKind = "unattributed"
)

// LineItem is one signed entry in a payment form. Amounts are minor units:
// invoice items are non-negative, credit note and credit balance items are
// non-positive, unattributed overpayment carries no document reference.
// List order is caller-controlled and significant.
type LineItem struct {
	Kind         LineItemKind
	Amount       int64
	InvoiceID    snowflake.ID
	CreditNoteID snowflake.ID
}

// SplitKind identifies how a slice of the payment total was applied.
type SplitKind string

const (
	SplitKindInvoiceCharge            SplitKind = "invoice_charge"
	SplitKindCreditNoteConsumption    SplitKind = "credit_note_consumption"
	SplitKindAppliedCreditConsumption SplitKind = "applied_credit_consumption"
	SplitKindCreditIssuance           SplitKind = "credit_issuance"
)

// Split is one line of the allocation audit trail. Only the reference fields
// meaningful for the kind are set: consumption splits carry the invoice they
// reduce (credit note consumption additionally the note), charges carry the
// invoice, issuance carries no reference.
type Split struct {
	Kind         SplitKind
	Amount       int64
	InvoiceID    snowflake.ID
	CreditNoteID snowflake.ID
}

type demandEntry struct {
	invoiceID snowflake.ID
	remaining int64
}

type supplyEntry struct {
	creditNoteID snowflake.ID
	fromBalance  bool
	remaining    int64
}

// Allocate turns an ordered list of signed line items into an ordered list of
// allocation splits plus the net payment amount. Credit supply (credit notes,
// applied customer credit) is consumed against invoice demand front to back
// with a single shared cursor: a later supply entry never revisits an
// exhausted demand entry. Invoices left with a remainder emit an
// InvoiceCharge; fully covered invoices emit no charge at all. Unattributed
// amounts pass through unchanged as CreditIssuance. The function is pure and
// deterministic; all arithmetic is exact minor-unit arithmetic.
func Allocate(items []LineItem) ([]Split, int64, error) {
	if err := validateLineItems(items); err != nil {
		return nil, 0, err
	}

	var (
		demand []demandEntry
		supply []supplyEntry
		net    int64
	)
	for _, item := range items {
		net += item.Amount
		switch item.Kind {
		case LineItemKindInvoice:
			demand = append(demand, demandEntry{invoiceID: item.InvoiceID, remaining: item.Amount})
		case LineItemKindCreditNote:
			supply = append(supply, supplyEntry{creditNoteID: item.CreditNoteID, remaining: -item.Amount})
		case LineItemKindCreditBalance:
			supply = append(supply, supplyEntry{fromBalance: true, remaining: -item.Amount})
		}
	}

	splits := make([]Split, 0, len(items))

	cursor := 0
	for i := range supply {
		for supply[i].remaining > 0 && cursor < len(demand) {
			if demand[cursor].remaining == 0 {
				cursor++
				continue
			}
			applied := min(supply[i].remaining, demand[cursor].remaining)
			if supply[i].fromBalance {
				splits = append(splits, Split{
					Kind:      SplitKindAppliedCreditConsumption,
					Amount:    applied,
					InvoiceID: demand[cursor].invoiceID,
				})
			} else {
				splits = append(splits, Split{
					Kind:         SplitKindCreditNoteConsumption,
					Amount:       applied,
					InvoiceID:    demand[cursor].invoiceID,
					CreditNoteID: supply[i].creditNoteID,
				})
			}
			supply[i].remaining -= applied
			demand[cursor].remaining -= applied
			if demand[cursor].remaining == 0 {
				cursor++
			}
		}
	}

	for _, entry := range demand {
		if entry.remaining == 0 {
			continue
		}
		splits = append(splits, Split{
			Kind:      SplitKindInvoiceCharge,
			Amount:    entry.remaining,
			InvoiceID: entry.invoiceID,
		})
	}

	for _, item := range items {
		if item.Kind != LineItemKindUnattributed {
			continue
		}
		splits = append(splits, Split{
			Kind:   SplitKindCreditIssuance,
			Amount: item.Amount,
		})
	}

	return splits, net, nil
}

func validateLineItems(items []LineItem) error {
	for _, item := range items {
		switch item.Kind {
		case LineItemKindInvoice:
			if item.Amount < 0 {
				return ErrNegativeInvoiceAmount
			}
			if item.InvoiceID == 0 {
				return ErrMissingInvoiceRef
			}
		case LineItemKindCreditNote:
			if item.Amount > 0 {
				return ErrPositiveCreditAmount
			}
			if item.CreditNoteID == 0 {
				return ErrMissingCreditNoteRef
			}
		case LineItemKindCreditBalance:
			if item.Amount > 0 {
				return ErrPositiveCreditAmount
			}
		case LineItemKindUnattributed:
			if item.InvoiceID != 0 || item.CreditNoteID != 0 {
				return ErrUnexpectedDocumentRef
			}
		default:
			return ErrUnknownLineItemKind
		}
	}
	return nil
}
