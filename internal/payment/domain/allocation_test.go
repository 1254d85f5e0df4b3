package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestAllocateCrossInvoiceSpillover(t *testing.T) {
	items := []LineItem{
		{Kind: LineItemKindInvoice, Amount: 100, InvoiceID: 1},
		{Kind: LineItemKindInvoice, Amount: 50, InvoiceID: 2},
		{Kind: LineItemKindCreditNote, Amount: -120, CreditNoteID: 9},
	}

	splits, net, err := Allocate(items)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if net != 30 {
		t.Fatalf("expected net 30, got %d", net)
	}

	want := []Split{
		{Kind: SplitKindCreditNoteConsumption, Amount: 100, InvoiceID: 1, CreditNoteID: 9},
		{Kind: SplitKindCreditNoteConsumption, Amount: 20, InvoiceID: 2, CreditNoteID: 9},
		{Kind: SplitKindInvoiceCharge, Amount: 30, InvoiceID: 2},
	}
	if !reflect.DeepEqual(splits, want) {
		t.Fatalf("unexpected splits: %+v", splits)
	}
}

func TestAllocateFullyCoveredInvoiceEmitsNoCharge(t *testing.T) {
	items := []LineItem{
		{Kind: LineItemKindInvoice, Amount: 75, InvoiceID: 1},
		{Kind: LineItemKindCreditNote, Amount: -75, CreditNoteID: 4},
	}

	splits, net, err := Allocate(items)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if net != 0 {
		t.Fatalf("expected net 0, got %d", net)
	}
	if len(splits) != 1 {
		t.Fatalf("expected 1 split, got %d: %+v", len(splits), splits)
	}
	if splits[0].Kind != SplitKindCreditNoteConsumption || splits[0].Amount != 75 {
		t.Fatalf("unexpected split: %+v", splits[0])
	}
}

func TestAllocateSharedCursorAcrossSupply(t *testing.T) {
	items := []LineItem{
		{Kind: LineItemKindInvoice, Amount: 40, InvoiceID: 1},
		{Kind: LineItemKindInvoice, Amount: 60, InvoiceID: 2},
		{Kind: LineItemKindCreditNote, Amount: -50, CreditNoteID: 7},
		{Kind: LineItemKindCreditBalance, Amount: -30},
	}

	splits, net, err := Allocate(items)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if net != 20 {
		t.Fatalf("expected net 20, got %d", net)
	}

	want := []Split{
		{Kind: SplitKindCreditNoteConsumption, Amount: 40, InvoiceID: 1, CreditNoteID: 7},
		{Kind: SplitKindCreditNoteConsumption, Amount: 10, InvoiceID: 2, CreditNoteID: 7},
		{Kind: SplitKindAppliedCreditConsumption, Amount: 30, InvoiceID: 2},
		{Kind: SplitKindInvoiceCharge, Amount: 20, InvoiceID: 2},
	}
	if !reflect.DeepEqual(splits, want) {
		t.Fatalf("unexpected splits: %+v", splits)
	}
}

func TestAllocateOverpaymentBecomesCreditIssuance(t *testing.T) {
	items := []LineItem{
		{Kind: LineItemKindInvoice, Amount: 100, InvoiceID: 1},
		{Kind: LineItemKindUnattributed, Amount: 25},
		{Kind: LineItemKindUnattributed, Amount: 5},
	}

	splits, net, err := Allocate(items)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if net != 130 {
		t.Fatalf("expected net 130, got %d", net)
	}

	want := []Split{
		{Kind: SplitKindInvoiceCharge, Amount: 100, InvoiceID: 1},
		{Kind: SplitKindCreditIssuance, Amount: 25},
		{Kind: SplitKindCreditIssuance, Amount: 5},
	}
	if !reflect.DeepEqual(splits, want) {
		t.Fatalf("unexpected splits: %+v", splits)
	}
}

func TestAllocateConservation(t *testing.T) {
	items := []LineItem{
		{Kind: LineItemKindInvoice, Amount: 130, InvoiceID: 1},
		{Kind: LineItemKindInvoice, Amount: 70, InvoiceID: 2},
		{Kind: LineItemKindCreditNote, Amount: -45, CreditNoteID: 5},
		{Kind: LineItemKindCreditBalance, Amount: -15},
		{Kind: LineItemKindUnattributed, Amount: 10},
	}

	splits, net, err := Allocate(items)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	var inputTotal int64
	for _, item := range items {
		inputTotal += item.Amount
	}
	if net != inputTotal {
		t.Fatalf("net %d does not match input total %d", net, inputTotal)
	}

	// Consumption splits are internally balanced; charges and issuance carry
	// the net.
	var emitted int64
	for _, split := range splits {
		switch split.Kind {
		case SplitKindInvoiceCharge, SplitKindCreditIssuance:
			emitted += split.Amount
		}
	}
	if emitted != net {
		t.Fatalf("emitted total %d does not match net %d", emitted, net)
	}
}

func TestAllocateDeterministic(t *testing.T) {
	items := []LineItem{
		{Kind: LineItemKindInvoice, Amount: 90, InvoiceID: 3},
		{Kind: LineItemKindInvoice, Amount: 10, InvoiceID: 4},
		{Kind: LineItemKindCreditNote, Amount: -30, CreditNoteID: 8},
		{Kind: LineItemKindUnattributed, Amount: 12},
	}

	first, firstNet, err := Allocate(items)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	second, secondNet, err := Allocate(items)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if firstNet != secondNet {
		t.Fatalf("net drifted between runs: %d vs %d", firstNet, secondNet)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("split sequence drifted between runs")
	}
}

func TestAllocateExactCoverOmitsZeroCharge(t *testing.T) {
	items := []LineItem{
		{Kind: LineItemKindInvoice, Amount: 50, InvoiceID: 1},
		{Kind: LineItemKindInvoice, Amount: 50, InvoiceID: 2},
		{Kind: LineItemKindCreditNote, Amount: -100, CreditNoteID: 6},
	}

	splits, _, err := Allocate(items)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	for _, split := range splits {
		if split.Kind == SplitKindInvoiceCharge {
			t.Fatalf("expected no charge splits, got %+v", split)
		}
		if split.Amount == 0 {
			t.Fatalf("expected no zero-amount splits, got %+v", split)
		}
	}
}

func TestAllocatePreconditions(t *testing.T) {
	cases := []struct {
		name string
		item LineItem
		want error
	}{
		{
			name: "negative invoice amount",
			item: LineItem{Kind: LineItemKindInvoice, Amount: -10, InvoiceID: 1},
			want: ErrNegativeInvoiceAmount,
		},
		{
			name: "invoice without ref",
			item: LineItem{Kind: LineItemKindInvoice, Amount: 10},
			want: ErrMissingInvoiceRef,
		},
		{
			name: "positive credit note",
			item: LineItem{Kind: LineItemKindCreditNote, Amount: 10, CreditNoteID: 2},
			want: ErrPositiveCreditAmount,
		},
		{
			name: "credit note without ref",
			item: LineItem{Kind: LineItemKindCreditNote, Amount: -10},
			want: ErrMissingCreditNoteRef,
		},
		{
			name: "positive credit balance",
			item: LineItem{Kind: LineItemKindCreditBalance, Amount: 10},
			want: ErrPositiveCreditAmount,
		},
		{
			name: "unattributed with ref",
			item: LineItem{Kind: LineItemKindUnattributed, Amount: 10, InvoiceID: 3},
			want: ErrUnexpectedDocumentRef,
		},
		{
			name: "unknown kind",
			item: LineItem{Kind: LineItemKind("refund"), Amount: 10},
			want: ErrUnknownLineItemKind,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Allocate([]LineItem{tc.item})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
