package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/openledger/payline/internal/orgcontext"
	paymentdomain "github.com/openledger/payline/internal/payment/domain"
)

type lineItemRequest struct {
	Kind         string `json:"kind"`
	Amount       int64  `json:"amount"`
	InvoiceID    string `json:"invoice_id,omitempty"`
	CreditNoteID string `json:"credit_note_id,omitempty"`
}

type splitResponse struct {
	Kind         string `json:"kind"`
	Amount       int64  `json:"amount"`
	InvoiceID    string `json:"invoice_id,omitempty"`
	CreditNoteID string `json:"credit_note_id,omitempty"`
}

// PreviewAllocation runs the allocation engine against a submitted payment
// form without touching any stored document.
func (s *Server) PreviewAllocation(c *gin.Context) {
	var req struct {
		LineItems []lineItemRequest `json:"line_items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items := make([]paymentdomain.LineItem, 0, len(req.LineItems))
	for i, raw := range req.LineItems {
		item, err := parseLineItem(raw)
		if err != nil {
			AbortWithError(c, newValidationError(
				"line_items["+strconv.Itoa(i)+"]",
				"invalid_line_item",
				err.Error(),
			))
			return
		}
		items = append(items, item)
	}

	splits, net, err := paymentdomain.Allocate(items)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]splitResponse, 0, len(splits))
	for _, split := range splits {
		entry := splitResponse{
			Kind:   string(split.Kind),
			Amount: split.Amount,
		}
		if split.InvoiceID != 0 {
			entry.InvoiceID = split.InvoiceID.String()
		}
		if split.CreditNoteID != 0 {
			entry.CreditNoteID = split.CreditNoteID.String()
		}
		resp = append(resp, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"splits":     resp,
		"net_amount": net,
	})
}

func parseLineItem(raw lineItemRequest) (paymentdomain.LineItem, error) {
	item := paymentdomain.LineItem{
		Kind:   paymentdomain.LineItemKind(strings.TrimSpace(raw.Kind)),
		Amount: raw.Amount,
	}
	if raw.InvoiceID != "" {
		id, err := parseSnowflake(raw.InvoiceID)
		if err != nil {
			return paymentdomain.LineItem{}, err
		}
		item.InvoiceID = id
	}
	if raw.CreditNoteID != "" {
		id, err := parseSnowflake(raw.CreditNoteID)
		if err != nil {
			return paymentdomain.LineItem{}, err
		}
		item.CreditNoteID = id
	}
	return item, nil
}

func parseSnowflake(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func (s *Server) orgIDFromRequest(c *gin.Context) (snowflake.ID, error) {
	if raw, ok := orgcontext.OrgIDFromContext(c.Request.Context()); ok && raw != 0 {
		return snowflake.ID(raw), nil
	}
	return 0, ErrUnauthorized
}
