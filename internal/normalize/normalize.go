// Package normalize is the pure transform from a validated per-partner
// input into the canonical order.Event; apart from the fresh random UUID
// it assigns, its output depends only on its arguments. It never touches I/O,
// never allocates a sequence number itself, and never fails on a
// well-formed typed input — all rejection happens upstream in validation.
package normalize

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/partner"
)

// moneyScale is the decimal scale every stored money field is rounded to,
// half away from zero.
const moneyScale = 2

// Normalize maps a validated, partner-specific typed input into the
// canonical order.Event, assigning the given sequence number and a fresh
// UUID. seq must already have been allocated by the sequence generator
// for this partner before Normalize is called.
func Normalize(partnerID partner.ID, typed any, seq int64, now time.Time) (*order.Event, error) {
	switch in := typed.(type) {
	case partner.AInput:
		return normalizeA(in, seq, now), nil
	case partner.BInput:
		return normalizeB(in, seq, now), nil
	default:
		return nil, fmt.Errorf("normalize: unsupported typed input %T for partner %s", typed, partnerID)
	}
}

func normalizeA(in partner.AInput, seq int64, now time.Time) *order.Event {
	unitPrice := decimal.NewFromFloat(in.UnitPrice).Round(moneyScale)
	taxRate := decimal.NewFromFloat(in.TaxRate)
	quantity := decimal.NewFromInt(in.Quantity)

	gross := unitPrice.Mul(quantity).Round(moneyScale)
	tax := gross.Mul(taxRate).Round(moneyScale)
	net := gross.Add(tax).Round(moneyScale)

	return &order.Event{
		ID:              uuid.New(),
		ExternalOrderID: in.OrderID,
		PartnerID:       partner.A,
		SequenceNumber:  seq,
		ProductID:       in.SkuID,
		CustomerID:      in.CustomerID,
		Quantity:        in.Quantity,
		UnitPrice:       unitPrice,
		TaxRate:         taxRate,
		GrossAmount:     gross,
		TaxAmount:       tax,
		NetAmount:       net,
		TransactionTime: order.NewTimestamp(time.UnixMilli(in.TransactionTimeMs)),
		ProcessedAt:     order.NewTimestamp(now),
		Metadata:        in.Metadata,
	}
}

func normalizeB(in partner.BInput, seq int64, now time.Time) *order.Event {
	price := decimal.NewFromFloat(in.Price).Round(moneyScale)
	quantity := decimal.NewFromInt(in.Qty)

	// partner B expresses tax as a percentage (0-100); the canonical
	// taxRate is always a fraction.
	taxRate := decimal.NewFromFloat(in.Tax).Div(decimal.NewFromInt(100))

	gross := price.Mul(quantity).Round(moneyScale)
	tax := gross.Mul(taxRate).Round(moneyScale)
	net := gross.Add(tax).Round(moneyScale)

	txTime, _ := time.Parse(time.RFC3339, in.PurchaseTime) // already validated upstream

	var metadata map[string]any
	if in.HasNotes {
		metadata = map[string]any{"notes": in.Notes}
	}

	return &order.Event{
		ID:              uuid.New(),
		ExternalOrderID: in.TransactionID,
		PartnerID:       partner.B,
		SequenceNumber:  seq,
		ProductID:       in.ItemCode,
		CustomerID:      in.ClientID,
		Quantity:        in.Qty,
		UnitPrice:       price,
		TaxRate:         taxRate,
		GrossAmount:     gross,
		TaxAmount:       tax,
		NetAmount:       net,
		TransactionTime: order.NewTimestamp(txTime),
		ProcessedAt:     order.NewTimestamp(now),
		Metadata:        metadata,
	}
}
