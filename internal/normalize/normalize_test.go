package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderingest/core/internal/partner"
)

func TestNormalizeA_ComputesDerivedAmounts(t *testing.T) {
	in := partner.AInput{
		OrderID:           "ORD-1",
		SkuID:             "SKU-1",
		CustomerID:        "C1",
		Quantity:          5,
		UnitPrice:         20.00,
		TaxRate:           0.1,
		TransactionTimeMs: 1705314600000,
	}
	ev, err := Normalize(partner.A, in, 1, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "100", ev.GrossAmount.String())
	assert.Equal(t, "10", ev.TaxAmount.String())
	assert.Equal(t, "110", ev.NetAmount.String())
	assert.Equal(t, int64(1), ev.SequenceNumber)

	wire, err := json.Marshal(ev.TransactionTime)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-15T10:30:00.000Z"`, string(wire))
}

func TestNormalizeB_ConvertsPercentageTax(t *testing.T) {
	in := partner.BInput{
		TransactionID: "TXN-1",
		ItemCode:      "ITM-1",
		ClientID:      "C2",
		Qty:           3,
		Price:         20.00,
		Tax:           15,
		PurchaseTime:  "2024-01-15T10:30:00.000Z",
	}
	ev, err := Normalize(partner.B, in, 1, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "60", ev.GrossAmount.String())
	assert.Equal(t, "0.15", ev.TaxRate.String())
	assert.Equal(t, "9", ev.TaxAmount.String())
	assert.Equal(t, "69", ev.NetAmount.String())
}

func TestNormalize_RoundTripTaxRate(t *testing.T) {
	a, _ := Normalize(partner.A, partner.AInput{Quantity: 1, UnitPrice: 1, TaxRate: 0.1, TransactionTimeMs: 1705315800000}, 1, time.Now())
	b, _ := Normalize(partner.B, partner.BInput{Qty: 1, Price: 1, Tax: 10, PurchaseTime: "2024-01-15T10:30:00.000Z"}, 1, time.Now())
	assert.True(t, a.TaxRate.Equal(b.TaxRate))
}

func TestNormalize_UnsupportedInput(t *testing.T) {
	_, err := Normalize(partner.A, "not a typed input", 1, time.Now())
	assert.Error(t, err)
}
