package feed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/partner"
	"github.com/orderingest/core/internal/sequence"
	"github.com/orderingest/core/internal/streambus"
)

func newCoordinator(t *testing.T) (*Coordinator, *streambus.Local) {
	t.Helper()
	seqs, err := sequence.New("")
	require.NoError(t, err)
	bus := streambus.NewLocal()
	return New(seqs, bus, nil), bus
}

func validAPayload() map[string]any {
	return map[string]any{
		"orderId":           "ORD-1",
		"skuId":             "SKU-1",
		"customerId":        "C1",
		"quantity":          float64(5),
		"unitPrice":         20.0,
		"taxRate":           0.1,
		"transactionTimeMs": float64(1705315800000),
	}
}

func TestProcessSingle_AcceptsValidPayload(t *testing.T) {
	c, bus := newCoordinator(t)
	result := c.ProcessSingle(context.Background(), partner.A, validAPayload())

	assert.True(t, result.Success)
	assert.Equal(t, "ORD-1", result.OrderID)
	assert.Equal(t, int64(1), result.SequenceNumber)
	assert.Len(t, bus.History(streambus.KindValidOrder), 1)
	assert.Empty(t, bus.History(streambus.KindErrorOrder))
}

func TestProcessSingle_RejectedDoesNotConsumeSequence(t *testing.T) {
	c, bus := newCoordinator(t)
	raw := validAPayload()
	raw["quantity"] = float64(-5)

	result := c.ProcessSingle(context.Background(), partner.A, raw)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "ORD-1", result.OrderID) // extracted even on rejection
	assert.Len(t, bus.History(streambus.KindErrorOrder), 1)

	next := c.ProcessSingle(context.Background(), partner.A, validAPayload())
	assert.Equal(t, int64(1), next.SequenceNumber)
}

func TestProcessSingle_UnknownPartner(t *testing.T) {
	c, _ := newCoordinator(t)
	result := c.ProcessSingle(context.Background(), partner.ID("PARTNER_Z"), map[string]any{})
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "partnerId", result.Errors[0].Field)
}

type fakeDuplicateChecker struct {
	existing map[string]bool
}

func (f *fakeDuplicateChecker) ExistsByExternalID(_ context.Context, externalID string, _ partner.ID) (bool, error) {
	return f.existing[externalID], nil
}

func TestProcessSingle_RejectsDuplicateExternalIDWhenEnabled(t *testing.T) {
	seqs, err := sequence.New("")
	require.NoError(t, err)
	bus := streambus.NewLocal()
	checker := &fakeDuplicateChecker{existing: map[string]bool{"ORD-1": true}}
	c := New(seqs, bus, nil, WithDuplicateRejection(checker))

	result := c.ProcessSingle(context.Background(), partner.A, validAPayload())
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, apperr.CodeDuplicateOrder, result.Errors[0].Code)
	assert.Empty(t, bus.History(streambus.KindValidOrder))
}

func TestProcessSingle_DuplicateRejectionDisabledByDefault(t *testing.T) {
	c, bus := newCoordinator(t)
	_ = c.ProcessSingle(context.Background(), partner.A, validAPayload())
	result := c.ProcessSingle(context.Background(), partner.A, validAPayload())

	assert.True(t, result.Success, "without WithDuplicateRejection, repeat external ids are accepted")
	assert.Equal(t, int64(2), result.SequenceNumber)
	assert.Len(t, bus.History(streambus.KindValidOrder), 2)
}

func TestProcessBatch_PartialFailureKeepsSequenceContiguous(t *testing.T) {
	c, _ := newCoordinator(t)
	bad := validAPayload()
	bad["quantity"] = float64(0)

	results := c.ProcessBatch(context.Background(), partner.A, []any{validAPayload(), bad, validAPayload()})
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.Equal(t, int64(1), results[0].SequenceNumber)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)
	assert.Equal(t, int64(2), results[2].SequenceNumber)
}
