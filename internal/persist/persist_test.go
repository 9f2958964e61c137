package persist

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/errorrepo"
	"github.com/orderingest/core/internal/feed"
	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/orderrepo"
	"github.com/orderingest/core/internal/partner"
)

func toGenericMap(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestOrderSink_SavesDirectStruct(t *testing.T) {
	repo, err := orderrepo.NewEmbedded()
	require.NoError(t, err)
	sink := OrderSink(repo)

	ev := &order.Event{
		ID:              uuid.New(),
		ExternalOrderID: "ext-1",
		PartnerID:       partner.A,
		SequenceNumber:  1,
		GrossAmount:     decimal.NewFromInt(100),
		ProcessedAt:     order.NewTimestamp(time.Now()),
	}
	err = sink(context.Background(), feed.ValidOrderPayload{OrderEvent: ev, ReceivedAt: time.Now().UTC()})
	require.NoError(t, err)

	got, err := repo.FindByExternalID(context.Background(), "ext-1", partner.A)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.GrossAmount.Equal(decimal.NewFromInt(100)))
}

func TestOrderSink_SavesJSONDecodedMap(t *testing.T) {
	repo, err := orderrepo.NewEmbedded()
	require.NoError(t, err)
	sink := OrderSink(repo)

	ev := &order.Event{
		ID:              uuid.New(),
		ExternalOrderID: "ext-2",
		PartnerID:       partner.B,
		SequenceNumber:  2,
		GrossAmount:     decimal.NewFromInt(50),
		ProcessedAt:     order.NewTimestamp(time.Now()),
	}
	// Simulate the Redis bus: payload is a generic map[string]any, not the
	// concrete feed.ValidOrderPayload struct.
	payload := feed.ValidOrderPayload{OrderEvent: ev, ReceivedAt: time.Now().UTC()}
	var generic any = toGenericMap(t, payload)

	err = sink(context.Background(), generic)
	require.NoError(t, err)

	got, err := repo.FindByExternalID(context.Background(), "ext-2", partner.B)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestErrorSink_SavesErrorEvent(t *testing.T) {
	repo, err := errorrepo.NewEmbedded()
	require.NoError(t, err)
	sink := ErrorSink(repo)

	externalID := "ext-err-1"
	payload := feed.ErrorOrderPayload{
		PartnerID:       partner.A,
		ExternalOrderID: &externalID,
		Errors: []apperr.FieldError{
			{Field: "quantity", Code: apperr.CodeNegativeNumber, Message: "quantity must be positive"},
		},
		Timestamp: time.Now().UTC(),
	}
	err = sink(context.Background(), payload)
	require.NoError(t, err)

	count, err := repo.Count(context.Background(), errorrepo.Filters{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
