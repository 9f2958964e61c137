package orderrepo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/partner"
)

func newEvent(partnerID partner.ID, externalID string, seq int64, gross string, processedAt time.Time) *order.Event {
	g, _ := decimal.NewFromString(gross)
	return &order.Event{
		ID:              uuid.New(),
		ExternalOrderID: externalID,
		PartnerID:       partnerID,
		SequenceNumber:  seq,
		ProductID:       "SKU-1",
		CustomerID:      "C1",
		Quantity:        1,
		UnitPrice:       g,
		TaxRate:         decimal.NewFromFloat(0.1),
		GrossAmount:     g,
		TaxAmount:       decimal.Zero,
		NetAmount:       g,
		TransactionTime: order.NewTimestamp(processedAt),
		ProcessedAt:     order.NewTimestamp(processedAt),
	}
}

func TestEmbedded_SaveAndFindByID(t *testing.T) {
	ctx := context.Background()
	repo, err := NewEmbedded()
	require.NoError(t, err)

	ev := newEvent(partner.A, "ORD-1", 1, "100", time.Now())
	require.NoError(t, repo.Save(ctx, ev))

	got, err := repo.FindByID(ctx, ev.ID.String())
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	missing, err := repo.FindByID(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEmbedded_FindByExternalIDAndExists(t *testing.T) {
	ctx := context.Background()
	repo, _ := NewEmbedded()
	ev := newEvent(partner.A, "ORD-1", 1, "100", time.Now())
	repo.Save(ctx, ev)

	exists, err := repo.ExistsByExternalID(ctx, "ORD-1", partner.A)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByExternalID(ctx, "ORD-1", partner.B)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEmbedded_FindManyFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	repo, _ := NewEmbedded()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		repo.Save(ctx, newEvent(partner.A, "ORD-"+string(rune('0'+i)), int64(i), "100", base.Add(time.Duration(i)*time.Hour)))
	}
	repo.Save(ctx, newEvent(partner.B, "TXN-1", 1, "50", base))

	page, err := repo.FindMany(ctx, Filters{}, order.Pagination{Page: 1, PageSize: 3}, DefaultSort())
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.Len(t, page.Data, 3)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasMore)

	pid := partner.B
	page, err = repo.FindMany(ctx, Filters{PartnerID: &pid}, order.Pagination{Page: 1, PageSize: 20}, DefaultSort())
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestEmbedded_LastPartialPageHasNoMore(t *testing.T) {
	ctx := context.Background()
	repo, _ := NewEmbedded()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 25; i++ {
		repo.Save(ctx, newEvent(partner.A, fmt.Sprintf("ORD-%d", i), int64(i), "100", base.Add(time.Duration(i)*time.Minute)))
	}

	page, err := repo.FindMany(ctx, Filters{}, order.Pagination{Page: 3, PageSize: 10}, DefaultSort())
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.Len(t, page.Data, 5)
	assert.Equal(t, 3, page.TotalPages)
	assert.False(t, page.HasMore)
}

func TestEmbedded_DefaultSortIsProcessedAtDesc(t *testing.T) {
	ctx := context.Background()
	repo, _ := NewEmbedded()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e1 := newEvent(partner.A, "ORD-1", 1, "10", base)
	e2 := newEvent(partner.A, "ORD-2", 2, "10", base.Add(time.Hour))
	repo.Save(ctx, e1)
	repo.Save(ctx, e2)

	page, _ := repo.FindMany(ctx, Filters{}, order.DefaultPage(), DefaultSort())
	require.Len(t, page.Data, 2)
	assert.Equal(t, e2.ID, page.Data[0].ID)
	assert.Equal(t, e1.ID, page.Data[1].ID)
}

func TestEmbedded_GetStatistics(t *testing.T) {
	ctx := context.Background()
	repo, _ := NewEmbedded()
	repo.Save(ctx, newEvent(partner.A, "ORD-1", 1, "100", time.Now()))
	repo.Save(ctx, newEvent(partner.A, "ORD-2", 2, "50", time.Now()))
	repo.Save(ctx, newEvent(partner.B, "TXN-1", 1, "30", time.Now()))

	stats, err := repo.GetStatistics(ctx, Filters{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalOrders)
	assert.Equal(t, 2, stats.OrdersByPartner[partner.A])
	assert.Equal(t, 1, stats.OrdersByPartner[partner.B])
	assert.Equal(t, 0, stats.OrdersByPartner[partner.ID("PARTNER_C")]) // not in closed set: zero value
	assert.Equal(t, "180", stats.TotalGrossAmount.String())
	assert.Equal(t, "60", stats.AverageOrderValue.String())
	assert.Equal(t, int64(2), stats.HighestSequence[partner.A])
}

func TestEmbedded_SnapshotSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "orders.json")
	repo, err := NewEmbedded(WithSnapshotPath(path), WithSnapshotDebounce(0))
	require.NoError(t, err)
	ev := newEvent(partner.A, "ORD-1", 1, "100", time.Now())
	repo.Save(ctx, ev)
	repo.Flush()

	repo2, err := NewEmbedded(WithSnapshotPath(path))
	require.NoError(t, err)
	got, err := repo2.FindByID(ctx, ev.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ev.ExternalOrderID, got.ExternalOrderID)
}

func TestEmbedded_Clear(t *testing.T) {
	ctx := context.Background()
	repo, _ := NewEmbedded()
	repo.Save(ctx, newEvent(partner.A, "ORD-1", 1, "100", time.Now()))
	require.NoError(t, repo.Clear(ctx))
	count, _ := repo.Count(ctx, Filters{})
	assert.Equal(t, 0, count)
}
