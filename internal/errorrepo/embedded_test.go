package errorrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/partner"
)

func newErrorEvent(partnerID partner.ID, code apperr.Code, ts time.Time) *order.ErrorEvent {
	return &order.ErrorEvent{
		PartnerID: partnerID,
		ErrorCode: code,
		Message:   "bad input",
		Timestamp: ts,
	}
}

func TestEmbedded_SaveAssignsUUIDWhenMissing(t *testing.T) {
	ctx := context.Background()
	repo, err := NewEmbedded()
	require.NoError(t, err)

	ev := newErrorEvent(partner.A, apperr.CodeMissingRequiredField, time.Now())
	require.NoError(t, repo.Save(ctx, ev))
	assert.NotEmpty(t, ev.ID.String())

	got, err := repo.FindByID(ctx, ev.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestEmbedded_GetStatistics(t *testing.T) {
	ctx := context.Background()
	repo, _ := NewEmbedded()
	now := time.Now().UTC()

	repo.Save(ctx, newErrorEvent(partner.A, apperr.CodeMissingRequiredField, now))
	repo.Save(ctx, newErrorEvent(partner.A, apperr.CodeNegativeNumber, now.Add(-48*time.Hour)))
	repo.Save(ctx, newErrorEvent(partner.B, apperr.CodeMissingRequiredField, now))

	stats, err := repo.GetStatistics(ctx, Filters{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalErrors)
	assert.Equal(t, 2, stats.ErrorsByPartner[partner.A])
	assert.Equal(t, 1, stats.ErrorsByPartner[partner.B])
	assert.Equal(t, 2, stats.ErrorsByCode[apperr.CodeMissingRequiredField])
	assert.Equal(t, 2, stats.Last24Hours) // the 48h-old event falls outside the window
}

func TestEmbedded_FindManyDefaultSortDesc(t *testing.T) {
	ctx := context.Background()
	repo, _ := NewEmbedded()
	now := time.Now().UTC()
	older := newErrorEvent(partner.A, apperr.CodeZeroValue, now.Add(-time.Hour))
	newer := newErrorEvent(partner.A, apperr.CodeZeroValue, now)
	repo.Save(ctx, older)
	repo.Save(ctx, newer)

	page, err := repo.FindMany(ctx, Filters{}, order.DefaultPage(), "")
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, newer.ID, page.Data[0].ID)
}

func TestEmbedded_FilterByErrorCode(t *testing.T) {
	ctx := context.Background()
	repo, _ := NewEmbedded()
	now := time.Now().UTC()
	repo.Save(ctx, newErrorEvent(partner.A, apperr.CodeMissingRequiredField, now))
	repo.Save(ctx, newErrorEvent(partner.A, apperr.CodeNegativeNumber, now))

	code := apperr.CodeNegativeNumber
	count, err := repo.Count(ctx, Filters{ErrorCode: &code})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
