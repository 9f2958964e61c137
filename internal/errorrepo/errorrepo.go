// Package errorrepo stores the error events produced by rejected payloads,
// mirroring orderrepo's embedded/Postgres backend pair for
// order.ErrorEvent records.
package errorrepo

import (
	"context"
	"time"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/partner"
)

// Filters combine with AND semantics; a zero-valued field matches all.
type Filters struct {
	PartnerID *partner.ID
	ErrorCode *apperr.Code
	FromDate  *time.Time
	ToDate    *time.Time
}

func matches(ev *order.ErrorEvent, f Filters) bool {
	if f.PartnerID != nil && ev.PartnerID != *f.PartnerID {
		return false
	}
	if f.ErrorCode != nil && ev.ErrorCode != *f.ErrorCode {
		return false
	}
	if f.FromDate != nil && ev.Timestamp.Before(*f.FromDate) {
		return false
	}
	if f.ToDate != nil && ev.Timestamp.After(*f.ToDate) {
		return false
	}
	return true
}

// Statistics aggregates the filter-matched subset of stored error events.
type Statistics struct {
	TotalErrors     int                 `json:"totalErrors"`
	ErrorsByPartner map[partner.ID]int  `json:"errorsByPartner"`
	ErrorsByCode    map[apperr.Code]int `json:"errorsByCode"`
	Last24Hours     int                 `json:"last24Hours"`
}

func zeroStatistics() Statistics {
	s := Statistics{
		ErrorsByPartner: make(map[partner.ID]int, len(partner.All)),
		ErrorsByCode:    make(map[apperr.Code]int),
	}
	for _, id := range partner.All {
		s.ErrorsByPartner[id] = 0
	}
	return s
}

func computeStatistics(matched []*order.ErrorEvent, now time.Time) Statistics {
	s := zeroStatistics()
	s.TotalErrors = len(matched)
	cutoff := now.Add(-24 * time.Hour)
	for _, ev := range matched {
		s.ErrorsByPartner[ev.PartnerID]++
		s.ErrorsByCode[ev.ErrorCode]++
		if !ev.Timestamp.Before(cutoff) {
			s.Last24Hours++
		}
	}
	return s
}

// Repository is the error-store contract shared by both backends.
type Repository interface {
	Save(ctx context.Context, ev *order.ErrorEvent) error
	SaveBatch(ctx context.Context, evs []*order.ErrorEvent) error
	FindByID(ctx context.Context, id string) (*order.ErrorEvent, error)
	FindMany(ctx context.Context, f Filters, p order.Pagination, sortOrder SortOrder) (order.Page[*order.ErrorEvent], error)
	GetStatistics(ctx context.Context, f Filters) (Statistics, error)
	Count(ctx context.Context, f Filters) (int, error)
	Clear(ctx context.Context) error
}

// SortOrder is ascending or descending over timestamp, the only sortable
// column for error events.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// DefaultSortOrder is timestamp desc.
const DefaultSortOrder SortOrder = Desc
