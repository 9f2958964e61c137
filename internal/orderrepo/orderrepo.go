// Package orderrepo stores canonical order events, with an embedded
// (in-memory + debounced JSON snapshot) backend and a Postgres backend
// behind one Repository interface.
package orderrepo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/partner"
)

// SortField is one of the closed set of sortable columns.
type SortField string

const (
	SortProcessedAt     SortField = "processedAt"
	SortTransactionTime SortField = "transactionTime"
	SortGrossAmount     SortField = "grossAmount"
	SortSequenceNumber  SortField = "sequenceNumber"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Sort bundles the sort field and direction.
type Sort struct {
	Field SortField
	Order SortOrder
}

// DefaultSort is processedAt desc.
func DefaultSort() Sort { return Sort{Field: SortProcessedAt, Order: Desc} }

// Filters combine with AND semantics; a zero-valued field matches all.
type Filters struct {
	PartnerID  *partner.ID
	CustomerID string
	ProductID  string
	FromDate   *time.Time
	ToDate     *time.Time
	MinAmount  *decimal.Decimal
	MaxAmount  *decimal.Decimal
}

// Statistics aggregates the filter-matched subset of stored orders. The
// per-partner maps always carry every member of the closed partner set.
type Statistics struct {
	TotalOrders       int                  `json:"totalOrders"`
	OrdersByPartner   map[partner.ID]int   `json:"ordersByPartner"`
	TotalGrossAmount  decimal.Decimal      `json:"totalGrossAmount"`
	TotalTaxAmount    decimal.Decimal      `json:"totalTaxAmount"`
	TotalNetAmount    decimal.Decimal      `json:"totalNetAmount"`
	AverageOrderValue decimal.Decimal      `json:"averageOrderValue"`
	HighestSequence   map[partner.ID]int64 `json:"highestSequence"`
}

// zeroStatistics seeds the per-partner maps with every member of the
// closed partner set so output shape never depends on which partners
// actually appear in the data.
func zeroStatistics() Statistics {
	s := Statistics{
		OrdersByPartner: make(map[partner.ID]int, len(partner.All)),
		HighestSequence: make(map[partner.ID]int64, len(partner.All)),
	}
	for _, id := range partner.All {
		s.OrdersByPartner[id] = 0
		s.HighestSequence[id] = 0
	}
	return s
}

// Repository is the order-store contract shared by both backends.
type Repository interface {
	Save(ctx context.Context, ev *order.Event) error
	SaveBatch(ctx context.Context, evs []*order.Event) error
	FindByID(ctx context.Context, id string) (*order.Event, error)
	FindByExternalID(ctx context.Context, externalID string, partnerID partner.ID) (*order.Event, error)
	ExistsByExternalID(ctx context.Context, externalID string, partnerID partner.ID) (bool, error)
	FindMany(ctx context.Context, f Filters, p order.Pagination, s Sort) (order.Page[*order.Event], error)
	GetStatistics(ctx context.Context, f Filters) (Statistics, error)
	Count(ctx context.Context, f Filters) (int, error)
	Clear(ctx context.Context) error
}

func matches(ev *order.Event, f Filters) bool {
	if f.PartnerID != nil && ev.PartnerID != *f.PartnerID {
		return false
	}
	if f.CustomerID != "" && ev.CustomerID != f.CustomerID {
		return false
	}
	if f.ProductID != "" && ev.ProductID != f.ProductID {
		return false
	}
	if f.FromDate != nil && ev.TransactionTime.Before(*f.FromDate) {
		return false
	}
	if f.ToDate != nil && ev.TransactionTime.After(*f.ToDate) {
		return false
	}
	if f.MinAmount != nil && ev.GrossAmount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && ev.GrossAmount.GreaterThan(*f.MaxAmount) {
		return false
	}
	return true
}

func computeStatistics(matched []*order.Event) Statistics {
	s := zeroStatistics()
	s.TotalOrders = len(matched)
	for _, ev := range matched {
		s.OrdersByPartner[ev.PartnerID]++
		s.TotalGrossAmount = s.TotalGrossAmount.Add(ev.GrossAmount)
		s.TotalTaxAmount = s.TotalTaxAmount.Add(ev.TaxAmount)
		s.TotalNetAmount = s.TotalNetAmount.Add(ev.NetAmount)
		if ev.SequenceNumber > s.HighestSequence[ev.PartnerID] {
			s.HighestSequence[ev.PartnerID] = ev.SequenceNumber
		}
	}
	s.TotalGrossAmount = s.TotalGrossAmount.Round(2)
	s.TotalTaxAmount = s.TotalTaxAmount.Round(2)
	s.TotalNetAmount = s.TotalNetAmount.Round(2)
	if s.TotalOrders > 0 {
		s.AverageOrderValue = s.TotalGrossAmount.DivRound(decimal.NewFromInt(int64(s.TotalOrders)), 2)
	}
	return s
}
