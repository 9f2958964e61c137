// Package order holds the canonical domain types shared by normalization,
// the order/error repositories, the feed coordinator, and the query
// coordinator: the OrderEvent and ErrorEvent records plus the generic
// pagination envelope used by both repositories.
package order

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/partner"
)

// timestampLayout is the wire format every order timestamp renders as:
// RFC3339 with exactly three fractional digits.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func init() {
	// Money fields render as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Timestamp is a time.Time that always marshals to millisecond-precision
// UTC, unlike time.Time.MarshalJSON which trims trailing zero fractional
// digits. Scan/Value let it pass through database/sql unchanged, the same
// lossless-round-trip idiom shopspring/decimal and google/uuid already give
// the other order.Event fields.
type Timestamp time.Time

// NewTimestamp normalizes t to UTC and wraps it.
func NewTimestamp(t time.Time) Timestamp { return Timestamp(t.UTC()) }

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time { return time.Time(t) }

func (t Timestamp) Before(u time.Time) bool { return time.Time(t).Before(u) }
func (t Timestamp) After(u time.Time) bool  { return time.Time(t).After(u) }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(timestampLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

func (t Timestamp) Value() (driver.Value, error) {
	return time.Time(t), nil
}

func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*t = Timestamp(v.UTC())
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("order: cannot scan %T into Timestamp", src)
	}
}

// Event is the canonical order record, independent of which partner's wire
// schema it arrived in. It is never mutated after construction.
type Event struct {
	ID              uuid.UUID       `json:"id"`
	ExternalOrderID string          `json:"externalOrderId"`
	PartnerID       partner.ID      `json:"partnerId"`
	SequenceNumber  int64           `json:"sequenceNumber"`
	ProductID       string          `json:"productId"`
	CustomerID      string          `json:"customerId"`
	Quantity        int64           `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	TaxRate         decimal.Decimal `json:"taxRate"`
	GrossAmount     decimal.Decimal `json:"grossAmount"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	NetAmount       decimal.Decimal `json:"netAmount"`
	TransactionTime Timestamp       `json:"transactionTime"`
	ProcessedAt     Timestamp       `json:"processedAt"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// ErrorDetail is one structured diagnostic inside an ErrorEvent.
type ErrorDetail = apperr.FieldError

// ErrorEvent is produced when validation rejects a payload.
type ErrorEvent struct {
	ID              uuid.UUID     `json:"id"`
	PartnerID       partner.ID    `json:"partnerId"`
	ExternalOrderID *string       `json:"externalOrderId,omitempty"`
	ErrorCode       apperr.Code   `json:"errorCode"`
	Message         string        `json:"message"`
	Details         []ErrorDetail `json:"details"`
	OriginalPayload any           `json:"originalPayload"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Pagination is the requested page/pageSize for a findMany-style query.
type Pagination struct {
	Page     int
	PageSize int
}

// MaxPageSize is the hard ceiling on PageSize.
const MaxPageSize = 100

// DefaultPage is the default pagination applied when none is supplied.
func DefaultPage() Pagination {
	return Pagination{Page: 1, PageSize: 20}
}

// Normalize clamps Page to >=1, replaces a PageSize below 1 with the
// default of 20, and caps PageSize at MaxPageSize.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPage().PageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Page is the paginated result envelope returned by FindMany.
type Page[T any] struct {
	Data       []T  `json:"data"`
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// NewPage builds a Page envelope from already-sliced data and the total
// count of the full filtered set.
func NewPage[T any](data []T, total int, p Pagination) Page[T] {
	totalPages := 0
	if p.PageSize > 0 {
		totalPages = (total + p.PageSize - 1) / p.PageSize
	}
	return Page[T]{
		Data:       data,
		Total:      total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: totalPages,
		HasMore:    p.Page < totalPages,
	}
}
