package orderrepo

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/partner"
)

type externalKey struct {
	partnerID  partner.ID
	externalID string
}

// Embedded is the in-memory, single-writer backend with a debounced JSON
// snapshot for durability: a mutex-guarded primary map plus the
// (partnerId, externalOrderId) secondary index.
type Embedded struct {
	mu       sync.RWMutex
	byID     map[string]*order.Event
	byExtKey map[externalKey]*order.Event
	order    []string // insertion order, for stable sort tie-break

	path     string
	debounce time.Duration
	timer    *time.Timer
	onError  func(code apperr.Code, err error)
}

// EmbeddedOption configures an Embedded repository at construction time.
type EmbeddedOption func(*Embedded)

// WithSnapshotPath enables debounced JSON persistence at path.
func WithSnapshotPath(path string) EmbeddedOption {
	return func(e *Embedded) { e.path = path }
}

// WithSnapshotDebounce overrides the default ~500ms debounce.
func WithSnapshotDebounce(d time.Duration) EmbeddedOption {
	return func(e *Embedded) { e.debounce = d }
}

// WithErrorSink installs the diagnostic channel for persistence failures.
func WithErrorSink(sink func(code apperr.Code, err error)) EmbeddedOption {
	return func(e *Embedded) { e.onError = sink }
}

// NewEmbedded constructs an Embedded repository, loading from its snapshot
// path if one is configured and exists.
func NewEmbedded(opts ...EmbeddedOption) (*Embedded, error) {
	e := &Embedded{
		byID:     make(map[string]*order.Event),
		byExtKey: make(map[externalKey]*order.Event),
		debounce: 500 * time.Millisecond,
		onError:  func(apperr.Code, error) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.path != "" {
		if err := e.load(); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return e, nil
}

func (e *Embedded) load() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return err
	}
	var snapshot []*order.Event
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	for _, ev := range snapshot {
		e.index(ev)
	}
	return nil
}

func (e *Embedded) index(ev *order.Event) {
	id := ev.ID.String()
	if _, exists := e.byID[id]; !exists {
		e.order = append(e.order, id)
	}
	e.byID[id] = ev
	e.byExtKey[externalKey{ev.PartnerID, ev.ExternalOrderID}] = ev
}

// Save stores a single order, atomically updating the primary map and the
// (partnerId, externalOrderId) secondary index. A repeated external id
// repoints the index at the most recently saved record; the older record
// stays reachable under its own internal id.
func (e *Embedded) Save(_ context.Context, ev *order.Event) error {
	e.mu.Lock()
	e.index(ev)
	e.mu.Unlock()
	e.schedulePersist()
	return nil
}

// SaveBatch stores a batch of orders such that readers observe either
// pre-batch or post-batch state, never a mid-batch partial view.
func (e *Embedded) SaveBatch(_ context.Context, evs []*order.Event) error {
	e.mu.Lock()
	for _, ev := range evs {
		e.index(ev)
	}
	e.mu.Unlock()
	e.schedulePersist()
	return nil
}

// FindByID returns the order with the given id, or nil if absent.
func (e *Embedded) FindByID(_ context.Context, id string) (*order.Event, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byID[id], nil
}

// FindByExternalID returns the order matching (externalID, partnerID), or
// nil if absent.
func (e *Embedded) FindByExternalID(_ context.Context, externalID string, partnerID partner.ID) (*order.Event, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byExtKey[externalKey{partnerID, externalID}], nil
}

// ExistsByExternalID reports whether an order matching (externalID,
// partnerID) has been saved.
func (e *Embedded) ExistsByExternalID(_ context.Context, externalID string, partnerID partner.ID) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.byExtKey[externalKey{partnerID, externalID}]
	return ok, nil
}

func (e *Embedded) matchedLocked(f Filters) []*order.Event {
	out := make([]*order.Event, 0, len(e.order))
	for _, id := range e.order {
		ev := e.byID[id]
		if matches(ev, f) {
			out = append(out, ev)
		}
	}
	return out
}

// FindMany applies filters, sort, then pagination, in that order.
func (e *Embedded) FindMany(_ context.Context, f Filters, p order.Pagination, s Sort) (order.Page[*order.Event], error) {
	e.mu.RLock()
	matched := e.matchedLocked(f)
	e.mu.RUnlock()

	sortEvents(matched, s)

	p = p.Normalize()
	total := len(matched)
	start := (p.Page - 1) * p.PageSize
	end := start + p.PageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return order.NewPage(matched[start:end], total, p), nil
}

// GetStatistics computes OrderStatistics over the filter-matched subset.
func (e *Embedded) GetStatistics(_ context.Context, f Filters) (Statistics, error) {
	e.mu.RLock()
	matched := e.matchedLocked(f)
	e.mu.RUnlock()
	return computeStatistics(matched), nil
}

// Count returns the size of the filter-matched subset.
func (e *Embedded) Count(_ context.Context, f Filters) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.matchedLocked(f)), nil
}

// Clear removes every stored order.
func (e *Embedded) Clear(_ context.Context) error {
	e.mu.Lock()
	e.byID = make(map[string]*order.Event)
	e.byExtKey = make(map[externalKey]*order.Event)
	e.order = nil
	e.mu.Unlock()
	e.schedulePersist()
	return nil
}

func sortEvents(evs []*order.Event, s Sort) {
	if s.Field == "" {
		s = DefaultSort()
	}
	less := func(i, j int) bool {
		a, b := evs[i], evs[j]
		var cmp int
		switch s.Field {
		case SortTransactionTime:
			cmp = compareTime(a.TransactionTime.Time(), b.TransactionTime.Time())
		case SortGrossAmount:
			cmp = a.GrossAmount.Cmp(b.GrossAmount)
		case SortSequenceNumber:
			cmp = compareInt64(a.SequenceNumber, b.SequenceNumber)
		default:
			cmp = compareTime(a.ProcessedAt.Time(), b.ProcessedAt.Time())
		}
		if cmp == 0 {
			return false // stable sort preserves insertion-order tie-break
		}
		if s.Order == Asc {
			return cmp < 0
		}
		return cmp > 0
	}
	sort.SliceStable(evs, less)
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (e *Embedded) schedulePersist() {
	if e.path == "" {
		return
	}
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, e.persist)
	e.mu.Unlock()
}

func (e *Embedded) persist() {
	e.mu.RLock()
	snapshot := make([]*order.Event, 0, len(e.order))
	for _, id := range e.order {
		snapshot = append(snapshot, e.byID[id])
	}
	e.mu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		e.onError(apperr.CodeInternalError, err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		e.onError(apperr.CodeInternalError, err)
		return
	}
	if err := os.WriteFile(e.path, data, 0o644); err != nil {
		e.onError(apperr.CodeInternalError, err)
	}
}

// Flush forces any pending debounced snapshot write to complete
// immediately. Callers should invoke this during graceful shutdown.
func (e *Embedded) Flush() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()
	e.persist()
}
