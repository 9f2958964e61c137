package errorrepo

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/order"
)

// Embedded is the in-memory, debounced-JSON-snapshot backend, mirroring
// orderrepo.Embedded's shape without the secondary index.
type Embedded struct {
	mu    sync.RWMutex
	byID  map[string]*order.ErrorEvent
	order []string

	path     string
	debounce time.Duration
	timer    *time.Timer
	onError  func(code apperr.Code, err error)

	ttl       time.Duration
	sweepDone chan struct{}
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

// WithTTL enables a background sweep that evicts error events older than
// ttl. Zero (the default) retains events indefinitely.
func WithTTL(ttl time.Duration) EmbeddedOption {
	return func(e *Embedded) { e.ttl = ttl }
}

// NewEmbedded constructs an Embedded error repository.
func NewEmbedded(opts ...EmbeddedOption) (*Embedded, error) {
	e := &Embedded{
		byID:     make(map[string]*order.ErrorEvent),
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
	if e.ttl > 0 {
		e.startSweep()
	}
	return e, nil
}

func (e *Embedded) load() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return err
	}
	var snapshot []*order.ErrorEvent
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	for _, ev := range snapshot {
		e.index(ev)
	}
	return nil
}

func (e *Embedded) index(ev *order.ErrorEvent) {
	if ev.ID == (uuid.UUID{}) {
		ev.ID = uuid.New()
	}
	id := ev.ID.String()
	if _, exists := e.byID[id]; !exists {
		e.order = append(e.order, id)
	}
	e.byID[id] = ev
}

// Save stores a single error event, assigning a UUID if one is missing.
func (e *Embedded) Save(_ context.Context, ev *order.ErrorEvent) error {
	e.mu.Lock()
	e.index(ev)
	e.mu.Unlock()
	e.schedulePersist()
	return nil
}

// SaveBatch stores a batch of error events atomically.
func (e *Embedded) SaveBatch(_ context.Context, evs []*order.ErrorEvent) error {
	e.mu.Lock()
	for _, ev := range evs {
		e.index(ev)
	}
	e.mu.Unlock()
	e.schedulePersist()
	return nil
}

// FindByID returns the error event with the given id, or nil if absent.
func (e *Embedded) FindByID(_ context.Context, id string) (*order.ErrorEvent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byID[id], nil
}

func (e *Embedded) matchedLocked(f Filters) []*order.ErrorEvent {
	out := make([]*order.ErrorEvent, 0, len(e.order))
	for _, id := range e.order {
		ev := e.byID[id]
		if matches(ev, f) {
			out = append(out, ev)
		}
	}
	return out
}

// FindMany applies filters, sorts by timestamp, then paginates.
func (e *Embedded) FindMany(_ context.Context, f Filters, p order.Pagination, sortOrder SortOrder) (order.Page[*order.ErrorEvent], error) {
	e.mu.RLock()
	matched := e.matchedLocked(f)
	e.mu.RUnlock()

	if sortOrder == "" {
		sortOrder = DefaultSortOrder
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i].Timestamp, matched[j].Timestamp
		if a.Equal(b) {
			return false
		}
		if sortOrder == Asc {
			return a.Before(b)
		}
		return a.After(b)
	})

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

// GetStatistics computes Statistics over the filter-matched subset,
// evaluated as of time.Now().
func (e *Embedded) GetStatistics(_ context.Context, f Filters) (Statistics, error) {
	e.mu.RLock()
	matched := e.matchedLocked(f)
	e.mu.RUnlock()
	return computeStatistics(matched, time.Now().UTC()), nil
}

// Count returns the size of the filter-matched subset.
func (e *Embedded) Count(_ context.Context, f Filters) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.matchedLocked(f)), nil
}

// Clear removes every stored error event.
func (e *Embedded) Clear(_ context.Context) error {
	e.mu.Lock()
	e.byID = make(map[string]*order.ErrorEvent)
	e.order = nil
	e.mu.Unlock()
	e.schedulePersist()
	return nil
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
	snapshot := make([]*order.ErrorEvent, 0, len(e.order))
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
// immediately.
func (e *Embedded) Flush() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()
	e.persist()
}

// startSweep launches a background goroutine that evicts error events
// older than the configured TTL once per interval.
func (e *Embedded) startSweep() {
	e.sweepDone = make(chan struct{})
	interval := e.ttl / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-e.sweepDone:
				return
			case <-ticker.C:
				e.sweep()
			}
		}
	}()
}

func (e *Embedded) sweep() {
	cutoff := time.Now().UTC().Add(-e.ttl)
	e.mu.Lock()
	kept := e.order[:0:0]
	for _, id := range e.order {
		if e.byID[id].Timestamp.Before(cutoff) {
			delete(e.byID, id)
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
	e.mu.Unlock()
	e.schedulePersist()
}

// StopSweep halts the TTL sweep goroutine, if one was started. Callers
// should invoke this during graceful shutdown.
func (e *Embedded) StopSweep() {
	if e.sweepDone != nil {
		close(e.sweepDone)
	}
}
