// Package sequence issues per-partner monotonic sequence numbers, with a
// debounced JSON-file persistence layer so counters survive a restart.
package sequence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/partner"
)

// ErrorSink receives a diagnostic when persistence fails but the in-memory
// counter still advanced: Next keeps issuing usable numbers on a broken
// disk, it just tells someone about it.
type ErrorSink func(code apperr.Code, err error)

// Generator issues monotonic, gap-free sequence numbers per partner.ID.
type Generator struct {
	mu       sync.Mutex
	counters map[partner.ID]int64
	path     string
	debounce time.Duration
	timer    *time.Timer
	onError  ErrorSink
}

// Option configures a Generator at construction time.
type Option func(*Generator)

// WithErrorSink installs the diagnostic channel used on persistence failure.
func WithErrorSink(sink ErrorSink) Option {
	return func(g *Generator) { g.onError = sink }
}

// WithDebounce overrides the default ~100ms persistence debounce.
func WithDebounce(d time.Duration) Option {
	return func(g *Generator) { g.debounce = d }
}

// New constructs a Generator backed by a JSON file at path. If the file
// exists, counters resume from its contents; a missing file starts every
// partner at 0.
func New(path string, opts ...Option) (*Generator, error) {
	g := &Generator{
		counters: make(map[partner.ID]int64),
		path:     path,
		debounce: 100 * time.Millisecond,
		onError:  func(apperr.Code, error) {},
	}
	for _, opt := range opts {
		opt(g)
	}
	if path != "" {
		if err := g.load(); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return g, nil
}

func (g *Generator) load() error {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return err
	}
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if id, ok := partner.ParseID(k); ok {
			g.counters[id] = v
		}
	}
	return nil
}

// Next returns current(partnerId)+1 and atomically stores it as the new
// current value. Concurrent calls for the same partner never observe the
// same returned value; separate partners are independent.
func (g *Generator) Next(partnerID partner.ID) (int64, error) {
	g.mu.Lock()
	g.counters[partnerID]++
	next := g.counters[partnerID]
	g.mu.Unlock()

	g.schedulePersist()
	return next, nil
}

// Current returns the last issued sequence number for partnerID without
// mutating it. Zero if no order has ever been issued.
func (g *Generator) Current(partnerID partner.ID) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counters[partnerID]
}

// Reset zeroes a single partner's counter. Test-only.
func (g *Generator) Reset(partnerID partner.ID) {
	g.mu.Lock()
	g.counters[partnerID] = 0
	g.mu.Unlock()
	g.schedulePersist()
}

// ResetAll zeroes every partner's counter. Test-only.
func (g *Generator) ResetAll() {
	g.mu.Lock()
	for id := range g.counters {
		g.counters[id] = 0
	}
	g.mu.Unlock()
	g.schedulePersist()
}

// schedulePersist arms a debounce timer that writes the counters to disk
// ~100ms after the last mutation, coalescing bursts of Next calls into a
// single write.
func (g *Generator) schedulePersist() {
	if g.path == "" {
		return
	}
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(g.debounce, g.persist)
	g.mu.Unlock()
}

func (g *Generator) persist() {
	g.mu.Lock()
	snapshot := make(map[string]int64, len(g.counters))
	for id, v := range g.counters {
		snapshot[id.String()] = v
	}
	g.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		g.onError(apperr.CodeInternalError, err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		g.onError(apperr.CodeInternalError, err)
		return
	}
	if err := os.WriteFile(g.path, data, 0o644); err != nil {
		g.onError(apperr.CodeInternalError, err)
	}
}

// Flush forces any pending debounced write to complete immediately. Callers
// should invoke this during graceful shutdown so the last issued sequence
// number survives a restart.
func (g *Generator) Flush() {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()
	g.persist()
}
