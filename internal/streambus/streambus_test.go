package streambus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_EmitDeliversToAllSubscribers(t *testing.T) {
	b := NewLocal()
	var mu sync.Mutex
	var got []any

	b.Subscribe(KindValidOrder, func(_ context.Context, payload any) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, payload)
		return nil
	})
	b.Subscribe(KindValidOrder, func(_ context.Context, payload any) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, payload)
		return nil
	})

	b.Emit(context.Background(), KindValidOrder, "order-1")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"order-1", "order-1"}, got)
}

func TestLocal_SubscriberErrorDoesNotBlockOthers(t *testing.T) {
	var errKinds []Kind
	b := NewLocal(WithOnError(func(kind Kind, err any) { errKinds = append(errKinds, kind) }))

	delivered := false
	b.Subscribe(KindValidOrder, func(context.Context, any) error { return errors.New("boom") })
	b.Subscribe(KindValidOrder, func(context.Context, any) error { delivered = true; return nil })

	b.Emit(context.Background(), KindValidOrder, "x")
	assert.True(t, delivered)
	require.Len(t, errKinds, 1)
}

func TestLocal_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewLocal()
	count := 0
	unsub := b.Subscribe(KindErrorOrder, func(context.Context, any) error { count++; return nil })
	b.Emit(context.Background(), KindErrorOrder, "a")
	unsub()
	b.Emit(context.Background(), KindErrorOrder, "b")
	assert.Equal(t, 1, count)
}

func TestLocal_History(t *testing.T) {
	b := NewLocal()
	b.Emit(context.Background(), KindValidOrder, "one")
	b.Emit(context.Background(), KindValidOrder, "two")
	assert.Equal(t, []any{"one", "two"}, b.History(KindValidOrder))
	assert.Empty(t, b.History(KindErrorOrder))
}

func TestLocal_LateSubscriberMissesPastEvents(t *testing.T) {
	b := NewLocal()
	b.Emit(context.Background(), KindValidOrder, "before")
	count := 0
	b.Subscribe(KindValidOrder, func(context.Context, any) error { count++; return nil })
	b.Emit(context.Background(), KindValidOrder, "after")
	assert.Equal(t, 1, count)
}

// recordingBus is a minimal Bus used as a Composite mirror in tests: it
// records every Emit call without doing any I/O of its own.
type recordingBus struct {
	mu      sync.Mutex
	emitted []any
	closed  bool
}

func (r *recordingBus) Subscribe(Kind, Subscriber) func() { return func() {} }

func (r *recordingBus) Emit(_ context.Context, _ Kind, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, payload)
}

func (r *recordingBus) History(Kind) []any { return nil }

func (r *recordingBus) Close() { r.closed = true }

func TestComposite_SubscribeOnlyRegistersOnLocal(t *testing.T) {
	local := NewLocal()
	mirror := &recordingBus{}
	c := NewComposite(local, mirror)

	delivered := false
	c.Subscribe(KindValidOrder, func(context.Context, any) error { delivered = true; return nil })

	c.Emit(context.Background(), KindValidOrder, "order-1")

	assert.True(t, delivered, "local subscriber must still run synchronously")
	assert.Equal(t, []any{"order-1"}, mirror.emitted, "the same payload must also reach the mirror bus")
}

func TestComposite_HistoryReflectsLocalOnly(t *testing.T) {
	local := NewLocal()
	mirror := &recordingBus{}
	c := NewComposite(local, mirror)

	c.Emit(context.Background(), KindErrorOrder, "e1")
	assert.Equal(t, []any{"e1"}, c.History(KindErrorOrder))
}

func TestComposite_CloseClosesTheMirror(t *testing.T) {
	local := NewLocal()
	mirror := &recordingBus{}
	c := NewComposite(local, mirror)

	c.Close()
	assert.True(t, mirror.closed)
}
