// Package streambus is the pub/sub fan-out between the feed coordinator
// and its subscribers (order repository writer, error repository writer,
// websocket broadcaster). Two backends are provided: Local, an in-process
// synchronous bus, and Redis, a Pub/Sub mirror for deployments that want
// events visible outside the process.
package streambus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Kind is one of the two multiplexed event kinds.
type Kind string

const (
	KindValidOrder Kind = "VALID_ORDER"
	KindErrorOrder Kind = "ERROR_ORDER"
)

// Subscriber receives every payload emitted for the Kind it subscribed to,
// in subscription order and in emission order. Local calls each Subscriber
// in turn and waits for it to return before calling the next; Redis calls
// it from its background receive loop. A returned error is logged and surfaced through onError but
// never prevents delivery to the other subscribers of the same event.
type Subscriber func(ctx context.Context, payload any) error

// Bus is the stream contract: emit/subscribe/unsubscribe plus an in-memory
// history for test introspection.
type Bus interface {
	Subscribe(kind Kind, sub Subscriber) (unsubscribe func())
	Emit(ctx context.Context, kind Kind, payload any)
	History(kind Kind) []any
}

// Local is the default, in-process synchronous fan-out bus. Errors raised
// by one subscriber never prevent delivery to the others; they are logged
// and reported through the onError hook.
type Local struct {
	mu          sync.Mutex
	subscribers map[Kind][]*subscription
	history     map[Kind][]any
	onError     func(kind Kind, err any)
	logger      *slog.Logger
	nextID      uint64
}

type subscription struct {
	id uint64
	fn Subscriber
}

// LocalOption configures a Local bus at construction time.
type LocalOption func(*Local)

// WithOnError installs a hook invoked when a subscriber returns an error or
// panics.
func WithOnError(fn func(kind Kind, err any)) LocalOption {
	return func(b *Local) { b.onError = fn }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) LocalOption {
	return func(b *Local) { b.logger = l }
}

// NewLocal constructs an empty Local bus.
func NewLocal(opts ...LocalOption) *Local {
	b := &Local{
		subscribers: make(map[Kind][]*subscription),
		history:     make(map[Kind][]any),
		onError:     func(Kind, any) {},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers sub for kind and returns a function that removes it.
func (b *Local) Subscribe(kind Kind, sub Subscriber) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[kind] = append(b.subscribers[kind], &subscription{id: id, fn: sub})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subscribers[kind]
		for i, s := range list {
			if s.id == id {
				b.subscribers[kind] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Emit invokes every current subscriber for kind, in subscription order,
// and appends payload to the kind's history. The snapshot of subscribers
// is taken at emit-entry so subscribe/unsubscribe mid-emit cannot corrupt
// the iteration, and a subscriber added mid-emit does not receive this
// event.
func (b *Local) Emit(ctx context.Context, kind Kind, payload any) {
	b.mu.Lock()
	snapshot := make([]*subscription, len(b.subscribers[kind]))
	copy(snapshot, b.subscribers[kind])
	b.history[kind] = append(b.history[kind], payload)
	b.mu.Unlock()

	for _, s := range snapshot {
		b.deliver(ctx, kind, s, payload)
	}
}

func (b *Local) deliver(ctx context.Context, kind Kind, s *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("streambus subscriber panicked", "kind", kind, "recover", r)
			b.onError(kind, r)
		}
	}()
	if err := s.fn(ctx, payload); err != nil {
		b.logger.Error("streambus subscriber returned an error", "kind", kind, "error", err)
		b.onError(kind, err)
	}
}

// History returns the in-memory history of payloads emitted for kind.
func (b *Local) History(kind Kind) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]any, len(b.history[kind]))
	copy(out, b.history[kind])
	return out
}

// Redis is a Pub/Sub-backed Bus for deployments that want the event
// stream visible to external consumers. It embeds *redis.Client directly.
type Redis struct {
	*redis.Client
	logger  *slog.Logger
	mu      sync.Mutex
	history map[Kind][]any
	cancels []context.CancelFunc
}

// NewRedis wraps an existing redis.Client as a Bus.
func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{Client: client, logger: logger, history: make(map[Kind][]any)}
}

// Subscribe starts a background receive loop on the Redis channel named by
// kind. The returned unsubscribe function stops that loop.
func (b *Redis) Subscribe(kind Kind, sub Subscriber) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ps := b.Client.Subscribe(ctx, string(kind))

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				ps.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var payload any
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					b.logger.Error("streambus: undecodable redis payload", "kind", kind, "error", err)
					continue
				}
				if err := sub(ctx, payload); err != nil {
					b.logger.Error("streambus subscriber returned an error", "kind", kind, "error", err)
				}
			}
		}
	}()

	b.mu.Lock()
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()

	return cancel
}

// Emit publishes payload as JSON on the Redis channel named by kind and
// records it in the local in-process history for introspection.
func (b *Redis) Emit(ctx context.Context, kind Kind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("streambus: payload not encodable", "kind", kind, "error", err)
		return
	}

	b.mu.Lock()
	b.history[kind] = append(b.history[kind], payload)
	b.mu.Unlock()

	if err := b.Client.Publish(ctx, string(kind), data).Err(); err != nil {
		b.logger.Error("streambus: redis publish failed", "kind", kind, "error", err)
	}
}

// History returns the in-memory history of payloads emitted for kind.
func (b *Redis) History(kind Kind) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]any, len(b.history[kind]))
	copy(out, b.history[kind])
	return out
}

// Close stops every active Subscribe loop.
func (b *Redis) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
}

// Composite layers a mirror Bus (e.g. Redis) onto a Local bus without
// weakening Local's synchronous in-process contract: Subscribe always
// registers against local, so the persistence writers still run to
// completion inside Emit's call stack, while every Emit is additionally
// mirrored out for external consumers.
type Composite struct {
	local  *Local
	mirror Bus
}

// NewComposite builds a Composite wiring mirror alongside local.
func NewComposite(local *Local, mirror Bus) *Composite {
	return &Composite{local: local, mirror: mirror}
}

// Subscribe registers sub on the local bus only; the mirror bus carries no
// in-process subscribers, only the emitted wire payloads.
func (c *Composite) Subscribe(kind Kind, sub Subscriber) func() {
	return c.local.Subscribe(kind, sub)
}

// Emit runs every local subscriber to completion first — preserving the
// ordering and error-isolation guarantees of Local.Emit — then mirrors the
// same payload out to the secondary bus.
func (c *Composite) Emit(ctx context.Context, kind Kind, payload any) {
	c.local.Emit(ctx, kind, payload)
	c.mirror.Emit(ctx, kind, payload)
}

// History returns the local bus's history, the same introspection
// surface a plain Local bus offers.
func (c *Composite) History(kind Kind) []any {
	return c.local.History(kind)
}

// Close releases the mirror bus's background resources, if it has any
// (e.g. Redis's Subscribe loops). The local bus holds none to release.
func (c *Composite) Close() {
	if closer, ok := c.mirror.(interface{ Close() }); ok {
		closer.Close()
	}
}
