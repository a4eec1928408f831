package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/DanielPopoola/librarian/internal/core/ports"
)

var ErrBusClosed = errors.New("bus closed")

type memorySubscription struct {
	ctx     context.Context
	types   []string
	handler ports.Handler
}

// MemoryBus delivers in process. Every subscribed queue gets its own copy of
// a matching message, each delivery runs on its own goroutine.
type MemoryBus struct {
	mu        sync.RWMutex
	queues    map[string][]*memorySubscription
	next      map[string]int
	closed    bool
	inflight  sync.WaitGroup
	published []ports.Message
	logger    *slog.Logger
}

func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	return &MemoryBus{
		queues: make(map[string][]*memorySubscription),
		next:   make(map[string]int),
		logger: logger,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, msg ports.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.published = append(b.published, msg)

	var targets []*memorySubscription
	for queue, subs := range b.queues {
		if len(subs) == 0 || !matches(subs[0].types, msg.Type) {
			continue
		}
		// Subscribers of one queue compete for its messages.
		idx := b.next[queue] % len(subs)
		b.next[queue]++
		targets = append(targets, subs[idx])
	}
	b.inflight.Add(len(targets))
	b.mu.Unlock()

	for _, sub := range targets {
		go b.deliver(sub, msg)
	}
	return nil
}

func (b *MemoryBus) deliver(sub *memorySubscription, msg ports.Message) {
	defer b.inflight.Done()
	if sub.ctx.Err() != nil {
		return
	}
	if err := sub.handler(sub.ctx, msg); err != nil {
		b.logger.Debug("memory bus handler returned error",
			"type", msg.Type,
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// PublishDelayed schedules msg on a timer. Pending timers count as in flight
// for Drain.
func (b *MemoryBus) PublishDelayed(ctx context.Context, msg ports.Message, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	b.inflight.Add(1)
	time.AfterFunc(delay, func() {
		defer b.inflight.Done()
		if err := b.Publish(context.Background(), msg); err != nil {
			b.logger.Warn("delayed publish dropped", "type", msg.Type, "message_id", msg.ID, "error", err)
		}
	})
	return nil
}

// Subscribe registers handler for queue and blocks until ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, queue string, types []string, handler ports.Handler) error {
	sub := &memorySubscription{ctx: ctx, types: types, handler: handler}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.queues[queue] = append(b.queues[queue], sub)
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	subs := b.queues[queue]
	for i, s := range subs {
		if s == sub {
			b.queues[queue] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.queues[queue]) == 0 {
		delete(b.queues, queue)
	}
	b.mu.Unlock()
	return nil
}

// Subscribed reports whether queue has at least one subscriber.
func (b *MemoryBus) Subscribed(queue string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queues[queue]) > 0
}

// Drain waits until every delivery and pending delayed publish finished.
func (b *MemoryBus) Drain() {
	b.inflight.Wait()
}

// Published returns every message accepted so far, optionally filtered by type.
func (b *MemoryBus) Published(types ...string) []ports.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []ports.Message
	for _, msg := range b.published {
		if len(types) == 0 || matches(types, msg.Type) {
			out = append(out, msg)
		}
	}
	return out
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
