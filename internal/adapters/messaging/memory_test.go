package messaging

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielPopoola/librarian/internal/core/ports"
	"github.com/DanielPopoola/librarian/internal/testhelpers"
)

func subscribe(t *testing.T, bus *MemoryBus, queue string, types []string, handler ports.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = bus.Subscribe(ctx, queue, types, handler) }()
	require.Eventually(t, func() bool { return bus.Subscribed(queue) }, time.Second, time.Millisecond)
}

func TestMemoryBus_EveryQueueGetsACopy(t *testing.T) {
	bus := NewMemoryBus(testhelpers.Logger())
	var lending, replica, validation atomic.Int32

	subscribe(t, bus, "lending", []string{"book.created"}, func(ctx context.Context, msg ports.Message) error {
		lending.Add(1)
		return nil
	})
	subscribe(t, bus, "replica", []string{"book.created", "reader.created"}, func(ctx context.Context, msg ports.Message) error {
		replica.Add(1)
		return nil
	})
	subscribe(t, bus, "validation", []string{"validation.book-requested"}, func(ctx context.Context, msg ports.Message) error {
		validation.Add(1)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), ports.Message{ID: "m-1", Type: "book.created"}))
	bus.Drain()

	assert.Equal(t, int32(1), lending.Load())
	assert.Equal(t, int32(1), replica.Load())
	assert.Equal(t, int32(0), validation.Load())
	assert.Len(t, bus.Published("book.created"), 1)
}

func TestMemoryBus_SubscribersOfOneQueueCompete(t *testing.T) {
	bus := NewMemoryBus(testhelpers.Logger())
	var total atomic.Int32
	handler := func(ctx context.Context, msg ports.Message) error {
		total.Add(1)
		return nil
	}

	subscribe(t, bus, "replica", []string{"book.created"}, handler)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = bus.Subscribe(ctx, "replica", []string{"book.created"}, handler) }()
	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.queues["replica"]) == 2
	}, time.Second, time.Millisecond)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(context.Background(), ports.Message{Type: "book.created"}))
	}
	bus.Drain()

	assert.Equal(t, int32(10), total.Load())
}

func TestMemoryBus_PublishDelayed(t *testing.T) {
	bus := NewMemoryBus(testhelpers.Logger())

	var (
		mu       sync.Mutex
		received []ports.Message
	)
	subscribe(t, bus, "lending", []string{"lending.create-requested"}, func(ctx context.Context, msg ports.Message) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
		return nil
	})

	start := time.Now()
	require.NoError(t, bus.PublishDelayed(context.Background(), ports.Message{ID: "m-1", Type: "lending.create-requested", Attempt: 1}, 30*time.Millisecond))
	bus.Drain()

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, 1, received[0].Attempt)
}

func TestMemoryBus_SubscribeReturnsOnCancel(t *testing.T) {
	bus := NewMemoryBus(testhelpers.Logger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- bus.Subscribe(ctx, "replica", []string{"book.created"}, func(context.Context, ports.Message) error { return nil }) }()
	require.Eventually(t, func() bool { return bus.Subscribed("replica") }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
	assert.False(t, bus.Subscribed("replica"))
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus(testhelpers.Logger())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), ports.Message{Type: "book.created"}), ErrBusClosed)
	assert.ErrorIs(t, bus.PublishDelayed(context.Background(), ports.Message{Type: "book.created"}, time.Millisecond), ErrBusClosed)
}

func TestKafkaBus_CloseCancelsDelayedPublishes(t *testing.T) {
	bus := NewKafkaBus(KafkaConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "librarian.test"}, testhelpers.Logger())

	require.NoError(t, bus.PublishDelayed(context.Background(), sampleMessage(), time.Hour))
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.PublishDelayed(context.Background(), sampleMessage(), time.Hour), ErrBusClosed)
}
