package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielPopoola/librarian/internal/adapters/memory"
	"github.com/DanielPopoola/librarian/internal/adapters/messaging"
	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/service"
	"github.com/DanielPopoola/librarian/internal/testhelpers"
)

type pipeline struct {
	bus      *messaging.MemoryBus
	saga     *service.SignupSaga
	lendings *memory.LendingStore
	readers  *memory.ReaderStore
	requests *memory.PendingRequestStore
}

// startPipeline wires every queue onto an in-process bus.
func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	logger := testhelpers.Logger()
	metrics := service.NoopMetrics()
	clock := service.SystemClock()

	bus := messaging.NewMemoryBus(logger)
	requests := memory.NewPendingRequestStore()
	lendings := memory.NewLendingStore()
	books := memory.NewBookStore()
	readers := memory.NewReaderStore()

	retrier := service.NewConflictRetrier(service.RetryPolicy{MaxAttempts: 10, Interval: time.Millisecond}, clock, metrics)
	registry := service.NewCorrelationRegistry(memory.NewCorrelationStore(), bus, clock, metrics, service.CorrelationConfig{}, logger)
	saga := service.NewSignupSaga(requests, readers, bus, retrier, clock, metrics, logger)
	lending := service.NewLendingActivation(lendings, books, readers, registry, bus, retrier, clock, metrics, service.LendingConfig{
		Resolve: service.RetryPolicy{MaxAttempts: 5, Interval: 10 * time.Millisecond},
	}, logger)

	queues := Queues(Services{
		Saga:      saga,
		Lending:   lending,
		Responder: service.NewValidationResponder(books, readers, lendings, bus, clock, 3, logger),
		Projector: service.NewReplicaProjector(books, readers, logger),
	}, time.Second, metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for _, q := range queues {
		go func(q Queue) {
			_ = bus.Subscribe(ctx, q.Name, q.Router.Types(), q.Router.Dispatch)
		}(q)
	}
	for _, q := range queues {
		require.Eventually(t, func() bool { return bus.Subscribed(q.Name) }, time.Second, time.Millisecond)
	}

	return &pipeline{bus: bus, saga: saga, lendings: lendings, readers: readers, requests: requests}
}

func (p *pipeline) publish(t *testing.T, msgType, correlationID string, payload any) {
	t.Helper()
	msg, err := service.NewMessage(msgType, correlationID, payload, time.Now())
	require.NoError(t, err)
	require.NoError(t, p.bus.Publish(context.Background(), msg))
}

func TestQueues_SignupFinalizesOverTheBus(t *testing.T) {
	p := startPipeline(t)

	signup := domain.SignupRequested{ReaderNumber: "r-7", Name: "Bea", Email: "bea@example.com"}
	p.publish(t, domain.TypeSignupRequested, "r-7", signup)
	p.publish(t, domain.TypeSignupRequested, "r-7", signup)
	p.bus.Drain()

	assert.Equal(t, 1, p.requests.Len())
	assert.Len(t, p.bus.Published(domain.TypeUserCreateRequested), 1)
	assert.Len(t, p.bus.Published(domain.TypeReaderCreateRequested), 1)

	p.publish(t, domain.TypePartialBConfirmed, "r-7", domain.PartialBConfirmed{ReaderNumber: "r-7", Name: "Bea", Email: "bea@example.com"})
	p.publish(t, domain.TypePartialAConfirmed, "r-7", domain.PartialAConfirmed{ReaderNumber: "r-7"})
	p.bus.Drain()

	assert.Len(t, p.bus.Published(domain.TypeReaderCreated), 1)
	assert.Equal(t, 0, p.requests.Len())
	assert.Equal(t, 1, p.readers.Len())
}

func TestQueues_LendingActivatesOverTheBus(t *testing.T) {
	p := startPipeline(t)

	p.publish(t, domain.TypeReaderCreated, "r-1", domain.ReaderCreated{ReaderNumber: "r-1", Name: "Ana", Email: "ana@example.com"})
	p.bus.Drain()

	// The book replica lands after the lending request; the request is
	// requeued until it does.
	p.publish(t, domain.TypeLendingCreateRequested, "2025/1", domain.LendingCreateRequested{
		LendingNumber: "2025/1",
		BookKey:       "isbn-1",
		ReaderKey:     "r-1",
		StartDate:     time.Now(),
		LimitDate:     time.Now().Add(24 * time.Hour),
	})
	p.publish(t, domain.TypeBookCreated, "", domain.BookCreated{ISBN: "isbn-1", Title: "Dune"})
	p.bus.Drain()

	lending, found, err := p.lendings.FindByKey(context.Background(), "2025/1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.LendingValidated, lending.Status)
	assert.Len(t, p.bus.Published(domain.TypeLendingActivated), 1)
	assert.Len(t, p.bus.Published(domain.TypeValidationResponded), 2)
}

func TestQueues_ReturnRequestDeliversLending(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()

	p.publish(t, domain.TypeReaderCreated, "r-1", domain.ReaderCreated{ReaderNumber: "r-1", Name: "Ana", Email: "ana@example.com"})
	p.publish(t, domain.TypeBookCreated, "", domain.BookCreated{ISBN: "isbn-1", Title: "Dune"})
	p.bus.Drain()
	p.publish(t, domain.TypeLendingCreateRequested, "2025/2", domain.LendingCreateRequested{
		LendingNumber: "2025/2",
		BookKey:       "isbn-1",
		ReaderKey:     "r-1",
		StartDate:     time.Now(),
		LimitDate:     time.Now().Add(24 * time.Hour),
	})
	p.bus.Drain()

	comment := "great read"
	grade := 9
	p.publish(t, domain.TypeLendingReturnRequested, "2025/2", domain.LendingReturnRequested{
		LendingNumber: "2025/2",
		Comment:       &comment,
		Grade:         &grade,
	})
	p.bus.Drain()

	lending, found, err := p.lendings.FindByKey(ctx, "2025/2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.LendingDelivered, lending.Status)
	require.NotNil(t, lending.Grade)
	assert.Equal(t, 9, *lending.Grade)

	returned := p.bus.Published(domain.TypeLendingReturned)
	require.Len(t, returned, 1)
	evt, err := service.DecodePayload[domain.LendingReturned](returned[0])
	require.NoError(t, err)
	assert.Equal(t, "great read", *evt.Comment)
	assert.False(t, evt.Late)
}
