package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/DanielPopoola/librarian/internal/adapters/memory"
	"github.com/DanielPopoola/librarian/internal/core/ports"
	"github.com/DanielPopoola/librarian/internal/testhelpers"
)

var testStart = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

type delayedMessage struct {
	Msg   ports.Message
	Delay time.Duration
}

// recordingPublisher keeps everything published. PublishFn, when set,
// decides the result of Publish.
type recordingPublisher struct {
	mu        sync.Mutex
	published []ports.Message
	delayed   []delayedMessage
	PublishFn func(msg ports.Message) error
}

func (p *recordingPublisher) Publish(_ context.Context, msg ports.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PublishFn != nil {
		if err := p.PublishFn(msg); err != nil {
			return err
		}
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *recordingPublisher) PublishDelayed(_ context.Context, msg ports.Message, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delayed = append(p.delayed, delayedMessage{Msg: msg, Delay: delay})
	return nil
}

func (p *recordingPublisher) Messages(msgType string) []ports.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ports.Message
	for _, m := range p.published {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (p *recordingPublisher) Delayed() []delayedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]delayedMessage(nil), p.delayed...)
}

// mockPublisher is a testify mock for call-level expectations.
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, msg ports.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockPublisher) PublishDelayed(ctx context.Context, msg ports.Message, delay time.Duration) error {
	args := m.Called(ctx, msg, delay)
	return args.Error(0)
}

type fixture struct {
	clock        *testhelpers.FakeClock
	pub          *recordingPublisher
	requests     *memory.PendingRequestStore
	lendings     *memory.LendingStore
	books        *memory.BookStore
	readers      *memory.ReaderStore
	correlations *memory.CorrelationStore

	retrier   *ConflictRetrier
	registry  *CorrelationRegistry
	saga      *SignupSaga
	lending   *LendingActivation
	responder *ValidationResponder
	projector *ReplicaProjector
}

type fixtureOptions struct {
	correlation    CorrelationConfig
	lending        LendingConfig
	maxOutstanding int
}

func newFixture(t *testing.T, opts ...func(*fixtureOptions)) *fixture {
	t.Helper()

	o := fixtureOptions{
		lending: LendingConfig{
			ResolveMode: ResolveRequeue,
			Resolve:     RetryPolicy{MaxAttempts: 3, Interval: time.Second},
		},
		maxOutstanding: 3,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := testhelpers.Logger()
	metrics := NoopMetrics()

	f := &fixture{
		clock:        testhelpers.NewFakeClock(testStart),
		pub:          &recordingPublisher{},
		requests:     memory.NewPendingRequestStore(),
		lendings:     memory.NewLendingStore(),
		books:        memory.NewBookStore(),
		readers:      memory.NewReaderStore(),
		correlations: memory.NewCorrelationStore(),
	}

	f.retrier = NewConflictRetrier(RetryPolicy{MaxAttempts: 10, Interval: time.Millisecond}, f.clock, metrics)
	f.registry = NewCorrelationRegistry(f.correlations, f.pub, f.clock, metrics, o.correlation, logger)
	f.saga = NewSignupSaga(f.requests, f.readers, f.pub, f.retrier, f.clock, metrics, logger)
	f.lending = NewLendingActivation(f.lendings, f.books, f.readers, f.registry, f.pub, f.retrier, f.clock, metrics, o.lending, logger)
	f.responder = NewValidationResponder(f.books, f.readers, f.lendings, f.pub, f.clock, o.maxOutstanding, logger)
	f.projector = NewReplicaProjector(f.books, f.readers, logger)
	return f
}
