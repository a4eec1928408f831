package ports

import (
	"context"
	"time"
)

// Message is the envelope every bus driver carries. Type is also the routing
// key; Attempt counts deliveries made through delayed requeue and Lookups
// counts, per referenced entity, the lookups that missed.
type Message struct {
	ID            string
	Type          string
	CorrelationID string
	Attempt       int
	Lookups       map[string]int
	OccurredAt    time.Time
	Payload       []byte
}

// Publisher is fire-and-forget: no ordering, at-least-once.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	// PublishDelayed makes msg visible to consumers no earlier than delay.
	PublishDelayed(ctx context.Context, msg Message, delay time.Duration) error
}

type Handler func(ctx context.Context, msg Message) error

// Subscriber delivers messages of the given types from a named queue to
// handler, each on its own worker. Subscribe blocks until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, queue string, types []string, handler Handler) error
}

type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Clock is the time source for retry delays.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// Metrics receives counters from the consistency machinery.
type Metrics interface {
	SagaCompleted(status string)
	LendingActivated()
	ConflictRetried(operation string)
	ResolveAttempt(entity string, found bool)
	CorrelationExpired(kind string)
	MessageHandled(msgType, outcome string)
}
