package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
)

// LookupFunc reads a possibly not yet replicated entity.
type LookupFunc[T any] func(ctx context.Context, key string) (T, bool, error)

// ResolveWithRetry polls lookup until it finds key, sleeping policy.Interval
// between misses. It performs at most policy.MaxAttempts lookups and then
// fails with a *domain.ExhaustedError. The calling goroutine is held for the
// whole window.
func ResolveWithRetry[T any](
	ctx context.Context,
	clock ports.Clock,
	metrics ports.Metrics,
	entity string,
	key string,
	lookup LookupFunc[T],
	policy RetryPolicy,
) (T, error) {
	policy = policy.normalized()
	var zero T

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		value, found, err := lookup(ctx, key)
		if err != nil {
			return zero, fmt.Errorf("resolve %s %s: %w", entity, key, err)
		}
		metrics.ResolveAttempt(entity, found)
		if found {
			return value, nil
		}

		if attempt < policy.MaxAttempts {
			if err := clock.Sleep(ctx, policy.Interval); err != nil {
				return zero, err
			}
		}
	}

	return zero, &domain.ExhaustedError{Entity: entity, Key: key, Attempts: policy.MaxAttempts}
}

// Requeuer answers a miss by republishing the triggering message with a delay
// and an incremented attempt counter, so no worker waits idle.
type Requeuer struct {
	publisher ports.Publisher
	metrics   ports.Metrics
	policy    RetryPolicy
	logger    *slog.Logger
}

func NewRequeuer(publisher ports.Publisher, metrics ports.Metrics, policy RetryPolicy, logger *slog.Logger) *Requeuer {
	return &Requeuer{
		publisher: publisher,
		metrics:   metrics,
		policy:    policy.normalized(),
		logger:    logger,
	}
}

// ResolveOrRequeue performs one lookup for the delivery msg represents. When
// the entity is absent and attempts remain, msg is scheduled again and
// requeued is true. Each entity has its own budget, tracked in msg.Lookups,
// so a reference found late does not use up the next one's attempts. After
// the last attempt it fails with *domain.ExhaustedError.
func ResolveOrRequeue[T any](
	ctx context.Context,
	r *Requeuer,
	msg ports.Message,
	entity string,
	key string,
	lookup LookupFunc[T],
) (value T, requeued bool, err error) {
	value, found, err := lookup(ctx, key)
	if err != nil {
		return value, false, fmt.Errorf("resolve %s %s: %w", entity, key, err)
	}
	r.metrics.ResolveAttempt(entity, found)
	if found {
		return value, false, nil
	}

	attempt := msg.Lookups[entity] + 1
	if attempt >= r.policy.MaxAttempts {
		return value, false, &domain.ExhaustedError{Entity: entity, Key: key, Attempts: attempt}
	}

	next := msg
	next.Attempt = msg.Attempt + 1
	next.Lookups = make(map[string]int, len(msg.Lookups)+1)
	for k, v := range msg.Lookups {
		next.Lookups[k] = v
	}
	next.Lookups[entity] = attempt
	if err := r.publisher.PublishDelayed(ctx, next, r.policy.Interval); err != nil {
		return value, false, fmt.Errorf("requeue %s %s: %w", entity, key, err)
	}

	r.logger.Info("reference not replicated yet, requeued",
		"entity", entity,
		"key", key,
		"attempt", attempt,
		"max_attempts", r.policy.MaxAttempts,
		"delay", r.policy.Interval,
	)
	return value, true, nil
}
