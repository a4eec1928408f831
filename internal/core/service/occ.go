package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
)

// ConflictRetrier re-runs read-modify-write operations that lost an
// optimistic-concurrency race.
type ConflictRetrier struct {
	policy  RetryPolicy
	clock   ports.Clock
	metrics ports.Metrics
}

func NewConflictRetrier(policy RetryPolicy, clock ports.Clock, metrics ports.Metrics) *ConflictRetrier {
	return &ConflictRetrier{
		policy:  policy.normalized(),
		clock:   clock,
		metrics: metrics,
	}
}

// WithRetry executes op until it succeeds, fails with something other than a
// version conflict, or runs out of attempts. op must reload the entity on
// every call; a stale copy would conflict forever.
func (r *ConflictRetrier) WithRetry(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}

		lastErr = err
		r.metrics.ConflictRetried(operation)

		if attempt < r.policy.MaxAttempts {
			if err := r.clock.Sleep(ctx, r.policy.Interval); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%s: conflict persisted after %d attempts: %w", operation, r.policy.MaxAttempts, lastErr)
}
