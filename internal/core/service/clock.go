package service

import (
	"context"
	"time"

	"github.com/DanielPopoola/librarian/internal/core/ports"
)

type systemClock struct{}

// SystemClock returns the wall clock with a context-aware sleep.
func SystemClock() ports.Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type noopMetrics struct{}

// NoopMetrics discards every observation.
func NoopMetrics() ports.Metrics {
	return noopMetrics{}
}

func (noopMetrics) SagaCompleted(string) {}
func (noopMetrics) LendingActivated() {}
func (noopMetrics) ConflictRetried(string) {}
func (noopMetrics) ResolveAttempt(string, bool) {}
func (noopMetrics) CorrelationExpired(string) {}
func (noopMetrics) MessageHandled(string, string) {}
