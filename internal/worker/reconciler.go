package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
	"github.com/DanielPopoola/librarian/internal/core/service"
)

// SagaReconciler finishes signups a crash left half done: finalized requests
// that were never deleted, and BOTH_RECEIVED requests whose finalize never ran.
type SagaReconciler struct {
	requests   ports.PendingRequestRepository
	saga       *service.SignupSaga
	clock      ports.Clock
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
}

func NewSagaReconciler(
	requests ports.PendingRequestRepository,
	saga *service.SignupSaga,
	clock ports.Clock,
	interval time.Duration,
	staleAfter time.Duration,
	batchSize int,
	logger *slog.Logger,
) *SagaReconciler {
	return &SagaReconciler{
		requests:   requests,
		saga:       saga,
		clock:      clock,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		logger:     logger,
	}
}

func (r *SagaReconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("starting saga reconciler", "interval", r.interval, "batch_size", r.batchSize)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping saga reconciler")
			return
		case <-ticker.C:
			r.run(ctx)
		}
	}
}

// RunOnce executes a single reconciliation cycle.
func (r *SagaReconciler) RunOnce(ctx context.Context) {
	r.run(ctx)
}

func (r *SagaReconciler) run(ctx context.Context) {
	cutoff := r.clock.Now().Add(-r.staleAfter)
	r.completeFinalized(ctx, cutoff)
	r.retryFinalize(ctx, cutoff)
}

func (r *SagaReconciler) completeFinalized(ctx context.Context, cutoff time.Time) {
	stuck, err := r.requests.FindByStatus(ctx, domain.SagaFinalized, cutoff, r.batchSize)
	if err != nil {
		r.logger.Error("failed to fetch finalized signups", "error", err)
		return
	}
	if len(stuck) == 0 {
		return
	}

	r.logger.Info("completing finalized signups", "count", len(stuck))

	for _, request := range stuck {
		reader, found, err := r.saga.Reader(ctx, request.NaturalKey)
		if err != nil {
			r.logger.Error("failed to load reader for finalized signup", "reader_number", request.NaturalKey, "error", err)
			continue
		}
		if !found {
			r.logger.Error("finalized signup has no reader replica", "reader_number", request.NaturalKey)
			continue
		}
		if err := r.saga.Complete(ctx, request, reader); err != nil {
			r.logger.Error("failed to complete finalized signup", "reader_number", request.NaturalKey, "error", err)
		}
	}
}

func (r *SagaReconciler) retryFinalize(ctx context.Context, cutoff time.Time) {
	stuck, err := r.requests.FindByStatus(ctx, domain.SagaBothReceived, cutoff, r.batchSize)
	if err != nil {
		r.logger.Error("failed to fetch confirmed signups", "error", err)
		return
	}
	if len(stuck) == 0 {
		return
	}

	r.logger.Info("finalizing confirmed signups", "count", len(stuck))

	for _, request := range stuck {
		if err := r.saga.TryFinalize(ctx, request.NaturalKey); err != nil {
			r.logger.Error("failed to finalize signup", "reader_number", request.NaturalKey, "error", err)
		}
	}
}
