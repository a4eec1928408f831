package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/librarian/internal/core/ports"
	"github.com/DanielPopoola/librarian/internal/core/service"
)

// LendingReconciler republishes lending.activated for lendings whose
// activation was saved but whose event never made it onto the bus.
type LendingReconciler struct {
	lendings   ports.LendingRepository
	activation *service.LendingActivation
	clock      ports.Clock
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
}

func NewLendingReconciler(
	lendings ports.LendingRepository,
	activation *service.LendingActivation,
	clock ports.Clock,
	interval time.Duration,
	staleAfter time.Duration,
	batchSize int,
	logger *slog.Logger,
) *LendingReconciler {
	return &LendingReconciler{
		lendings:   lendings,
		activation: activation,
		clock:      clock,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		logger:     logger,
	}
}

func (r *LendingReconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("starting lending reconciler", "interval", r.interval, "batch_size", r.batchSize)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping lending reconciler")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single reconciliation cycle.
func (r *LendingReconciler) RunOnce(ctx context.Context) {
	cutoff := r.clock.Now().Add(-r.staleAfter)

	stuck, err := r.lendings.FindAwaitingActivation(ctx, cutoff, r.batchSize)
	if err != nil {
		r.logger.Error("failed to fetch lendings awaiting activation", "error", err)
		return
	}
	if len(stuck) == 0 {
		return
	}

	r.logger.Info("announcing activated lendings", "count", len(stuck))

	for _, lending := range stuck {
		if err := r.activation.AnnounceActivation(ctx, lending); err != nil {
			r.logger.Error("failed to announce lending activation",
				"lending_number", lending.Number.String(),
				"error", err,
			)
		}
	}
}
