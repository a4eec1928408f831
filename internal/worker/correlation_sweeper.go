package worker

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is the part of the correlation registry the sweeper drives.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CorrelationSweeper periodically expires correlated requests that never got
// a response.
type CorrelationSweeper struct {
	registry Sweeper
	interval time.Duration
	logger   *slog.Logger
}

func NewCorrelationSweeper(registry Sweeper, interval time.Duration, logger *slog.Logger) *CorrelationSweeper {
	return &CorrelationSweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

func (w *CorrelationSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("starting correlation sweeper", "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping correlation sweeper")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *CorrelationSweeper) RunOnce(ctx context.Context) {
	swept, err := w.registry.Sweep(ctx)
	if err != nil {
		w.logger.Error("correlation sweep failed", "error", err)
	}
	if swept > 0 {
		w.logger.Info("expired correlated requests swept", "count", swept)
	}
}
