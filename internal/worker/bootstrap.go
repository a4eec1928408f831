package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielPopoola/librarian/internal/core/ports"
)

const bootstrapLockName = "startup-reconciliation"

// Runner is a single pass of a background worker.
type Runner interface {
	RunOnce(ctx context.Context)
}

// Bootstrap runs one reconciliation pass at startup. Instances starting at
// the same time race for a row lock; only the winner runs the pass. A lock
// left behind by a crashed holder is taken over after lockTTL.
type Bootstrap struct {
	lock    ports.BootstrapLock
	owner   string
	lockTTL time.Duration
	runners []Runner
	logger  *slog.Logger
}

func NewBootstrap(lock ports.BootstrapLock, owner string, lockTTL time.Duration, logger *slog.Logger, runners ...Runner) *Bootstrap {
	return &Bootstrap{
		lock:    lock,
		owner:   owner,
		lockTTL: lockTTL,
		runners: runners,
		logger:  logger,
	}
}

// Run reports whether this instance held the lock and ran the pass.
func (b *Bootstrap) Run(ctx context.Context) (bool, error) {
	acquired, err := b.lock.TryAcquire(ctx, bootstrapLockName, b.owner, b.lockTTL)
	if err != nil {
		return false, fmt.Errorf("bootstrap: %w", err)
	}
	if !acquired {
		b.logger.Info("startup reconciliation already running elsewhere", "owner", b.owner)
		return false, nil
	}
	defer func() {
		if err := b.lock.Release(context.WithoutCancel(ctx), bootstrapLockName, b.owner); err != nil {
			b.logger.Error("failed to release bootstrap lock", "error", err)
		}
	}()

	b.logger.Info("running startup reconciliation", "owner", b.owner)
	for _, r := range b.runners {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		r.RunOnce(ctx)
	}
	return true, nil
}
