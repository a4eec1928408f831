package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/DanielPopoola/librarian/internal/core/ports"
)

// BootstrapLock is a row in bootstrap_locks; whoever inserts it first holds
// it until it is released or goes stale.
type BootstrapLock struct {
	q Executor
}

func NewBootstrapLock(db *DB) ports.BootstrapLock {
	return &BootstrapLock{q: db.Pool}
}

func (l *BootstrapLock) TryAcquire(ctx context.Context, name, owner string, staleAfter time.Duration) (bool, error) {
	query := `INSERT INTO bootstrap_locks (name, owner, acquired_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO NOTHING`
	args := []any{name, owner}
	if staleAfter > 0 {
		query = `INSERT INTO bootstrap_locks (name, owner, acquired_at) VALUES ($1, $2, NOW())
			ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, acquired_at = EXCLUDED.acquired_at
			WHERE bootstrap_locks.acquired_at < NOW() - make_interval(secs => $3)`
		args = append(args, staleAfter.Seconds())
	}

	cmdTag, err := l.q.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("acquire bootstrap lock %s: %w", name, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (l *BootstrapLock) Release(ctx context.Context, name, owner string) error {
	_, err := l.q.Exec(ctx, `DELETE FROM bootstrap_locks WHERE name = $1 AND owner = $2`, name, owner)
	if err != nil {
		return fmt.Errorf("release bootstrap lock %s: %w", name, err)
	}
	return nil
}
