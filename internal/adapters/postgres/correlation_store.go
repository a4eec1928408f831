package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
)

const correlationColumns = `correlation_id, subject_key, kind, entity_key, resends, created_at, expires_at`

type CorrelationStore struct {
	q Executor
}

func NewCorrelationStore(db *DB) ports.CorrelationStore {
	return &CorrelationStore{q: db.Pool}
}

func (s *CorrelationStore) Create(ctx context.Context, c *domain.CorrelatedRequest) error {
	query := `INSERT INTO correlated_requests (` + correlationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.q.Exec(ctx, query,
		c.CorrelationID,
		c.SubjectKey,
		c.Kind,
		c.EntityKey,
		c.Resends,
		c.CreatedAt,
		nullableTime(c.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record correlated request: %w", err)
	}
	return nil
}

func (s *CorrelationStore) FindByID(ctx context.Context, correlationID string) (*domain.CorrelatedRequest, bool, error) {
	query := `SELECT ` + correlationColumns + ` FROM correlated_requests WHERE correlation_id = $1`

	c, err := scanCorrelatedRequest(s.q.QueryRow(ctx, query, correlationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find correlated request %s: %w", correlationID, err)
	}
	return c, true, nil
}

func (s *CorrelationStore) Delete(ctx context.Context, correlationID string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM correlated_requests WHERE correlation_id = $1`, correlationID)
	if err != nil {
		return fmt.Errorf("failed to delete correlated request: %w", err)
	}
	return nil
}

func (s *CorrelationStore) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.CorrelatedRequest, error) {
	query := `SELECT ` + correlationColumns + `
		FROM correlated_requests
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT NULLIF($2, 0)`

	rows, err := s.q.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired correlated requests: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.CorrelatedRequest, error) {
		return scanCorrelatedRequest(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan correlated requests: %w", err)
	}
	return results, nil
}

func scanCorrelatedRequest(row pgx.Row) (*domain.CorrelatedRequest, error) {
	var (
		c         domain.CorrelatedRequest
		expiresAt *time.Time
	)
	err := row.Scan(
		&c.CorrelationID,
		&c.SubjectKey,
		&c.Kind,
		&c.EntityKey,
		&c.Resends,
		&c.CreatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt != nil {
		c.ExpiresAt = *expiresAt
	}
	return &c, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
