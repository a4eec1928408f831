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

const pendingRequestColumns = `natural_key, status, partial_a_received, partial_b_received, error_message,
	name, email, phone_number, created_at, updated_at, version`

type PendingRequestRepository struct {
	q Executor
}

func NewPendingRequestRepository(db *DB) ports.PendingRequestRepository {
	return &PendingRequestRepository{q: db.Pool}
}

func (r *PendingRequestRepository) FindByKey(ctx context.Context, key string) (*domain.PendingCreationRequest, bool, error) {
	query := `SELECT ` + pendingRequestColumns + ` FROM pending_creation_requests WHERE natural_key = $1`

	p, err := scanPendingRequest(r.q.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find pending creation request %s: %w", key, err)
	}
	return p, true, nil
}

func (r *PendingRequestRepository) Save(ctx context.Context, p *domain.PendingCreationRequest) (*domain.PendingCreationRequest, error) {
	if p.Version == 0 {
		query := `INSERT INTO pending_creation_requests (` + pendingRequestColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)`

		_, err := r.q.Exec(ctx, query,
			p.NaturalKey,
			p.Status,
			p.PartialAReceived,
			p.PartialBReceived,
			p.ErrorMessage,
			p.Name,
			p.Email,
			p.PhoneNumber,
			p.CreatedAt,
			p.UpdatedAt,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return nil, domain.NewVersionConflictError("pending creation request", p.NaturalKey, p.Version)
			}
			return nil, fmt.Errorf("failed to create pending creation request: %w", err)
		}
	} else {
		query := `UPDATE pending_creation_requests SET status = $1,
				partial_a_received = $2, partial_b_received = $3, error_message = $4,
				updated_at = $5, version = version + 1
			WHERE natural_key = $6 AND version = $7`

		cmdTag, err := r.q.Exec(ctx, query,
			p.Status,
			p.PartialAReceived,
			p.PartialBReceived,
			p.ErrorMessage,
			p.UpdatedAt,
			p.NaturalKey,
			p.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update pending creation request: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return nil, domain.NewVersionConflictError("pending creation request", p.NaturalKey, p.Version)
		}
	}

	saved := p.Clone()
	saved.Version++
	return saved, nil
}

func (r *PendingRequestRepository) Delete(ctx context.Context, p *domain.PendingCreationRequest) error {
	_, err := r.q.Exec(ctx, `DELETE FROM pending_creation_requests WHERE natural_key = $1`, p.NaturalKey)
	if err != nil {
		return fmt.Errorf("failed to delete pending creation request: %w", err)
	}
	return nil
}

func (r *PendingRequestRepository) FindByStatus(ctx context.Context, status domain.SagaStatus, olderThan time.Time, limit int) ([]*domain.PendingCreationRequest, error) {
	query := `SELECT ` + pendingRequestColumns + `
		FROM pending_creation_requests
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT NULLIF($3, 0)`

	rows, err := r.q.Query(ctx, query, status, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending creation requests by status: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.PendingCreationRequest, error) {
		return scanPendingRequest(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending creation requests: %w", err)
	}
	return results, nil
}

func scanPendingRequest(row pgx.Row) (*domain.PendingCreationRequest, error) {
	var p domain.PendingCreationRequest
	err := row.Scan(
		&p.NaturalKey,
		&p.Status,
		&p.PartialAReceived,
		&p.PartialBReceived,
		&p.ErrorMessage,
		&p.Name,
		&p.Email,
		&p.PhoneNumber,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.Version,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
