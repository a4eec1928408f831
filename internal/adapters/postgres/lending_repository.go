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

const lendingColumns = `lending_year, lending_sequence, book_isbn, reader_number, start_date, limit_date,
	returned_date, comment, grade, book_valid, reader_valid, status, validated_at, activation_emitted, version`

type LendingRepository struct {
	q Executor
}

func NewLendingRepository(db *DB) ports.LendingRepository {
	return &LendingRepository{q: db.Pool}
}

// FindByKey accepts the printed YYYY/N lending number.
func (r *LendingRepository) FindByKey(ctx context.Context, key string) (*domain.Lending, bool, error) {
	number, err := domain.ParseLendingNumber(key)
	if err != nil {
		return nil, false, err
	}

	query := `SELECT ` + lendingColumns + ` FROM lendings WHERE lending_year = $1 AND lending_sequence = $2`

	l, err := scanLending(r.q.QueryRow(ctx, query, number.Year, number.Sequence))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find lending %s: %w", key, err)
	}
	return l, true, nil
}

func (r *LendingRepository) Save(ctx context.Context, l *domain.Lending) (*domain.Lending, error) {
	if l.Version == 0 {
		query := `INSERT INTO lendings (` + lendingColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)`

		_, err := r.q.Exec(ctx, query,
			l.Number.Year,
			l.Number.Sequence,
			l.BookISBN,
			l.ReaderNumber,
			l.StartDate,
			l.LimitDate,
			l.ReturnedDate,
			l.Comment,
			l.Grade,
			l.BookValid,
			l.ReaderValid,
			l.Status,
			l.ValidatedAt,
			l.ActivationEmitted,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return nil, domain.NewVersionConflictError("lending", l.Number.String(), l.Version)
			}
			return nil, fmt.Errorf("failed to create lending: %w", err)
		}
	} else {
		query := `UPDATE lendings SET returned_date = $1, comment = $2, grade = $3,
				book_valid = $4, reader_valid = $5, status = $6, validated_at = $7,
				activation_emitted = $8, version = version + 1
			WHERE lending_year = $9 AND lending_sequence = $10 AND version = $11`

		cmdTag, err := r.q.Exec(ctx, query,
			l.ReturnedDate,
			l.Comment,
			l.Grade,
			l.BookValid,
			l.ReaderValid,
			l.Status,
			l.ValidatedAt,
			l.ActivationEmitted,
			l.Number.Year,
			l.Number.Sequence,
			l.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update lending: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return nil, domain.NewVersionConflictError("lending", l.Number.String(), l.Version)
		}
	}

	saved := l.Clone()
	saved.Version++
	return saved, nil
}

func (r *LendingRepository) CountOutstanding(ctx context.Context, readerNumber string, exclude domain.LendingNumber) (int, error) {
	query := `SELECT COUNT(*) FROM lendings
		WHERE reader_number = $1 AND returned_date IS NULL
			AND NOT (lending_year = $2 AND lending_sequence = $3)`

	var count int
	if err := r.q.QueryRow(ctx, query, readerNumber, exclude.Year, exclude.Sequence).Scan(&count); err != nil {
		return 0, fmt.Errorf("count outstanding lendings of %s: %w", readerNumber, err)
	}
	return count, nil
}

func (r *LendingRepository) FindAwaitingActivation(ctx context.Context, validatedBefore time.Time, limit int) ([]*domain.Lending, error) {
	query := `SELECT ` + lendingColumns + ` FROM lendings
		WHERE validated_at IS NOT NULL AND NOT activation_emitted AND validated_at < $1
		ORDER BY validated_at
		LIMIT NULLIF($2, 0)`

	rows, err := r.q.Query(ctx, query, validatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("find lendings awaiting activation: %w", err)
	}
	defer rows.Close()

	var lendings []*domain.Lending
	for rows.Next() {
		l, err := scanLending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lending: %w", err)
		}
		lendings = append(lendings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lendings: %w", err)
	}
	return lendings, nil
}

func scanLending(row pgx.Row) (*domain.Lending, error) {
	var l domain.Lending
	err := row.Scan(
		&l.Number.Year,
		&l.Number.Sequence,
		&l.BookISBN,
		&l.ReaderNumber,
		&l.StartDate,
		&l.LimitDate,
		&l.ReturnedDate,
		&l.Comment,
		&l.Grade,
		&l.BookValid,
		&l.ReaderValid,
		&l.Status,
		&l.ValidatedAt,
		&l.ActivationEmitted,
		&l.Version,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
