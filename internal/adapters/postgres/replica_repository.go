package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
)

type BookRepository struct {
	q Executor
}

func NewBookRepository(db *DB) ports.BookRepository {
	return &BookRepository{q: db.Pool}
}

func (r *BookRepository) FindByKey(ctx context.Context, isbn string) (*domain.Book, bool, error) {
	var b domain.Book
	err := r.q.QueryRow(ctx, `SELECT isbn, title, version FROM books WHERE isbn = $1`, isbn).
		Scan(&b.ISBN, &b.Title, &b.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find book %s: %w", isbn, err)
	}
	return &b, true, nil
}

func (r *BookRepository) Save(ctx context.Context, b *domain.Book) (*domain.Book, error) {
	if b.Version == 0 {
		_, err := r.q.Exec(ctx, `INSERT INTO books (isbn, title, version) VALUES ($1, $2, 1)`, b.ISBN, b.Title)
		if err != nil {
			if IsUniqueViolation(err) {
				return nil, domain.NewVersionConflictError("book", b.ISBN, b.Version)
			}
			return nil, fmt.Errorf("failed to create book: %w", err)
		}
	} else {
		cmdTag, err := r.q.Exec(ctx,
			`UPDATE books SET title = $1, version = version + 1 WHERE isbn = $2 AND version = $3`,
			b.Title, b.ISBN, b.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update book: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return nil, domain.NewVersionConflictError("book", b.ISBN, b.Version)
		}
	}

	saved := b.Clone()
	saved.Version++
	return saved, nil
}

type ReaderRepository struct {
	q Executor
}

func NewReaderRepository(db *DB) ports.ReaderRepository {
	return &ReaderRepository{q: db.Pool}
}

func (r *ReaderRepository) FindByKey(ctx context.Context, readerNumber string) (*domain.Reader, bool, error) {
	var rd domain.Reader
	err := r.q.QueryRow(ctx,
		`SELECT reader_number, name, email, phone_number, version FROM readers WHERE reader_number = $1`,
		readerNumber,
	).Scan(&rd.ReaderNumber, &rd.Name, &rd.Email, &rd.PhoneNumber, &rd.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find reader %s: %w", readerNumber, err)
	}
	return &rd, true, nil
}

func (r *ReaderRepository) Save(ctx context.Context, rd *domain.Reader) (*domain.Reader, error) {
	if rd.Version == 0 {
		_, err := r.q.Exec(ctx,
			`INSERT INTO readers (reader_number, name, email, phone_number, version) VALUES ($1, $2, $3, $4, 1)`,
			rd.ReaderNumber, rd.Name, rd.Email, rd.PhoneNumber,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return nil, domain.NewVersionConflictError("reader", rd.ReaderNumber, rd.Version)
			}
			return nil, fmt.Errorf("failed to create reader: %w", err)
		}
	} else {
		cmdTag, err := r.q.Exec(ctx,
			`UPDATE readers SET name = $1, email = $2, phone_number = $3, version = version + 1
			WHERE reader_number = $4 AND version = $5`,
			rd.Name, rd.Email, rd.PhoneNumber, rd.ReaderNumber, rd.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update reader: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return nil, domain.NewVersionConflictError("reader", rd.ReaderNumber, rd.Version)
		}
	}

	saved := rd.Clone()
	saved.Version++
	return saved, nil
}
