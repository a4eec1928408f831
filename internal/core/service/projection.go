package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
)

// ReplicaProjector keeps the local copies of books and readers. Every apply
// is idempotent: replaying an event leaves the replica unchanged.
type ReplicaProjector struct {
	books   ports.BookRepository
	readers ports.ReaderRepository
	logger  *slog.Logger
}

func NewReplicaProjector(books ports.BookRepository, readers ports.ReaderRepository, logger *slog.Logger) *ReplicaProjector {
	return &ReplicaProjector{books: books, readers: readers, logger: logger}
}

func (p *ReplicaProjector) ApplyBookCreated(ctx context.Context, evt domain.BookCreated) (bool, error) {
	if strings.TrimSpace(evt.ISBN) == "" {
		return false, domain.NewMissingRequiredFieldError("isbn")
	}

	_, created, err := CreateIfAbsent(ctx, ports.Store[*domain.Book](p.books), evt.ISBN, func() (*domain.Book, error) {
		return &domain.Book{ISBN: evt.ISBN, Title: evt.Title}, nil
	})
	if err != nil {
		return false, err
	}
	if !created {
		p.logger.Debug("book already replicated", "isbn", evt.ISBN)
	}
	return created, nil
}

func (p *ReplicaProjector) ApplyReaderCreated(ctx context.Context, evt domain.ReaderCreated) (bool, error) {
	return p.applyReader(ctx, &domain.Reader{
		ReaderNumber: evt.ReaderNumber,
		Name:         evt.Name,
		Email:        evt.Email,
		PhoneNumber:  evt.PhoneNumber,
	})
}

// ApplyReaderProfile replicates the profile carried by a reader confirmation.
// Confirmations without a profile are skipped.
func (p *ReplicaProjector) ApplyReaderProfile(ctx context.Context, evt domain.PartialBConfirmed) (bool, error) {
	if evt.Email == "" && evt.Name == "" {
		return false, nil
	}
	return p.applyReader(ctx, &domain.Reader{
		ReaderNumber: evt.ReaderNumber,
		Name:         evt.Name,
		Email:        evt.Email,
		PhoneNumber:  evt.PhoneNumber,
	})
}

func (p *ReplicaProjector) applyReader(ctx context.Context, reader *domain.Reader) (bool, error) {
	if strings.TrimSpace(reader.ReaderNumber) == "" {
		return false, domain.NewMissingRequiredFieldError("reader number")
	}

	_, created, err := CreateIfAbsent(ctx, ports.Store[*domain.Reader](p.readers), reader.ReaderNumber, func() (*domain.Reader, error) {
		return reader, nil
	})
	if err != nil {
		return false, err
	}
	if !created {
		p.logger.Debug("reader already replicated", "reader_number", reader.ReaderNumber)
	}
	return created, nil
}
