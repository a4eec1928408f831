package ports

import (
	"context"
	"time"

	"github.com/DanielPopoola/librarian/internal/core/domain"
)

// ReadStore looks an entity up by its natural key. A missing entity is
// reported through the boolean, never as an error.
type ReadStore[T any] interface {
	FindByKey(ctx context.Context, key string) (T, bool, error)
}

// WriteStore persists versioned entities. Save inserts when the version is
// zero and otherwise updates only if the stored version still matches,
// returning domain.ErrVersionConflict when it does not. The returned entity
// carries the new version.
type WriteStore[T any] interface {
	Save(ctx context.Context, entity T) (T, error)
}

type Store[T any] interface {
	ReadStore[T]
	WriteStore[T]
}

type PendingRequestRepository interface {
	Store[*domain.PendingCreationRequest]
	Delete(ctx context.Context, request *domain.PendingCreationRequest) error
	// FindByStatus lists requests stuck in a status for longer than the
	// caller's cutoff, oldest first.
	FindByStatus(ctx context.Context, status domain.SagaStatus, olderThan time.Time, limit int) ([]*domain.PendingCreationRequest, error)
}

type LendingRepository interface {
	Store[*domain.Lending]
	// CountOutstanding counts unreturned lendings of a reader excluding the
	// given lending number.
	CountOutstanding(ctx context.Context, readerNumber string, exclude domain.LendingNumber) (int, error)
	// FindAwaitingActivation lists lendings activated before the cutoff whose
	// lending.activated event was never confirmed, oldest first.
	FindAwaitingActivation(ctx context.Context, validatedBefore time.Time, limit int) ([]*domain.Lending, error)
}

type BookRepository interface {
	Store[*domain.Book]
}

type ReaderRepository interface {
	Store[*domain.Reader]
}

type CorrelationStore interface {
	Create(ctx context.Context, request *domain.CorrelatedRequest) error
	FindByID(ctx context.Context, correlationID string) (*domain.CorrelatedRequest, bool, error)
	Delete(ctx context.Context, correlationID string) error
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.CorrelatedRequest, error)
}

// BootstrapLock is a single-row mutex used once at startup. A lock held for
// longer than staleAfter is taken over, so a holder that crashed mid-pass
// does not block later starts. staleAfter of zero never takes over.
type BootstrapLock interface {
	TryAcquire(ctx context.Context, name, owner string, staleAfter time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}
