package memory

import (
	"context"
	"sort"
	"time"

	"github.com/DanielPopoola/librarian/internal/core/domain"
)

type BookStore struct {
	*versionedStore[*domain.Book]
}

func NewBookStore() *BookStore {
	return &BookStore{newVersionedStore(accessor[*domain.Book]{
		entity:     "book",
		key:        func(b *domain.Book) string { return b.ISBN },
		version:    func(b *domain.Book) int { return b.Version },
		setVersion: func(b *domain.Book, v int) { b.Version = v },
		clone:      (*domain.Book).Clone,
	})}
}

type ReaderStore struct {
	*versionedStore[*domain.Reader]
}

func NewReaderStore() *ReaderStore {
	return &ReaderStore{newVersionedStore(accessor[*domain.Reader]{
		entity:     "reader",
		key:        func(r *domain.Reader) string { return r.ReaderNumber },
		version:    func(r *domain.Reader) int { return r.Version },
		setVersion: func(r *domain.Reader, v int) { r.Version = v },
		clone:      (*domain.Reader).Clone,
	})}
}

type LendingStore struct {
	*versionedStore[*domain.Lending]
}

func NewLendingStore() *LendingStore {
	return &LendingStore{newVersionedStore(accessor[*domain.Lending]{
		entity:     "lending",
		key:        func(l *domain.Lending) string { return l.Number.String() },
		version:    func(l *domain.Lending) int { return l.Version },
		setVersion: func(l *domain.Lending, v int) { l.Version = v },
		clone:      (*domain.Lending).Clone,
	})}
}

func (s *LendingStore) CountOutstanding(ctx context.Context, readerNumber string, exclude domain.LendingNumber) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := 0
	for _, l := range s.snapshot() {
		if l.ReaderNumber == readerNumber && l.Number != exclude && l.IsOutstanding() {
			count++
		}
	}
	return count, nil
}

func (s *LendingStore) FindAwaitingActivation(ctx context.Context, validatedBefore time.Time, limit int) ([]*domain.Lending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*domain.Lending
	for _, l := range s.snapshot() {
		if l.AwaitsActivationEvent() && l.ValidatedAt.Before(validatedBefore) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidatedAt.Before(*out[j].ValidatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type PendingRequestStore struct {
	*versionedStore[*domain.PendingCreationRequest]
}

func NewPendingRequestStore() *PendingRequestStore {
	return &PendingRequestStore{newVersionedStore(accessor[*domain.PendingCreationRequest]{
		entity:     "pending creation request",
		key:        func(p *domain.PendingCreationRequest) string { return p.NaturalKey },
		version:    func(p *domain.PendingCreationRequest) int { return p.Version },
		setVersion: func(p *domain.PendingCreationRequest, v int) { p.Version = v },
		clone:      (*domain.PendingCreationRequest).Clone,
	})}
}

func (s *PendingRequestStore) Delete(ctx context.Context, request *domain.PendingCreationRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.delete(request.NaturalKey)
	return nil
}

func (s *PendingRequestStore) FindByStatus(ctx context.Context, status domain.SagaStatus, olderThan time.Time, limit int) ([]*domain.PendingCreationRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*domain.PendingCreationRequest
	for _, p := range s.snapshot() {
		if p.Status == status && p.UpdatedAt.Before(olderThan) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
