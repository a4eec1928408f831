// Package memory implements the persistence ports in process. Every value
// crossing the boundary is cloned so callers never share state with the store.
package memory

import (
	"context"
	"sync"

	"github.com/DanielPopoola/librarian/internal/core/domain"
)

type accessor[T any] struct {
	entity     string
	key        func(T) string
	version    func(T) int
	setVersion func(T, int)
	clone      func(T) T
}

// versionedStore is a map guarded by a mutex that enforces the same
// optimistic-concurrency contract as the SQL stores.
type versionedStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	acc   accessor[T]
}

func newVersionedStore[T any](acc accessor[T]) *versionedStore[T] {
	return &versionedStore[T]{items: make(map[string]T), acc: acc}
}

func (s *versionedStore[T]) FindByKey(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[key]
	if !ok {
		return zero, false, nil
	}
	return s.acc.clone(item), true, nil
}

func (s *versionedStore[T]) Save(ctx context.Context, entity T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	key := s.acc.key(entity)
	expected := s.acc.version(entity)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.items[key]
	switch {
	case !exists && expected != 0:
		return zero, domain.NewVersionConflictError(s.acc.entity, key, expected)
	case exists && s.acc.version(current) != expected:
		return zero, domain.NewVersionConflictError(s.acc.entity, key, expected)
	}

	stored := s.acc.clone(entity)
	s.acc.setVersion(stored, expected+1)
	s.items[key] = stored
	return s.acc.clone(stored), nil
}

func (s *versionedStore[T]) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

func (s *versionedStore[T]) snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, s.acc.clone(item))
	}
	return out
}

// Len reports how many entities are stored.
func (s *versionedStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
