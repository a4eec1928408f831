package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
)

type CorrelationStore struct {
	mu      sync.RWMutex
	entries map[string]*domain.CorrelatedRequest
}

func NewCorrelationStore() *CorrelationStore {
	return &CorrelationStore{entries: make(map[string]*domain.CorrelatedRequest)}
}

func (s *CorrelationStore) Create(ctx context.Context, request *domain.CorrelatedRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[request.CorrelationID]; exists {
		return fmt.Errorf("correlation id %s already registered", request.CorrelationID)
	}
	s.entries[request.CorrelationID] = request.Clone()
	return nil
}

func (s *CorrelationStore) FindByID(ctx context.Context, correlationID string) (*domain.CorrelatedRequest, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[correlationID]
	if !ok {
		return nil, false, nil
	}
	return entry.Clone(), true, nil
}

func (s *CorrelationStore) Delete(ctx context.Context, correlationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, correlationID)
	return nil
}

func (s *CorrelationStore) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.CorrelatedRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.CorrelatedRequest
	for _, entry := range s.entries {
		if entry.Expired(now) {
			out = append(out, entry.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many requests are outstanding.
func (s *CorrelationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type BootstrapLock struct {
	clock ports.Clock
	mu    sync.Mutex
	held  map[string]lockHolder
}

type lockHolder struct {
	owner      string
	acquiredAt time.Time
}

func NewBootstrapLock(clock ports.Clock) *BootstrapLock {
	return &BootstrapLock{clock: clock, held: make(map[string]lockHolder)}
}

func (l *BootstrapLock) TryAcquire(ctx context.Context, name, owner string, staleAfter time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if h, ok := l.held[name]; ok {
		if staleAfter <= 0 || !h.acquiredAt.Before(now.Add(-staleAfter)) {
			return false, nil
		}
	}
	l.held[name] = lockHolder{owner: owner, acquiredAt: now}
	return true, nil
}

func (l *BootstrapLock) Release(ctx context.Context, name, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name].owner == owner {
		delete(l.held, name)
	}
	return nil
}
