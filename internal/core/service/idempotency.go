package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
)

// CreateIfAbsent returns the entity stored under key, or builds and saves a
// new one. builder must only construct the value; anything externally
// visible belongs to the caller after created comes back true.
//
// A concurrent creator winning the insert surfaces as a version conflict; the
// winner is then re-read and reported as not created.
func CreateIfAbsent[T any](
	ctx context.Context,
	store ports.Store[T],
	key string,
	builder func() (T, error),
) (entity T, created bool, err error) {
	existing, found, err := store.FindByKey(ctx, key)
	if err != nil {
		return entity, false, fmt.Errorf("idempotency lookup %s: %w", key, err)
	}
	if found {
		return existing, false, nil
	}

	candidate, err := builder()
	if err != nil {
		return entity, false, err
	}

	saved, err := store.Save(ctx, candidate)
	if err == nil {
		return saved, true, nil
	}
	if !errors.Is(err, domain.ErrVersionConflict) {
		return entity, false, fmt.Errorf("idempotent create %s: %w", key, err)
	}

	winner, found, err := store.FindByKey(ctx, key)
	if err != nil {
		return entity, false, fmt.Errorf("idempotency re-read %s: %w", key, err)
	}
	if !found {
		return entity, false, fmt.Errorf("idempotent create %s: conflicting record vanished: %w", key, domain.ErrVersionConflict)
	}
	return winner, false, nil
}
