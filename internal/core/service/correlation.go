package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudresty/ulid"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
)

// CorrelationTarget describes the validation a lending needs from another
// service.
type CorrelationTarget struct {
	SubjectKey string
	Kind       domain.ValidationKind
	EntityKey  string
}

type CorrelationConfig struct {
	TTL        time.Duration
	MaxResends int
	SweepBatch int
}

// CorrelationRegistry pairs asynchronous validation requests with their
// responses through a correlation id that travels with both messages.
type CorrelationRegistry struct {
	store     ports.CorrelationStore
	publisher ports.Publisher
	clock     ports.Clock
	metrics   ports.Metrics
	cfg       CorrelationConfig
	logger    *slog.Logger
}

func NewCorrelationRegistry(
	store ports.CorrelationStore,
	publisher ports.Publisher,
	clock ports.Clock,
	metrics ports.Metrics,
	cfg CorrelationConfig,
	logger *slog.Logger,
) *CorrelationRegistry {
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	return &CorrelationRegistry{
		store:     store,
		publisher: publisher,
		clock:     clock,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// Send records a correlated request and publishes the validation request
// carrying its id. The entry is written first so a fast response always finds
// it; a failed publish removes it again.
func (r *CorrelationRegistry) Send(ctx context.Context, target CorrelationTarget) (string, error) {
	return r.send(ctx, target, 0)
}

func (r *CorrelationRegistry) send(ctx context.Context, target CorrelationTarget, resends int) (string, error) {
	msgType, err := requestType(target.Kind)
	if err != nil {
		return "", err
	}

	id, err := ulid.New()
	if err != nil {
		return "", fmt.Errorf("generate correlation id: %w", err)
	}

	now := r.clock.Now()
	entry := &domain.CorrelatedRequest{
		CorrelationID: id,
		SubjectKey:    target.SubjectKey,
		Kind:          target.Kind,
		EntityKey:     target.EntityKey,
		Resends:       resends,
		CreatedAt:     now,
	}
	if r.cfg.TTL > 0 {
		entry.ExpiresAt = now.Add(r.cfg.TTL)
	}

	msg, err := NewMessage(msgType, id, domain.ValidationRequest{
		CorrelationID: id,
		SubjectKey:    target.SubjectKey,
		Kind:          target.Kind,
		EntityKey:     target.EntityKey,
	}, now)
	if err != nil {
		return "", err
	}

	if err := r.store.Create(ctx, entry); err != nil {
		return "", fmt.Errorf("record correlated request: %w", err)
	}

	if err := r.publisher.Publish(ctx, msg); err != nil {
		if delErr := r.store.Delete(ctx, id); delErr != nil {
			r.logger.Error("failed to remove unsent correlated request",
				"correlation_id", id,
				"error", delErr,
			)
		}
		return "", fmt.Errorf("publish %s: %w", msgType, err)
	}

	r.logger.Debug("correlated request sent",
		"correlation_id", id,
		"kind", target.Kind,
		"subject_key", target.SubjectKey,
		"entity_key", target.EntityKey,
	)
	return id, nil
}

// OnResponse runs complete for the request registered under correlationID
// and then discards it. Unknown ids are answered requests, expired ones or
// duplicates; they are logged and ignored.
func (r *CorrelationRegistry) OnResponse(
	ctx context.Context,
	correlationID string,
	complete func(ctx context.Context, request *domain.CorrelatedRequest) error,
) error {
	entry, found, err := r.store.FindByID(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("load correlated request %s: %w", correlationID, err)
	}
	if !found {
		r.logger.Warn("response for unknown correlation id ignored", "correlation_id", correlationID)
		return nil
	}

	if err := complete(ctx, entry); err != nil {
		return err
	}

	if err := r.store.Delete(ctx, correlationID); err != nil {
		return fmt.Errorf("discard correlated request %s: %w", correlationID, err)
	}
	return nil
}

// Sweep removes requests past their expiry and re-sends each under a fresh id
// until MaxResends is spent. It returns how many entries expired.
func (r *CorrelationRegistry) Sweep(ctx context.Context) (int, error) {
	expired, err := r.store.FindExpired(ctx, r.clock.Now(), r.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("find expired correlated requests: %w", err)
	}

	swept := 0
	for _, entry := range expired {
		if err := ctx.Err(); err != nil {
			return swept, err
		}

		if err := r.store.Delete(ctx, entry.CorrelationID); err != nil {
			r.logger.Error("failed to remove expired correlated request",
				"correlation_id", entry.CorrelationID,
				"error", err,
			)
			continue
		}
		swept++
		r.metrics.CorrelationExpired(string(entry.Kind))

		if entry.Resends >= r.cfg.MaxResends {
			r.logger.Warn("correlated request expired without response",
				"correlation_id", entry.CorrelationID,
				"kind", entry.Kind,
				"subject_key", entry.SubjectKey,
				"resends", entry.Resends,
			)
			continue
		}

		target := CorrelationTarget{SubjectKey: entry.SubjectKey, Kind: entry.Kind, EntityKey: entry.EntityKey}
		newID, err := r.send(ctx, target, entry.Resends+1)
		if err != nil {
			r.logger.Error("failed to re-send expired correlated request",
				"correlation_id", entry.CorrelationID,
				"error", err,
			)
			continue
		}
		r.logger.Info("expired correlated request re-sent",
			"correlation_id", entry.CorrelationID,
			"new_correlation_id", newID,
			"resends", entry.Resends+1,
		)
	}
	return swept, nil
}

func requestType(kind domain.ValidationKind) (string, error) {
	switch kind {
	case domain.ValidationBook:
		return domain.TypeBookValidationRequested, nil
	case domain.ValidationReader:
		return domain.TypeReaderValidationRequested, nil
	}
	return "", domain.NewValidationFailedError(fmt.Sprintf("unknown validation kind %q", kind))
}
