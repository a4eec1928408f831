package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
)

// ValidationResponder answers validation requests on behalf of the books and
// readers services.
type ValidationResponder struct {
	books          ports.ReadStore[*domain.Book]
	readers        ports.ReadStore[*domain.Reader]
	lendings       ports.LendingRepository
	publisher      ports.Publisher
	clock          ports.Clock
	maxOutstanding int
	logger         *slog.Logger
}

func NewValidationResponder(
	books ports.ReadStore[*domain.Book],
	readers ports.ReadStore[*domain.Reader],
	lendings ports.LendingRepository,
	publisher ports.Publisher,
	clock ports.Clock,
	maxOutstanding int,
	logger *slog.Logger,
) *ValidationResponder {
	return &ValidationResponder{
		books:          books,
		readers:        readers,
		lendings:       lendings,
		publisher:      publisher,
		clock:          clock,
		maxOutstanding: maxOutstanding,
		logger:         logger,
	}
}

// Respond evaluates req and publishes the answer under the same correlation id.
func (v *ValidationResponder) Respond(ctx context.Context, req domain.ValidationRequest) error {
	var (
		reason string
		err    error
	)
	switch req.Kind {
	case domain.ValidationBook:
		reason, err = v.checkBook(ctx, req)
	case domain.ValidationReader:
		reason, err = v.checkReader(ctx, req)
	default:
		return domain.NewValidationFailedError(fmt.Sprintf("unknown validation kind %q", req.Kind))
	}
	if err != nil {
		return err
	}

	resp := domain.ValidationResponse{
		CorrelationID: req.CorrelationID,
		SubjectKey:    req.SubjectKey,
		Kind:          req.Kind,
		Valid:         reason == "",
		Message:       reason,
	}
	msg, err := NewMessage(domain.TypeValidationResponded, req.CorrelationID, resp, v.clock.Now())
	if err != nil {
		return err
	}
	if err := v.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}

	v.logger.Debug("validation answered",
		"correlation_id", req.CorrelationID,
		"kind", req.Kind,
		"valid", resp.Valid,
	)
	return nil
}

func (v *ValidationResponder) checkBook(ctx context.Context, req domain.ValidationRequest) (string, error) {
	_, found, err := v.books.FindByKey(ctx, req.EntityKey)
	if err != nil {
		return "", err
	}
	if !found {
		return fmt.Sprintf("book %s not found", req.EntityKey), nil
	}
	return "", nil
}

func (v *ValidationResponder) checkReader(ctx context.Context, req domain.ValidationRequest) (string, error) {
	_, found, err := v.readers.FindByKey(ctx, req.EntityKey)
	if err != nil {
		return "", err
	}
	if !found {
		return fmt.Sprintf("reader %s not found", req.EntityKey), nil
	}

	subject, err := domain.ParseLendingNumber(req.SubjectKey)
	if err != nil {
		return "", err
	}
	outstanding, err := v.lendings.CountOutstanding(ctx, req.EntityKey, subject)
	if err != nil {
		return "", err
	}
	if outstanding >= v.maxOutstanding {
		return fmt.Sprintf("reader %s already has %d outstanding lendings", req.EntityKey, outstanding), nil
	}
	return "", nil
}
