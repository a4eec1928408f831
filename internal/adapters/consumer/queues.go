package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
	"github.com/DanielPopoola/librarian/internal/core/service"
)

const (
	QueueSignup     = "librarian.signup"
	QueueReplica    = "librarian.replica"
	QueueLending    = "librarian.lending"
	QueueValidation = "librarian.validation"
)

// Queue is one subscription: a name and the router behind it.
type Queue struct {
	Name   string
	Router *Router
}

type Services struct {
	Saga      *service.SignupSaga
	Lending   *service.LendingActivation
	Responder *service.ValidationResponder
	Projector *service.ReplicaProjector
}

// Queues builds the routers for every queue this process consumes.
func Queues(svc Services, timeout time.Duration, metrics ports.Metrics, logger *slog.Logger) []Queue {
	signup := NewRouter(timeout, metrics, logger.With("queue", QueueSignup))
	On(signup, domain.TypeSignupRequested, func(ctx context.Context, _ ports.Message, p domain.SignupRequested) error {
		_, created, err := svc.Saga.Begin(ctx, service.SignupCommand{
			ReaderNumber: p.ReaderNumber,
			Name:         p.Name,
			Email:        p.Email,
			PhoneNumber:  p.PhoneNumber,
		})
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("signup %s: %w", p.ReaderNumber, domain.ErrDuplicateIgnored)
		}
		return nil
	})
	On(signup, domain.TypePartialAConfirmed, func(ctx context.Context, _ ports.Message, p domain.PartialAConfirmed) error {
		return svc.Saga.OnPartialAConfirmed(ctx, p.ReaderNumber)
	})
	On(signup, domain.TypePartialBConfirmed, func(ctx context.Context, _ ports.Message, p domain.PartialBConfirmed) error {
		if _, err := svc.Projector.ApplyReaderProfile(ctx, p); err != nil {
			return err
		}
		return svc.Saga.OnPartialBConfirmed(ctx, p.ReaderNumber)
	})

	replica := NewRouter(timeout, metrics, logger.With("queue", QueueReplica))
	On(replica, domain.TypeBookCreated, func(ctx context.Context, _ ports.Message, p domain.BookCreated) error {
		_, err := svc.Projector.ApplyBookCreated(ctx, p)
		return err
	})
	On(replica, domain.TypeReaderCreated, func(ctx context.Context, _ ports.Message, p domain.ReaderCreated) error {
		_, err := svc.Projector.ApplyReaderCreated(ctx, p)
		return err
	})

	lending := NewRouter(timeout, metrics, logger.With("queue", QueueLending))
	On(lending, domain.TypeLendingCreateRequested, svc.Lending.HandleCreateRequested)
	On(lending, domain.TypeLendingReturnRequested, func(ctx context.Context, _ ports.Message, p domain.LendingReturnRequested) error {
		number, err := domain.ParseLendingNumber(p.LendingNumber)
		if err != nil {
			return err
		}
		_, err = svc.Lending.MarkReturned(ctx, number, p.Comment, p.Grade)
		return err
	})
	On(lending, domain.TypeValidationResponded, func(ctx context.Context, _ ports.Message, p domain.ValidationResponse) error {
		return svc.Lending.OnValidationResponse(ctx, p)
	})

	validation := NewRouter(timeout, metrics, logger.With("queue", QueueValidation))
	respond := func(ctx context.Context, _ ports.Message, p domain.ValidationRequest) error {
		return svc.Responder.Respond(ctx, p)
	}
	On(validation, domain.TypeBookValidationRequested, respond)
	On(validation, domain.TypeReaderValidationRequested, respond)

	return []Queue{
		{Name: QueueSignup, Router: signup},
		{Name: QueueReplica, Router: replica},
		{Name: QueueLending, Router: lending},
		{Name: QueueValidation, Router: validation},
	}
}
