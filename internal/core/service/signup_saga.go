package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
)

type SignupCommand struct {
	ReaderNumber string
	Name         string
	Email        string
	PhoneNumber  string
}

// SignupSaga coordinates a reader signup whose two halves, the user account
// and the reader profile, are created by different services and confirmed
// in any order.
type SignupSaga struct {
	requests  ports.PendingRequestRepository
	readers   ports.ReadStore[*domain.Reader]
	publisher ports.Publisher
	retrier   *ConflictRetrier
	clock     ports.Clock
	metrics   ports.Metrics
	logger    *slog.Logger
}

func NewSignupSaga(
	requests ports.PendingRequestRepository,
	readers ports.ReadStore[*domain.Reader],
	publisher ports.Publisher,
	retrier *ConflictRetrier,
	clock ports.Clock,
	metrics ports.Metrics,
	logger *slog.Logger,
) *SignupSaga {
	return &SignupSaga{
		requests:  requests,
		readers:   readers,
		publisher: publisher,
		retrier:   retrier,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// Begin opens a saga for cmd and asks both owning services to create their
// half. Beginning the same reader number twice returns the existing request
// and publishes nothing.
func (s *SignupSaga) Begin(ctx context.Context, cmd SignupCommand) (*domain.PendingCreationRequest, bool, error) {
	now := s.clock.Now()

	request, created, err := CreateIfAbsent(ctx, ports.Store[*domain.PendingCreationRequest](s.requests), cmd.ReaderNumber,
		func() (*domain.PendingCreationRequest, error) {
			return domain.NewPendingCreationRequest(cmd.ReaderNumber, cmd.Name, cmd.Email, cmd.PhoneNumber, now)
		})
	if err != nil {
		return nil, false, err
	}
	if !created {
		s.logger.Info("signup already in progress",
			"reader_number", cmd.ReaderNumber,
			"status", request.Status,
		)
		return request, false, nil
	}

	userMsg, err := NewMessage(domain.TypeUserCreateRequested, request.NaturalKey, domain.CreateUserRequested{
		ReaderNumber: request.NaturalKey,
		Name:         request.Name,
		Email:        request.Email,
	}, now)
	if err != nil {
		return nil, false, err
	}
	readerMsg, err := NewMessage(domain.TypeReaderCreateRequested, request.NaturalKey, domain.CreateReaderRequested{
		ReaderNumber: request.NaturalKey,
		Name:         request.Name,
		Email:        request.Email,
		PhoneNumber:  request.PhoneNumber,
	}, now)
	if err != nil {
		return nil, false, err
	}

	for _, msg := range []ports.Message{userMsg, readerMsg} {
		if err := s.publisher.Publish(ctx, msg); err != nil {
			return nil, false, fmt.Errorf("publish %s: %w", msg.Type, err)
		}
	}

	s.logger.Info("signup started", "reader_number", request.NaturalKey)
	return request, true, nil
}

// OnPartialAConfirmed records that the user account exists.
func (s *SignupSaga) OnPartialAConfirmed(ctx context.Context, naturalKey string) error {
	return s.onConfirmed(ctx, naturalKey, domain.SignalPartialA)
}

// OnPartialBConfirmed records that the reader profile exists.
func (s *SignupSaga) OnPartialBConfirmed(ctx context.Context, naturalKey string) error {
	return s.onConfirmed(ctx, naturalKey, domain.SignalPartialB)
}

func (s *SignupSaga) onConfirmed(ctx context.Context, naturalKey string, signal domain.Signal) error {
	absent := false

	err := s.retrier.WithRetry(ctx, "saga.confirm", func(ctx context.Context) error {
		request, found, err := s.requests.FindByKey(ctx, naturalKey)
		if err != nil {
			return err
		}
		if !found {
			absent = true
			return nil
		}
		if !request.Apply(signal, s.clock.Now()) {
			return nil
		}
		_, err = s.requests.Save(ctx, request)
		return err
	})
	if err != nil {
		return fmt.Errorf("apply %s to signup %s: %w", signal, naturalKey, err)
	}

	if absent {
		s.logger.Info("confirmation for unknown signup ignored",
			"reader_number", naturalKey,
			"signal", signal.String(),
		)
		return nil
	}

	return s.TryFinalize(ctx, naturalKey)
}

// TryFinalize completes a signup whose two halves are both confirmed. The
// reader must be visible in the local replica; if it is not, the saga fails
// and stays in the store for operators.
func (s *SignupSaga) TryFinalize(ctx context.Context, naturalKey string) error {
	var (
		finalized *domain.PendingCreationRequest
		reader    *domain.Reader
	)

	err := s.retrier.WithRetry(ctx, "saga.finalize", func(ctx context.Context) error {
		finalized = nil

		request, found, err := s.requests.FindByKey(ctx, naturalKey)
		if err != nil {
			return err
		}
		if !found || request.Status != domain.SagaBothReceived {
			return nil
		}

		r, found, err := s.readers.FindByKey(ctx, naturalKey)
		if err != nil {
			return err
		}
		if !found {
			reason := fmt.Sprintf("reader %s not found after both confirmations", naturalKey)
			if err := request.Fail(reason, s.clock.Now()); err != nil {
				return err
			}
			if _, err := s.requests.Save(ctx, request); err != nil {
				return err
			}
			s.metrics.SagaCompleted(string(domain.SagaFailed))
			s.logger.Error("signup failed", "reader_number", naturalKey, "reason", reason)
			return nil
		}

		if err := request.Finalize(s.clock.Now()); err != nil {
			return err
		}
		saved, err := s.requests.Save(ctx, request)
		if err != nil {
			return err
		}
		finalized, reader = saved, r
		return nil
	})
	if err != nil {
		return fmt.Errorf("finalize signup %s: %w", naturalKey, err)
	}
	if finalized == nil {
		return nil
	}

	if err := s.Complete(ctx, finalized, reader); err != nil {
		return err
	}
	s.metrics.SagaCompleted(string(domain.SagaFinalized))
	s.logger.Info("signup finalized", "reader_number", naturalKey)
	return nil
}

// Complete emits reader.created for a finalized request and deletes it. It is
// also used to finish requests left behind by a crash after the final save.
func (s *SignupSaga) Complete(ctx context.Context, request *domain.PendingCreationRequest, reader *domain.Reader) error {
	if request.Status != domain.SagaFinalized {
		return domain.NewInvalidTransitionError(string(request.Status), "COMPLETED")
	}

	msg, err := NewMessage(domain.TypeReaderCreated, request.NaturalKey, domain.ReaderCreated{
		ReaderNumber: reader.ReaderNumber,
		Name:         reader.Name,
		Email:        reader.Email,
		PhoneNumber:  reader.PhoneNumber,
		Version:      reader.Version,
	}, s.clock.Now())
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}

	if err := s.requests.Delete(ctx, request); err != nil {
		return fmt.Errorf("delete finalized signup %s: %w", request.NaturalKey, err)
	}
	return nil
}

// Reader looks up the replica a finalized request refers to.
func (s *SignupSaga) Reader(ctx context.Context, naturalKey string) (*domain.Reader, bool, error) {
	return s.readers.FindByKey(ctx, naturalKey)
}
