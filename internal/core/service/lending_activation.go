package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
)

type LendingConfig struct {
	ResolveMode ResolveMode
	Resolve     RetryPolicy
}

// LendingActivation drives a lending from PENDENT to VALIDATED once both the
// book and the reader side confirmed it, and on to DELIVERED when returned.
type LendingActivation struct {
	lendings  ports.LendingRepository
	books     ports.ReadStore[*domain.Book]
	readers   ports.ReadStore[*domain.Reader]
	registry  *CorrelationRegistry
	publisher ports.Publisher
	retrier   *ConflictRetrier
	requeuer  *Requeuer
	clock     ports.Clock
	metrics   ports.Metrics
	cfg       LendingConfig
	logger    *slog.Logger
}

func NewLendingActivation(
	lendings ports.LendingRepository,
	books ports.ReadStore[*domain.Book],
	readers ports.ReadStore[*domain.Reader],
	registry *CorrelationRegistry,
	publisher ports.Publisher,
	retrier *ConflictRetrier,
	clock ports.Clock,
	metrics ports.Metrics,
	cfg LendingConfig,
	logger *slog.Logger,
) *LendingActivation {
	if cfg.ResolveMode == "" {
		cfg.ResolveMode = ResolveRequeue
	}
	cfg.Resolve = cfg.Resolve.normalized()

	return &LendingActivation{
		lendings:  lendings,
		books:     books,
		readers:   readers,
		registry:  registry,
		publisher: publisher,
		retrier:   retrier,
		requeuer:  NewRequeuer(publisher, metrics, cfg.Resolve, logger),
		clock:     clock,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// HandleCreateRequested creates the PENDENT lending described by req once
// its book and reader are visible locally, then asks both owning services to
// validate it. A redelivered request finds the lending already there, sends
// nothing and reports domain.ErrDuplicateIgnored.
func (s *LendingActivation) HandleCreateRequested(ctx context.Context, msg ports.Message, req domain.LendingCreateRequested) error {
	number, err := domain.ParseLendingNumber(req.LendingNumber)
	if err != nil {
		return err
	}

	book, requeued, err := resolveReference(ctx, s, msg, "book", req.BookKey, s.books.FindByKey)
	if err != nil || requeued {
		return err
	}
	reader, requeued, err := resolveReference(ctx, s, msg, "reader", req.ReaderKey, s.readers.FindByKey)
	if err != nil || requeued {
		return err
	}

	lending, created, err := CreateIfAbsent(ctx, ports.Store[*domain.Lending](s.lendings), number.String(),
		func() (*domain.Lending, error) {
			return domain.NewLending(number, book.ISBN, reader.ReaderNumber, req.StartDate, req.LimitDate)
		})
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("lending %s already %s: %w", number, lending.Status, domain.ErrDuplicateIgnored)
	}

	targets := []CorrelationTarget{
		{SubjectKey: number.String(), Kind: domain.ValidationBook, EntityKey: lending.BookISBN},
		{SubjectKey: number.String(), Kind: domain.ValidationReader, EntityKey: lending.ReaderNumber},
	}
	for _, target := range targets {
		if _, err := s.registry.Send(ctx, target); err != nil {
			return fmt.Errorf("request %s validation for lending %s: %w", target.Kind, number, err)
		}
	}

	s.logger.Info("lending created", "lending_number", number.String())
	return nil
}

func resolveReference[T any](
	ctx context.Context,
	s *LendingActivation,
	msg ports.Message,
	entity, key string,
	lookup LookupFunc[T],
) (T, bool, error) {
	if s.cfg.ResolveMode == ResolveBlocking {
		value, err := ResolveWithRetry(ctx, s.clock, s.metrics, entity, key, lookup, s.cfg.Resolve)
		return value, false, err
	}
	return ResolveOrRequeue(ctx, s.requeuer, msg, entity, key, lookup)
}

// OnValidationResponse applies a response to the lending its correlated
// request was sent for. A negative answer leaves the lending PENDENT.
func (s *LendingActivation) OnValidationResponse(ctx context.Context, resp domain.ValidationResponse) error {
	return s.registry.OnResponse(ctx, resp.CorrelationID, func(ctx context.Context, request *domain.CorrelatedRequest) error {
		number, err := domain.ParseLendingNumber(request.SubjectKey)
		if err != nil {
			return err
		}

		if !resp.Valid {
			s.logger.Warn("lending validation rejected",
				"lending_number", number.String(),
				"kind", request.Kind,
				"error", domain.NewValidationFailedError(resp.Message),
			)
			return nil
		}

		switch request.Kind {
		case domain.ValidationBook:
			return s.MarkBookValid(ctx, number)
		case domain.ValidationReader:
			return s.MarkReaderValid(ctx, number)
		}
		return domain.NewValidationFailedError(fmt.Sprintf("unknown validation kind %q", request.Kind))
	})
}

func (s *LendingActivation) MarkBookValid(ctx context.Context, number domain.LendingNumber) error {
	return s.markValid(ctx, number, "lending.mark_book_valid", (*domain.Lending).MarkBookValid)
}

func (s *LendingActivation) MarkReaderValid(ctx context.Context, number domain.LendingNumber) error {
	return s.markValid(ctx, number, "lending.mark_reader_valid", (*domain.Lending).MarkReaderValid)
}

// markValid emits lending.activated only from the attempt whose save moved
// the lending to VALIDATED; concurrent losers reload and see nothing to do.
// If that emission fails the lending keeps awaiting its event and
// AnnounceActivation finishes it later.
func (s *LendingActivation) markValid(
	ctx context.Context,
	number domain.LendingNumber,
	operation string,
	mark func(*domain.Lending) (changed, activated bool),
) error {
	var activated *domain.Lending

	err := s.retrier.WithRetry(ctx, operation, func(ctx context.Context) error {
		activated = nil

		lending, err := s.load(ctx, number)
		if err != nil {
			return err
		}
		changed, act := mark(lending)
		if !changed {
			return nil
		}
		if act {
			now := s.clock.Now()
			lending.ValidatedAt = &now
		}
		saved, err := s.lendings.Save(ctx, lending)
		if err != nil {
			return err
		}
		if act {
			activated = saved
		}
		return nil
	})
	if err != nil {
		return err
	}
	if activated == nil {
		return nil
	}
	return s.AnnounceActivation(ctx, activated)
}

// AnnounceActivation publishes lending.activated for an activated lending and
// then records that it did. A failed publish leaves the lending awaiting its
// event.
func (s *LendingActivation) AnnounceActivation(ctx context.Context, lending *domain.Lending) error {
	number := lending.Number

	msg, err := NewMessage(domain.TypeLendingActivated, number.String(), domain.LendingActivated{
		LendingNumber: number.String(),
		BookISBN:      lending.BookISBN,
		ReaderNumber:  lending.ReaderNumber,
		StartDate:     lending.StartDate,
		LimitDate:     lending.LimitDate,
		Version:       lending.Version,
	}, s.clock.Now())
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for lending %s: %w", msg.Type, number, err)
	}

	s.metrics.LendingActivated()
	s.logger.Info("lending activated", "lending_number", number.String())

	err = s.retrier.WithRetry(ctx, "lending.activation_emitted", func(ctx context.Context) error {
		current, err := s.load(ctx, number)
		if err != nil {
			return err
		}
		if !current.MarkActivationEmitted() {
			return nil
		}
		_, err = s.lendings.Save(ctx, current)
		return err
	})
	if err != nil {
		return fmt.Errorf("record activation of lending %s: %w", number, err)
	}
	return nil
}

// MarkReturned records the return of a lending's book. Returning it again
// overwrites the returned date, comment and grade.
func (s *LendingActivation) MarkReturned(ctx context.Context, number domain.LendingNumber, comment *string, grade *int) (*domain.Lending, error) {
	var returned *domain.Lending

	err := s.retrier.WithRetry(ctx, "lending.mark_returned", func(ctx context.Context) error {
		lending, err := s.load(ctx, number)
		if err != nil {
			return err
		}
		if err := lending.MarkReturned(s.clock.Now(), comment, grade); err != nil {
			return err
		}
		returned, err = s.lendings.Save(ctx, lending)
		return err
	})
	if err != nil {
		return nil, err
	}

	msg, err := NewMessage(domain.TypeLendingReturned, number.String(), domain.LendingReturned{
		LendingNumber: number.String(),
		BookISBN:      returned.BookISBN,
		ReaderNumber:  returned.ReaderNumber,
		ReturnedDate:  *returned.ReturnedDate,
		Late:          returned.ReturnedLate(),
		Comment:       returned.Comment,
		Grade:         returned.Grade,
		Version:       returned.Version,
	}, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return nil, fmt.Errorf("publish %s for lending %s: %w", msg.Type, number, err)
	}

	s.logger.Info("lending returned", "lending_number", number.String())
	return returned, nil
}

func (s *LendingActivation) load(ctx context.Context, number domain.LendingNumber) (*domain.Lending, error) {
	lending, found, err := s.lendings.FindByKey(ctx, number.String())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NewNotFoundError("lending", number.String())
	}
	return lending, nil
}
