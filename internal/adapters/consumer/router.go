// Package consumer turns bus deliveries into service calls.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/DanielPopoola/librarian/internal/core/domain"
	"github.com/DanielPopoola/librarian/internal/core/ports"
	"github.com/DanielPopoola/librarian/internal/core/service"
)

const (
	OutcomeOK        = "ok"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomePanic     = "panic"
	OutcomeUnknown   = "unrouted"
)

// Router dispatches a message to the handler registered for its type. It is
// the consumption boundary: handler errors and panics are logged with their
// category and swallowed, so the driver always acks.
type Router struct {
	handlers map[string]ports.Handler
	timeout  time.Duration
	metrics  ports.Metrics
	logger   *slog.Logger
}

func NewRouter(timeout time.Duration, metrics ports.Metrics, logger *slog.Logger) *Router {
	return &Router{
		handlers: make(map[string]ports.Handler),
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger,
	}
}

func (r *Router) Handle(msgType string, h ports.Handler) {
	r.handlers[msgType] = h
}

// On registers fn for msgType with the payload decoded into T.
func On[T any](r *Router, msgType string, fn func(ctx context.Context, msg ports.Message, payload T) error) {
	r.Handle(msgType, func(ctx context.Context, msg ports.Message) error {
		payload, err := service.DecodePayload[T](msg)
		if err != nil {
			return err
		}
		return fn(ctx, msg, payload)
	})
}

// Types lists the registered message types in a stable order.
func (r *Router) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch implements ports.Handler. It only returns an error when the
// context was cancelled.
func (r *Router) Dispatch(ctx context.Context, msg ports.Message) (err error) {
	h, ok := r.handlers[msg.Type]
	if !ok {
		r.metrics.MessageHandled(msg.Type, OutcomeUnknown)
		r.logger.Warn("no handler for message type", "type", msg.Type, "message_id", msg.ID)
		return nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.MessageHandled(msg.Type, OutcomePanic)
			r.logger.Error("panic recovered",
				"panic", rec,
				"type", msg.Type,
				"message_id", msg.ID,
				"stack", string(debug.Stack()),
			)
			err = nil
		}
	}()

	handlerErr := h(ctx, msg)
	if handlerErr == nil {
		r.metrics.MessageHandled(msg.Type, OutcomeOK)
		r.logger.Debug("message handled",
			"type", msg.Type,
			"message_id", msg.ID,
			"duration", time.Since(start),
		)
		return nil
	}

	if errors.Is(handlerErr, domain.ErrDuplicateIgnored) {
		r.metrics.MessageHandled(msg.Type, OutcomeDuplicate)
		r.logger.Info("duplicate message ignored",
			"type", msg.Type,
			"message_id", msg.ID,
			"error", handlerErr,
		)
		return nil
	}

	r.metrics.MessageHandled(msg.Type, OutcomeFailed)
	r.logger.Error("message handling failed",
		"type", msg.Type,
		"message_id", msg.ID,
		"correlation_id", msg.CorrelationID,
		"attempt", msg.Attempt,
		"category", service.CategorizeError(handlerErr),
		"retryable", service.IsRetryable(handlerErr),
		"error", handlerErr,
	)

	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("dispatch %s: %w", msg.Type, ctx.Err())
	}
	return nil
}
