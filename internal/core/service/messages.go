package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/DanielPopoola/librarian/internal/core/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedPayload marks a message whose payload cannot be decoded. It is
// never worth redelivering.
var ErrMalformedPayload = errors.New("malformed message payload")

// NewMessage wraps payload in a fresh envelope.
func NewMessage(msgType, correlationID string, payload any, now time.Time) (ports.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return ports.Message{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return ports.Message{
		ID:            uuid.NewString(),
		Type:          msgType,
		CorrelationID: correlationID,
		OccurredAt:    now,
		Payload:       body,
	}, nil
}

// DecodePayload unmarshals msg.Payload into T.
func DecodePayload[T any](msg ports.Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, msg.Type, err)
	}
	return v, nil
}
