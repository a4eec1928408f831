// Package messaging holds the bus drivers. All of them carry the same JSON
// envelope and deliver at least once, in no particular order.
package messaging

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/DanielPopoola/librarian/internal/core/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	headerAttempt = "x-attempt"
	headerType    = "x-type"
)

type envelope struct {
	ID            string              `json:"id"`
	Type          string              `json:"type"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	Attempt       int                 `json:"attempt"`
	Lookups       map[string]int      `json:"lookups,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
	Payload       jsoniter.RawMessage `json:"payload"`
}

// Encode renders msg as the wire envelope.
func Encode(msg ports.Message) ([]byte, error) {
	payload := jsoniter.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = jsoniter.RawMessage("null")
	}
	body, err := json.Marshal(envelope{
		ID:            msg.ID,
		Type:          msg.Type,
		CorrelationID: msg.CorrelationID,
		Attempt:       msg.Attempt,
		Lookups:       msg.Lookups,
		OccurredAt:    msg.OccurredAt,
		Payload:       payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", msg.ID, err)
	}
	return body, nil
}

// Decode parses a wire envelope.
func Decode(body []byte) (ports.Message, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ports.Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return ports.Message{}, fmt.Errorf("decode envelope %s: missing type", env.ID)
	}
	return ports.Message{
		ID:            env.ID,
		Type:          env.Type,
		CorrelationID: env.CorrelationID,
		Attempt:       env.Attempt,
		Lookups:       env.Lookups,
		OccurredAt:    env.OccurredAt,
		Payload:       []byte(env.Payload),
	}, nil
}

func matches(types []string, msgType string) bool {
	for _, t := range types {
		if t == msgType {
			return true
		}
	}
	return false
}
