// Package domain holds the entities owned by the consistency core: the
// signup saga record, the lending aggregate, correlated requests and the
// read-replica copies of books and readers.
package domain

import (
	"strings"
	"time"
)

// SagaStatus is the lifecycle state of a signup saga instance.
type SagaStatus string

const (
	SagaInitiated        SagaStatus = "INITIATED"
	SagaPartialAReceived SagaStatus = "PARTIAL_A_RECEIVED"
	SagaPartialBReceived SagaStatus = "PARTIAL_B_RECEIVED"
	SagaBothReceived     SagaStatus = "BOTH_RECEIVED"
	SagaFinalized        SagaStatus = "FINALIZED"
	SagaFailed           SagaStatus = "FAILED"
)

// IsTerminal reports whether no confirmation can change the status anymore.
func (s SagaStatus) IsTerminal() bool {
	return s == SagaFinalized || s == SagaFailed
}

// Signal is one of the two confirmations a signup waits for.
// Partial A is the user account half, partial B the reader profile half.
type Signal int

const (
	SignalPartialA Signal = iota + 1
	SignalPartialB
)

func (s Signal) String() string {
	switch s {
	case SignalPartialA:
		return "PARTIAL_A"
	case SignalPartialB:
		return "PARTIAL_B"
	}
	return "UNKNOWN"
}

// SagaState is the mergeable part of a PendingCreationRequest.
type SagaState struct {
	Status           SagaStatus
	PartialAReceived bool
	PartialBReceived bool
}

// Merge folds a confirmation signal into the current state. It is pure and
// order-independent: applying A then B yields the same state as B then A, and
// re-applying a signal that was already merged returns the state unchanged.
func Merge(current SagaState, signal Signal) SagaState {
	if current.Status.IsTerminal() || current.Status == SagaBothReceived {
		return current
	}

	next := current
	switch signal {
	case SignalPartialA:
		next.PartialAReceived = true
	case SignalPartialB:
		next.PartialBReceived = true
	default:
		return current
	}

	switch {
	case next.PartialAReceived && next.PartialBReceived:
		next.Status = SagaBothReceived
	case next.PartialAReceived:
		next.Status = SagaPartialAReceived
	case next.PartialBReceived:
		next.Status = SagaPartialBReceived
	}
	return next
}

// PendingCreationRequest is one in-flight signup: a user account and a reader
// profile created by two different services and merged here.
type PendingCreationRequest struct {
	NaturalKey       string
	Status           SagaStatus
	PartialAReceived bool
	PartialBReceived bool
	ErrorMessage     string

	Name        string
	Email       string
	PhoneNumber string

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

func NewPendingCreationRequest(naturalKey, name, email, phone string, now time.Time) (*PendingCreationRequest, error) {
	if strings.TrimSpace(naturalKey) == "" {
		return nil, NewMissingRequiredFieldError("reader number")
	}
	if strings.TrimSpace(email) == "" {
		return nil, NewMissingRequiredFieldError("email")
	}

	return &PendingCreationRequest{
		NaturalKey:  naturalKey,
		Status:      SagaInitiated,
		Name:        name,
		Email:       email,
		PhoneNumber: phone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (p *PendingCreationRequest) State() SagaState {
	return SagaState{
		Status:           p.Status,
		PartialAReceived: p.PartialAReceived,
		PartialBReceived: p.PartialBReceived,
	}
}

// Apply merges a signal and reports whether anything changed.
func (p *PendingCreationRequest) Apply(signal Signal, now time.Time) bool {
	before := p.State()
	after := Merge(before, signal)
	if after == before {
		return false
	}
	p.Status = after.Status
	p.PartialAReceived = after.PartialAReceived
	p.PartialBReceived = after.PartialBReceived
	p.UpdatedAt = now
	return true
}

// Finalize marks the saga complete. Only valid from BOTH_RECEIVED.
func (p *PendingCreationRequest) Finalize(now time.Time) error {
	if p.Status != SagaBothReceived {
		return NewInvalidTransitionError(string(p.Status), string(SagaFinalized))
	}
	p.Status = SagaFinalized
	p.UpdatedAt = now
	return nil
}

// Fail records a terminal failure for operators to inspect.
func (p *PendingCreationRequest) Fail(reason string, now time.Time) error {
	if p.Status.IsTerminal() {
		return NewInvalidTransitionError(string(p.Status), string(SagaFailed))
	}
	p.Status = SagaFailed
	p.ErrorMessage = reason
	p.UpdatedAt = now
	return nil
}

func (p *PendingCreationRequest) Clone() *PendingCreationRequest {
	c := *p
	return &c
}
