package domain

import "time"

// ValidationKind says which side of a lending a correlated request validates.
type ValidationKind string

const (
	ValidationBook   ValidationKind = "BOOK"
	ValidationReader ValidationKind = "READER"
)

// CorrelatedRequest is an outstanding asynchronous request awaiting the
// response that carries the same correlation id.
type CorrelatedRequest struct {
	CorrelationID string
	SubjectKey    string
	Kind          ValidationKind
	EntityKey     string
	Resends       int
	CreatedAt     time.Time
	// ExpiresAt is zero when the request never expires.
	ExpiresAt time.Time
}

func (c *CorrelatedRequest) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

func (c *CorrelatedRequest) Clone() *CorrelatedRequest {
	cp := *c
	return &cp
}
