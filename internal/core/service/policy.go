package service

import "time"

// RetryPolicy bounds a retry loop: at most MaxAttempts tries with Interval
// between consecutive tries.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	return p
}

// ResolveMode selects how missing references are waited for.
type ResolveMode string

const (
	// ResolveBlocking polls in the handler goroutine.
	ResolveBlocking ResolveMode = "blocking"
	// ResolveRequeue republishes the message with a delay instead.
	ResolveRequeue ResolveMode = "requeue"
)
