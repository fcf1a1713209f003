package engine

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy shapes reloads after consecutive load failures. The first retry
// is always immediate. A zero InitialInterval keeps every retry immediate.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// MaxRetries stops the chain after this many consecutive failures; 0 means unlimited.
	MaxRetries      int
}

// DefaultRetryPolicy retries the first failure at once, then backs off from
// one second up to a minute with no retry cap. ImmediateRetryPolicy retries
// every failure at once instead.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2,
	}
}

// ImmediateRetryPolicy retries every failure at once with no limit.
func ImmediateRetryPolicy() RetryPolicy { return RetryPolicy{} }

func (p RetryPolicy) schedule() *retrySchedule {
	var next backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialInterval > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.InitialInterval
		if p.MaxInterval > 0 {
			exp.MaxInterval = p.MaxInterval
		}
		if p.Multiplier > 1 {
			exp.Multiplier = p.Multiplier
		}
		exp.Reset()
		next = exp
	}
	return &retrySchedule{next: next, maxRetries: p.MaxRetries}
}

// retrySchedule implements backoff.BackOff.
type retrySchedule struct {
	next       backoff.BackOff
	attempts   int
	maxRetries int
}

func (s *retrySchedule) NextBackOff() time.Duration {
	s.attempts++
	if s.maxRetries > 0 && s.attempts > s.maxRetries {
		return backoff.Stop
	}
	if s.attempts == 1 {
		return 0
	}
	return s.next.NextBackOff()
}

func (s *retrySchedule) Reset() {
	s.attempts = 0
	s.next.Reset()
}

var _ backoff.BackOff = (*retrySchedule)(nil)
