package task

import (
	"errors"
	"time"
)

var (
	ErrNegativeMaxRetries   = errors.New("max retries must be >= 0")
	ErrNegativeRetryDelay   = errors.New("retry delay must be >= 0")
	ErrInvalidBackoff       = errors.New("backoff multiplier must be >= 1")
	ErrInvalidMaxRetryDelay = errors.New("max retry delay must be >= retry delay")
)

// RetryPolicy is an immutable value describing whether and how failed
// executions are retried: capped exponential backoff.
type RetryPolicy struct {
	enabled           bool
	maxRetries        int
	retryDelay        time.Duration
	backoffMultiplier int
	maxRetryDelay     time.Duration
}

// NewRetryPolicy validates and builds a retry policy
func NewRetryPolicy(enabled bool, maxRetries int, retryDelay time.Duration, backoffMultiplier int, maxRetryDelay time.Duration) (RetryPolicy, error) {
	switch {
	case maxRetries < 0:
		return RetryPolicy{}, ErrNegativeMaxRetries
	case retryDelay < 0:
		return RetryPolicy{}, ErrNegativeRetryDelay
	case backoffMultiplier < 1:
		return RetryPolicy{}, ErrInvalidBackoff
	case maxRetryDelay < retryDelay:
		return RetryPolicy{}, ErrInvalidMaxRetryDelay
	}

	return RetryPolicy{
		enabled:           enabled,
		maxRetries:        maxRetries,
		retryDelay:        retryDelay,
		backoffMultiplier: backoffMultiplier,
		maxRetryDelay:     maxRetryDelay,
	}, nil
}

// NoRetry is the policy for tasks that never retry
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

func (p RetryPolicy) Enabled() bool                { return p.enabled }
func (p RetryPolicy) MaxRetries() int              { return p.maxRetries }
func (p RetryPolicy) RetryDelay() time.Duration    { return p.retryDelay }
func (p RetryPolicy) BackoffMultiplier() int       { return p.backoffMultiplier }
func (p RetryPolicy) MaxRetryDelay() time.Duration { return p.maxRetryDelay }

// ShouldRetry reports whether another attempt is allowed after the given
// number of consecutive failures
func (p RetryPolicy) ShouldRetry(consecutiveFailures int) bool {
	return p.enabled && consecutiveFailures < p.maxRetries
}

// NextDelay returns the backoff before the next attempt:
// retryDelay * multiplier^consecutiveFailures, hard-capped at maxRetryDelay.
// Returns 0 when retrying is not applicable.
func (p RetryPolicy) NextDelay(consecutiveFailures int) time.Duration {
	if !p.ShouldRetry(consecutiveFailures) {
		return 0
	}

	delay := p.retryDelay
	for i := 0; i < consecutiveFailures; i++ {
		delay *= time.Duration(p.backoffMultiplier)
		if delay >= p.maxRetryDelay || delay < 0 { // cap, and guard overflow
			return p.maxRetryDelay
		}
	}
	return delay
}
