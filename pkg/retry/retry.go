// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
)

// Policy defines the interface for retry policies applied to broker RPCs:
// bootstrap barrier/whois exchanges, KVS commits, and perilog/killbot RPC
// dispatch all share this shape instead of each hand-rolling backoff.
type Policy interface {
	// ShouldRetry determines if a failed RPC should be retried.
	ShouldRetry(ctx context.Context, err error, attempt int) bool

	// WaitTime returns the wait time before the next retry
	WaitTime(attempt int) time.Duration

	// MaxRetries returns the maximum number of retries
	MaxRetries() int
}

// RPCExponentialBackoff implements exponential backoff retry policy for
// broker request/response RPCs. A non-nil error is retried if it classifies
// as retryable per pkg/errors; a nil error is never retried.
type RPCExponentialBackoff struct {
	maxRetries    int
	minWaitTime   time.Duration
	maxWaitTime   time.Duration
	backoffFactor float64
	jitter        bool
}

// NewRPCExponentialBackoff creates a new exponential backoff retry policy for broker RPCs
func NewRPCExponentialBackoff() *RPCExponentialBackoff {
	return &RPCExponentialBackoff{
		maxRetries:    3,
		minWaitTime:   1 * time.Second,
		maxWaitTime:   30 * time.Second,
		backoffFactor: 2.0,
		jitter:        true,
	}
}

// WithMaxRetries sets the maximum number of retries
func (e *RPCExponentialBackoff) WithMaxRetries(maxRetries int) *RPCExponentialBackoff {
	e.maxRetries = maxRetries
	return e
}

// WithMinWaitTime sets the minimum wait time
func (e *RPCExponentialBackoff) WithMinWaitTime(minWaitTime time.Duration) *RPCExponentialBackoff {
	e.minWaitTime = minWaitTime
	return e
}

// WithMaxWaitTime sets the maximum wait time
func (e *RPCExponentialBackoff) WithMaxWaitTime(maxWaitTime time.Duration) *RPCExponentialBackoff {
	e.maxWaitTime = maxWaitTime
	return e
}

// WithBackoffFactor sets the backoff factor
func (e *RPCExponentialBackoff) WithBackoffFactor(backoffFactor float64) *RPCExponentialBackoff {
	e.backoffFactor = backoffFactor
	return e
}

// WithJitter enables or disables jitter
func (e *RPCExponentialBackoff) WithJitter(jitter bool) *RPCExponentialBackoff {
	e.jitter = jitter
	return e
}

// ShouldRetry determines if an RPC should be retried
func (e *RPCExponentialBackoff) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= e.maxRetries {
		return false
	}

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return false
	default:
	}

	if err == nil {
		return false
	}

	return fluxerrors.IsRetryable(err)
}

// WaitTime returns the wait time before the next retry
func (e *RPCExponentialBackoff) WaitTime(attempt int) time.Duration {
	if attempt <= 0 {
		return e.minWaitTime
	}

	// Calculate exponential backoff
	waitTime := time.Duration(float64(e.minWaitTime) * math.Pow(e.backoffFactor, float64(attempt-1)))

	// Apply maximum wait time
	if waitTime > e.maxWaitTime {
		waitTime = e.maxWaitTime
	}

	// Apply jitter if enabled
	if e.jitter {
		jitterAmount := time.Duration(rand.Float64() * float64(waitTime) * 0.1)
		waitTime += jitterAmount
	}

	return waitTime
}

// MaxRetries returns the maximum number of retries
func (e *RPCExponentialBackoff) MaxRetries() int {
	return e.maxRetries
}

// Do runs fn, retrying per policy's ShouldRetry/WaitTime decisions. A Policy
// classifies the error first (via fluxerrors.IsRetryable) instead of
// retrying every failure blindly, so for broker RPCs only the Again and IO
// classes are retried.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !policy.ShouldRetry(ctx, err, attempt) {
			return err
		}
		select {
		case <-time.After(policy.WaitTime(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DoWithResult is Do for functions that also return a value.
func DoWithResult[T any](ctx context.Context, policy Policy, fn func() (T, error)) (T, error) {
	var zero T
	var err error
	for attempt := 0; ; attempt++ {
		var val T
		val, err = fn()
		if err == nil {
			return val, nil
		}
		if !policy.ShouldRetry(ctx, err, attempt) {
			return zero, err
		}
		select {
		case <-time.After(policy.WaitTime(attempt)):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// FixedDelay implements fixed delay retry policy
type FixedDelay struct {
	maxRetries int
	delay      time.Duration
}

// NewFixedDelay creates a new fixed delay retry policy
func NewFixedDelay(maxRetries int, delay time.Duration) *FixedDelay {
	return &FixedDelay{
		maxRetries: maxRetries,
		delay:      delay,
	}
}

// ShouldRetry determines if an RPC should be retried
func (f *FixedDelay) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= f.maxRetries {
		return false
	}

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return false
	default:
	}

	if err == nil {
		return false
	}

	return fluxerrors.IsRetryable(err) || fluxerrors.GetCode(err) == ""
}

// WaitTime returns the wait time before the next retry
func (f *FixedDelay) WaitTime(attempt int) time.Duration {
	return f.delay
}

// MaxRetries returns the maximum number of retries
func (f *FixedDelay) MaxRetries() int {
	return f.maxRetries
}

// NoRetry implements no retry policy
type NoRetry struct{}

// NewNoRetry creates a new no retry policy
func NewNoRetry() *NoRetry {
	return &NoRetry{}
}

// ShouldRetry always returns false
func (n *NoRetry) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	return false
}

// WaitTime returns zero duration
func (n *NoRetry) WaitTime(attempt int) time.Duration {
	return 0
}

// MaxRetries returns zero
func (n *NoRetry) MaxRetries() int {
	return 0
}
