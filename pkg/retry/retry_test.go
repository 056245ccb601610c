// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestRPCExponentialBackoff_Default(t *testing.T) {
	policy := NewRPCExponentialBackoff()

	assert.Equal(t, 3, policy.MaxRetries())
	assert.Equal(t, 1*time.Second, policy.minWaitTime)
	assert.Equal(t, 30*time.Second, policy.maxWaitTime)
	assert.Equal(t, 2.0, policy.backoffFactor)
	assert.Equal(t, true, policy.jitter)
}

func TestRPCExponentialBackoff_WithMethods(t *testing.T) {
	policy := NewRPCExponentialBackoff().
		WithMaxRetries(5).
		WithMinWaitTime(2 * time.Second).
		WithMaxWaitTime(60 * time.Second).
		WithBackoffFactor(1.5).
		WithJitter(false)

	assert.Equal(t, 5, policy.MaxRetries())
	assert.Equal(t, 2*time.Second, policy.minWaitTime)
	assert.Equal(t, 60*time.Second, policy.maxWaitTime)
	assert.Equal(t, 1.5, policy.backoffFactor)
	assert.Equal(t, false, policy.jitter)
}

func TestRPCExponentialBackoff_ShouldRetry(t *testing.T) {
	policy := NewRPCExponentialBackoff().WithMaxRetries(3)
	ctx := context.Background()

	tests := []struct {
		name        string
		err         error
		attempt     int
		shouldRetry bool
	}{
		{
			name:        "again error should retry",
			err:         fluxerrors.New(fluxerrors.Again, "kvs busy"),
			attempt:     1,
			shouldRetry: true,
		},
		{
			name:        "io error should retry",
			err:         fluxerrors.New(fluxerrors.IO, "transport reset"),
			attempt:     1,
			shouldRetry: true,
		},
		{
			name:        "max retries exceeded",
			err:         fluxerrors.New(fluxerrors.Again, "kvs busy"),
			attempt:     3,
			shouldRetry: false,
		},
		{
			name:        "notfound should not retry",
			err:         fluxerrors.New(fluxerrors.NotFound, "unknown job"),
			attempt:     1,
			shouldRetry: false,
		},
		{
			name:        "nil error should not retry",
			err:         nil,
			attempt:     1,
			shouldRetry: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := policy.ShouldRetry(ctx, tt.err, tt.attempt)
			assert.Equal(t, tt.shouldRetry, result)
		})
	}
}

func TestRPCExponentialBackoff_ShouldRetryWithCancelledContext(t *testing.T) {
	policy := NewRPCExponentialBackoff()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := policy.ShouldRetry(ctx, fluxerrors.New(fluxerrors.Again, "busy"), 1)
	assert.False(t, result)
}

func TestRPCExponentialBackoff_WaitTime(t *testing.T) {
	policy := NewRPCExponentialBackoff().
		WithMinWaitTime(1 * time.Second).
		WithMaxWaitTime(10 * time.Second).
		WithBackoffFactor(2.0).
		WithJitter(false) // Disable jitter for predictable testing

	tests := []struct {
		name        string
		attempt     int
		expectedMin time.Duration
		expectedMax time.Duration
	}{
		{
			name:        "attempt 0",
			attempt:     0,
			expectedMin: 1 * time.Second,
			expectedMax: 1 * time.Second,
		},
		{
			name:        "attempt 1",
			attempt:     1,
			expectedMin: 1 * time.Second,
			expectedMax: 1 * time.Second,
		},
		{
			name:        "attempt 2",
			attempt:     2,
			expectedMin: 2 * time.Second,
			expectedMax: 2 * time.Second,
		},
		{
			name:        "attempt 3",
			attempt:     3,
			expectedMin: 4 * time.Second,
			expectedMax: 4 * time.Second,
		},
		{
			name:        "attempt 4 (below max)",
			attempt:     4,
			expectedMin: 8 * time.Second,
			expectedMax: 10 * time.Second, // 8s, still under the 10s max
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			waitTime := policy.WaitTime(tt.attempt)

			if tt.expectedMin == tt.expectedMax {
				assert.Equal(t, tt.expectedMin, waitTime)
			} else {
				assert.GreaterOrEqual(t, waitTime, tt.expectedMin)
				assert.LessOrEqual(t, waitTime, tt.expectedMax)
			}
		})
	}
}

func TestRPCExponentialBackoff_WaitTimeWithJitter(t *testing.T) {
	policy := NewRPCExponentialBackoff().
		WithMinWaitTime(1 * time.Second).
		WithMaxWaitTime(10 * time.Second).
		WithBackoffFactor(2.0).
		WithJitter(true)

	waitTime1 := policy.WaitTime(2)
	waitTime2 := policy.WaitTime(2)

	baseWaitTime := 2 * time.Second
	assert.GreaterOrEqual(t, waitTime1, baseWaitTime)
	assert.GreaterOrEqual(t, waitTime2, baseWaitTime)

	assert.LessOrEqual(t, waitTime1, baseWaitTime+time.Duration(float64(baseWaitTime)*0.1))
	assert.LessOrEqual(t, waitTime2, baseWaitTime+time.Duration(float64(baseWaitTime)*0.1))
}

func TestFixedDelay(t *testing.T) {
	maxRetries := 3
	delay := 5 * time.Second
	policy := NewFixedDelay(maxRetries, delay)

	assert.Equal(t, maxRetries, policy.MaxRetries())
	assert.Equal(t, delay, policy.WaitTime(1))
	assert.Equal(t, delay, policy.WaitTime(5)) // Should always return same delay

	ctx := context.Background()

	assert.True(t, policy.ShouldRetry(ctx, stderrors.New("transport reset"), 1))
	assert.True(t, policy.ShouldRetry(ctx, fluxerrors.New(fluxerrors.IO, "kvs commit failed"), 2))
	assert.False(t, policy.ShouldRetry(ctx, stderrors.New("transport reset"), 3)) // Max retries exceeded
	assert.False(t, policy.ShouldRetry(ctx, fluxerrors.New(fluxerrors.NotFound, "unknown key"), 1))
}

func TestFixedDelay_ShouldRetryWithCancelledContext(t *testing.T) {
	policy := NewFixedDelay(3, 1*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := policy.ShouldRetry(ctx, stderrors.New("error"), 1)
	assert.False(t, result)
}

func TestNoRetry(t *testing.T) {
	policy := NewNoRetry()

	assert.Equal(t, 0, policy.MaxRetries())
	assert.Equal(t, time.Duration(0), policy.WaitTime(1))

	ctx := context.Background()

	assert.False(t, policy.ShouldRetry(ctx, stderrors.New("error"), 0))
	assert.False(t, policy.ShouldRetry(ctx, fluxerrors.New(fluxerrors.IO, "timeout"), 0))
	assert.False(t, policy.ShouldRetry(ctx, stderrors.New("error"), 1))
}

func TestPolicyInterface(t *testing.T) {
	var _ Policy = &RPCExponentialBackoff{}
	var _ Policy = &FixedDelay{}
	var _ Policy = &NoRetry{}

	policies := []Policy{
		NewRPCExponentialBackoff(),
		NewFixedDelay(3, 1*time.Second),
		NewNoRetry(),
	}

	ctx := context.Background()

	for _, policy := range policies {
		maxRetries := policy.MaxRetries()
		assert.GreaterOrEqual(t, maxRetries, 0)

		waitTime := policy.WaitTime(1)
		assert.GreaterOrEqual(t, waitTime, time.Duration(0))

		shouldRetry := policy.ShouldRetry(ctx, stderrors.New("error"), 0)
		_ = shouldRetry
	}
}

func TestRetryableFluxErrorCodes(t *testing.T) {
	policy := NewRPCExponentialBackoff()
	ctx := context.Background()

	retryableCodes := []fluxerrors.Code{
		fluxerrors.Again,
		fluxerrors.IO,
	}

	nonRetryableCodes := []fluxerrors.Code{
		fluxerrors.Invalid,
		fluxerrors.NoMem,
		fluxerrors.NotFound,
		fluxerrors.Exists,
		fluxerrors.Protocol,
		fluxerrors.Permission,
	}

	for _, code := range retryableCodes {
		t.Run("retryable_"+string(code), func(t *testing.T) {
			result := policy.ShouldRetry(ctx, fluxerrors.New(code, "boom"), 1)
			assert.True(t, result)
		})
	}

	for _, code := range nonRetryableCodes {
		t.Run("non_retryable_"+string(code), func(t *testing.T) {
			result := policy.ShouldRetry(ctx, fluxerrors.New(code, "boom"), 1)
			assert.False(t, result)
		})
	}
}
