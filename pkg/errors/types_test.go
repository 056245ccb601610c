package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFluxError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *FluxError
		expected string
	}{
		{
			name:     "error with details",
			err:      &FluxError{Code: IO, Message: "kvs commit failed", Details: "timeout after 30s"},
			expected: "[io] kvs commit failed: timeout after 30s",
		},
		{
			name:     "error without details",
			err:      &FluxError{Code: Permission, Message: "authorization denied"},
			expected: "[permission] authorization denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNew_SetsCategoryAndRetryable(t *testing.T) {
	tests := []struct {
		code       Code
		category   Category
		retryable  bool
	}{
		{Invalid, CategoryInput, false},
		{NoMem, CategoryResource, false},
		{NotFound, CategoryResource, false},
		{Exists, CategoryResource, false},
		{Protocol, CategoryProtocol, false},
		{IO, CategoryTransport, true},
		{Permission, CategoryAuthz, false},
		{Again, CategoryTransient, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "boom")
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.IsRetryable())
			assert.False(t, err.Timestamp.IsZero())
		})
	}
}

func TestFluxError_Unwrap(t *testing.T) {
	cause := stderrors.New("underlying")
	err := Wrap(IO, "commit failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestFluxError_Is(t *testing.T) {
	a := New(NotFound, "job 100 unknown")
	b := &FluxError{Code: NotFound}
	c := &FluxError{Code: Invalid}

	assert.True(t, a.Is(b))
	assert.False(t, a.Is(c))
}

func TestForJobAndForRank(t *testing.T) {
	err := New(Protocol, "bad event").ForJob(100).ForRank(3)
	assert.Equal(t, uint64(100), err.JobID)
	assert.Equal(t, 3, err.Rank)
}
