// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
)

// WrapAny classifies a generic error into a *FluxError, the way the teacher
// client's WrapError classifies arbitrary transport errors. An error already
// wrapping a *FluxError passes through unchanged; context cancellation and
// deadline expiry map to Again; net.Error timeouts and everything else map
// to IO.
func WrapAny(err error) *FluxError {
	if err == nil {
		return nil
	}

	var fe *FluxError
	if stderrors.As(err, &fe) {
		return fe
	}

	if stderrors.Is(err, context.Canceled) {
		return Wrap(Again, "operation was canceled", err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(Again, "operation deadline exceeded", err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(IO, "transport timeout", err)
	}

	return Wrap(IO, err.Error(), err)
}

// NotFoundf builds a NotFound error for a missing key/rank/job id.
func NotFoundf(format string, args ...any) *FluxError {
	return Newf(NotFound, format, args...)
}

// Invalidf builds an Invalid error for malformed caller input.
func Invalidf(format string, args ...any) *FluxError {
	return Newf(Invalid, format, args...)
}

// Existsf builds an Exists error for a rejected duplicate insertion.
func Existsf(format string, args ...any) *FluxError {
	return Newf(Exists, format, args...)
}

// Protocolf builds a Protocol error for malformed or out-of-order peer input.
func Protocolf(format string, args ...any) *FluxError {
	return Newf(Protocol, format, args...)
}

// Againf builds an Again error for a transient condition.
func Againf(format string, args ...any) *FluxError {
	return Newf(Again, format, args...)
}

// NewJobEventError reports a protocol violation in a job eventlog entry,
// the job-engine analogue of the teacher client's NewJobError.
func NewJobEventError(jobID uint64, eventName string, cause error) *FluxError {
	err := Wrap(Protocol, fmt.Sprintf("malformed %q event for job %d", eventName, jobID), cause)
	return err.ForJob(jobID)
}

// NewDrainError reports a resource.drain RPC failure for a set of ranks.
func NewDrainError(jobID uint64, cause error) *FluxError {
	return Wrap(IO, "resource.drain failed", cause).ForJob(jobID)
}

// GetCode extracts the Code of err, or "" if err is not (or does not wrap) a *FluxError.
func GetCode(err error) Code {
	var fe *FluxError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsRetryable reports whether err is a *FluxError classified as retryable.
func IsRetryable(err error) bool {
	var fe *FluxError
	if stderrors.As(err, &fe) {
		return fe.IsRetryable()
	}
	return false
}

// Is reports whether err is a *FluxError with the given Code.
func Is(err error, code Code) bool {
	return GetCode(err) == code
}
