package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrInsufficientBalance fails a gated request fast, before any write.
	ErrInsufficientBalance = errors.New("insufficient credit balance")

	// ErrHandleNotFound is a permanent fetch failure: the external source has
	// no such handle. Never retried.
	ErrHandleNotFound = errors.New("handle not found at content source")

	// ErrBelowThreshold marks an orchestration run whose stage success rate
	// fell below the acceptance threshold after retries were exhausted.
	// Successful stage output persisted before the failure remains valid.
	ErrBelowThreshold = errors.New("stage success rate below acceptance threshold")

	// ErrVerificationMismatch means the store does not reflect what the
	// orchestration believed it wrote. A bug signal, never silently ignored.
	ErrVerificationMismatch = errors.New("post-hoc verification mismatch")

	// ErrWalletNotFound means the consumer has no wallet provisioned.
	ErrWalletNotFound = errors.New("wallet not found")
)

// TransientError wraps an error that is worth retrying with backoff. The
// retry package checks for it via the IsRetryable method.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsRetryable marks the error as transient for retry classification.
func (e *TransientError) IsRetryable() bool { return true }

// Transient wraps err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError wraps an error that must never be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsRetryable marks the error as permanent for retry classification.
func (e *PermanentError) IsRetryable() bool { return false }

// Permanent wraps err as non-retryable. Returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
