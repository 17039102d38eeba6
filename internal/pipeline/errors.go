package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so callers can map them to HTTP status
// codes and decide whether a retry makes sense.
type Kind string

const (
	// KindValidation means the input was rejected before any backend call.
	KindValidation Kind = "validation"

	// KindQuotaExceeded means a free-tier or revision limit was hit.
	KindQuotaExceeded Kind = "quota_exceeded"

	// KindGeneration means a model call failed or returned unusable output.
	KindGeneration Kind = "generation"

	// KindStorage means an asset upload or download failed.
	KindStorage Kind = "storage"

	// KindPersistence means a book record read or write failed.
	KindPersistence Kind = "persistence"

	// KindInvalidState means the book record was not in a status that
	// permits the requested operation.
	KindInvalidState Kind = "invalid_state"

	// KindCanceled means the run was canceled via its context.
	KindCanceled Kind = "canceled"
)

// Error is the pipeline error type. Step names the phase that failed using
// the same labels the browser shows while polling.
type Error struct {
	Kind Kind
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// mark wraps err with a kind and step. Context cancellation always overrides
// the caller's kind so a canceled run is never misreported as a backend
// failure.
func mark(kind Kind, step string, err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindCanceled
	}
	return &Error{Kind: kind, Step: step, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// as KindGeneration, the safest default for a pipeline failure.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindGeneration
}

// Retryable reports whether a failed run can be retried from its record.
// Validation and state errors will fail the same way again; everything
// transient can go through the retry path.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindQuotaExceeded, KindInvalidState:
		return false
	}
	return true
}
