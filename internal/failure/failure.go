// Package failure holds the error taxonomy shared by every pipeline stage.
// Each sentinel belongs to exactly one Kind so that every discard or park
// decision can be attributed to a single category.
package failure

import (
	"context"
	"errors"
)

type Kind string

const (
	KindTransient Kind = "transient"
	KindConflict  Kind = "conflict"
	KindContent   Kind = "content"
	KindFatal     Kind = "fatal"
)

var (
	// Content: the unit is discarded and never retried.
	ErrUnsupportedContentKind = errors.New("unsupported content kind")
	ErrInvalidMessage         = errors.New("invalid message")
	ErrEmptyContent           = errors.New("message has no analyzable content")
	ErrAnalysisRejected       = errors.New("analysis rejected")
	ErrLowConfidence          = errors.New("analysis confidence below threshold")
	ErrAlreadyIncorporated    = errors.New("content already incorporated")

	// Transient: retried with backoff, parked when attempts run out.
	ErrAnalysisUnavailable = errors.New("analysis service unavailable")
	ErrPublishUnavailable  = errors.New("wiki service unavailable")

	// Conflict: resolved by re-deriving the decision from fresh state.
	ErrEditConflict           = errors.New("edit conflict")
	ErrTitleTaken             = errors.New("page title already taken")
	ErrConcurrentModification = errors.New("concurrent modification")

	// Fatal: the unit halts immediately.
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnsupportedContentKind, KindContent},
	{ErrInvalidMessage, KindContent},
	{ErrEmptyContent, KindContent},
	{ErrAnalysisRejected, KindContent},
	{ErrLowConfidence, KindContent},
	{ErrAlreadyIncorporated, KindContent},
	{ErrAnalysisUnavailable, KindTransient},
	{ErrPublishUnavailable, KindTransient},
	{ErrEditConflict, KindConflict},
	{ErrTitleTaken, KindConflict},
	{ErrConcurrentModification, KindConflict},
	{ErrPermissionDenied, KindFatal},
	{ErrInvalidConfig, KindFatal},
}

// KindOf classifies err. Errors outside the taxonomy, including context
// deadlines, are treated as transient.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindTransient
}

// Retryable reports whether a plain retry of the same step may succeed.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient && !errors.Is(err, context.Canceled)
}

// Known reports whether err wraps one of the taxonomy sentinels.
func Known(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return true
		}
	}
	return false
}
