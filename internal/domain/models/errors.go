package models

import "errors"

// Engine error taxonomy. Callers classify with errors.Is.
var (
	// ErrInvalidFeatureInput marks a malformed classifier input; the caller
	// must reuse the previous snapshot's regime rather than trade on ambiguity.
	ErrInvalidFeatureInput = errors.New("invalid feature input")

	// ErrDuplicateTrade marks a repeated TradeOutcome id; recording is an
	// idempotent no-op.
	ErrDuplicateTrade = errors.New("duplicate trade outcome")

	// ErrInsufficientSample marks a low-confidence performance summary the
	// controller must not act on.
	ErrInsufficientSample = errors.New("insufficient sample")

	// ErrAdaptationBounds marks a proposed parameter value outside its
	// configured min/max; the value is clamped and logged, never widened.
	ErrAdaptationBounds = errors.New("adaptation bounds violation")

	// ErrCalendarUnavailable marks an unreachable calendar collaborator;
	// previously-known events remain in effect.
	ErrCalendarUnavailable = errors.New("calendar unavailable")

	// ErrStorageWrite marks an exhausted storage-write retry; losing an
	// audit record is unacceptable, so ingestion halts for that strategy.
	ErrStorageWrite = errors.New("storage write failed")
)
