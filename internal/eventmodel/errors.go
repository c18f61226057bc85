// Package eventmodel defines the atomic unit of discovery — the Event — and
// the open-ended event-type classification registry the correlation engine
// uses to tell entities apart from descriptive or internal bookkeeping data.
package eventmodel

import "errors"

// Sentinel validation errors, checked with errors.Is.
var (
	// ErrEmptyEventType indicates a missing event_type.
	ErrEmptyEventType = errors.New("event_type cannot be empty")

	// ErrEmptyData indicates a missing data payload.
	ErrEmptyData = errors.New("data cannot be empty")

	// ErrEmptyModule indicates a missing module name on a non-root event.
	ErrEmptyModule = errors.New("module cannot be empty for a non-root event")

	// ErrMissingParent indicates a non-root event was constructed without a parent.
	ErrMissingParent = errors.New("non-root event requires a parent event")

	// ErrScoreOutOfRange indicates confidence, visibility, or risk fell outside 0..100.
	ErrScoreOutOfRange = errors.New("score must be between 0 and 100")

	// ErrInvalidHash indicates a hash failed the alphanumeric-only format check.
	ErrInvalidHash = errors.New("hash must be alphanumeric")
)
