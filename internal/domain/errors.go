package domain

import "errors"

var (
	// ErrSubscriptionFailed is returned when subscription to events fails
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrMalformedEvent is returned when an event misses a required field.
	// The event is rejected without touching stored state.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnknownEventKind is returned when an event tag has no handler
	ErrUnknownEventKind = errors.New("unknown event kind")

	// ErrDuplicateEvent is returned when the record an event would create already exists
	ErrDuplicateEvent = errors.New("duplicate event")
)
