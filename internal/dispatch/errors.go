package dispatch

import "errors"

var (
	// ErrNotFound is returned when the referenced entry, build or
	// worker does not exist.
	ErrNotFound = errors.New("dispatch: not found")

	// ErrValidation covers malformed identifiers, invalid statuses and
	// illegal transitions. Never retried.
	ErrValidation = errors.New("dispatch: validation failed")

	// ErrAlreadyResolved is returned when an entry is already terminal
	// and the duplicate call does not match the applied resolution.
	ErrAlreadyResolved = errors.New("dispatch: entry already resolved")

	// ErrConflictingAssignment is returned when another candidate
	// already holds the accepted entry for the work item.
	ErrConflictingAssignment = errors.New("dispatch: conflicting assignment")

	// ErrActiveQueueExists is returned when a build is requested while
	// the work item still has pending, notified or accepted entries.
	ErrActiveQueueExists = errors.New("dispatch: active queue exists for work item")
)
