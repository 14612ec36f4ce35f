package store

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentUpdate is returned when a ticket was saved by someone else
	// since it was loaded.
	ErrConcurrentUpdate = errors.New("concurrent update")

	// ErrCheckpointConflict is returned when a second Active checkpoint for the
	// same (ticket, graph) could not be avoided.
	ErrCheckpointConflict = errors.New("active checkpoint conflict")

	// ErrDuplicateKey is returned when a unique key (e.g. tenant + ticket key) already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)
