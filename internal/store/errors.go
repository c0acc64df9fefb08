package store

import "errors"

var (
	// ErrNotFound is returned when a referenced feed or item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyFetching is returned when a fetch cycle attempts to claim a
	// feed that another cycle is currently working on.
	ErrAlreadyFetching = errors.New("feed is already being fetched")
)
