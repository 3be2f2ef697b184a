package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidRecord is returned when a stored record cannot be decoded into
// a user, e.g. its status is outside the lifecycle.
var ErrInvalidRecord = errors.New("invalid record")
