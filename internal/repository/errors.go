package repository

import "errors"

var (
	// ErrNotFound is returned when the target row vanished between load and write.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when the target is already linked elsewhere.
	ErrConflict = errors.New("already linked")
)
