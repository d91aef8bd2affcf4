package storage

import "errors"

// Common client storage errors
var (
	// ErrLayoutNotFound indicates that no window layout has been saved for the user
	ErrLayoutNotFound = errors.New("window layout not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
