package repository

import "errors"

// Sentinel kinds for event log errors.
var (
	ErrEventOpen         = errors.New("event is still open")
	ErrDuplicate         = errors.New("event already appended")
	ErrClosed            = errors.New("event log closed")
	ErrSinkUnrecoverable = errors.New("event journal unrecoverable")
)
