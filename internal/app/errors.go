package service

import "errors"

// Sentinel errors for session lifecycle operations.
var (
	ErrAlreadyRunning = errors.New("session already running")
	ErrNotRunning     = errors.New("no session running")
	ErrNoSession      = errors.New("no session recorded")
)
