package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrIO           = errors.New("i/o error")
	ErrArenaClosed  = errors.New("page arena is closed")
	ErrInvalidBound = errors.New("extend bound must be positive")
)
