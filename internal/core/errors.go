package core

import "errors"

// Error codes surfaced to clients in ack frames.
const (
	ErrCodeBadFrame      = "bad_frame"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodePersistFailed = "persist_failed"
)

var (
	// ErrMissingIdentity rejects registration without both user and tab ids.
	ErrMissingIdentity = errors.New("missing user or tab identity")
	// ErrDuplicateTab rejects a second registration for the same (user, tab).
	ErrDuplicateTab = errors.New("tab already registered")
	// ErrConnTerminated is returned on writes to a reaped connection.
	ErrConnTerminated = errors.New("connection terminated")
)
