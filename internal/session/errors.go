package session

import "errors"

// Registry errors. API handlers map these onto HTTP status codes with
// errors.Is.
var (
	// ErrNotFound means the id has never been seen or the record is gone.
	ErrNotFound = errors.New("session not found")

	// ErrExpired means the id was known but its idle TTL elapsed. It is a
	// variant of not-found, kept distinct for observability.
	ErrExpired = errors.New("session expired")

	// ErrQueryInProgress rejects a second query while one is running.
	ErrQueryInProgress = errors.New("query already in progress")

	// ErrResourceUnavailable means the browsing resource factory failed.
	ErrResourceUnavailable = errors.New("browsing resources unavailable")
)
