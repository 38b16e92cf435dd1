// Package store persists terminal query outcomes for post-hoc inspection.
// Sessions themselves are in-memory and ephemeral; only the history of
// finished queries is written out.
package store

import (
	"context"
	"time"
)

// QueryRecord is one terminal query outcome.
type QueryRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Question   string    `json:"question"`
	Status     string    `json:"status"`
	Result     *string   `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	Steps      int       `json:"steps"`
	DurationMs int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Repository defines the interface for persisting query history.
type Repository interface {
	// RecordQuery appends one terminal query outcome.
	RecordQuery(ctx context.Context, rec *QueryRecord) error

	// RecentQueries returns the most recent outcomes, newest first.
	RecentQueries(ctx context.Context, limit int) ([]*QueryRecord, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
