package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed query history repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode: the engine writes while the API reads.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS query_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		question TEXT NOT NULL,
		status TEXT NOT NULL,
		result TEXT,
		error TEXT,
		steps INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_history_finished ON query_history(finished_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RecordQuery appends one terminal query outcome.
func (s *SQLiteStore) RecordQuery(ctx context.Context, rec *QueryRecord) error {
	var result sql.NullString
	if rec.Result != nil {
		result = sql.NullString{String: *rec.Result, Valid: true}
	}
	var errMsg sql.NullString
	if rec.Error != "" {
		errMsg = sql.NullString{String: rec.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_history (session_id, question, status, result, error, steps, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Question, rec.Status, result, errMsg,
		rec.Steps, rec.DurationMs, rec.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert query record: %w", err)
	}
	return nil
}

// RecentQueries returns the most recent outcomes, newest first.
func (s *SQLiteStore) RecentQueries(ctx context.Context, limit int) ([]*QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, question, status, result, error, steps, duration_ms, finished_at
		FROM query_history
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []*QueryRecord
	for rows.Next() {
		var rec QueryRecord
		var result, errMsg sql.NullString
		var finishedAt int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Question, &rec.Status,
			&result, &errMsg, &rec.Steps, &rec.DurationMs, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan query record: %w", err)
		}
		if result.Valid {
			rec.Result = &result.String
		}
		if errMsg.Valid {
			rec.Error = errMsg.String
		}
		rec.FinishedAt = time.Unix(finishedAt, 0).UTC()
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query records: %w", err)
	}
	return records, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
