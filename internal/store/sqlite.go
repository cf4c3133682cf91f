package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	maxRetries     = 3
	retryBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL keeps readers (history, health) off the writer's lock.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_length INTEGER NOT NULL,
		response_length INTEGER NOT NULL,
		event_count INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordExchange stores one completed request. Missing ids and timestamps are filled in.
func (s *SQLiteStore) RecordExchange(ctx context.Context, ex *domain.Exchange) error {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO exchanges (
		id, session_id, model, prompt_length, response_length,
		event_count, duration_ms, failed, error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var errMsg interface{}
	if ex.ErrorMessage != "" {
		errMsg = ex.ErrorMessage
	}

	return withRetry(ctx, "record exchange", func() error {
		_, err := s.db.ExecContext(ctx, query,
			ex.ID, ex.SessionID, string(ex.Model), ex.PromptLength, ex.ResponseLength,
			ex.EventCount, ex.Duration.Milliseconds(), ex.Failed, errMsg, ex.CreatedAt.UnixMilli(),
		)
		return err
	})
}

// RecentExchanges returns up to limit exchanges for a session, newest first.
func (s *SQLiteStore) RecentExchanges(ctx context.Context, sessionID string, limit int) ([]*domain.Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, model, prompt_length, response_length,
		       event_count, duration_ms, failed, error, created_at
		FROM exchanges WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close exchange rows", "error", closeErr)
		}
	}()

	var exchanges []*domain.Exchange
	for rows.Next() {
		var ex domain.Exchange
		var model string
		var errMsg sql.NullString
		var durationMS, createdAt int64

		if err := rows.Scan(
			&ex.ID, &ex.SessionID, &model, &ex.PromptLength, &ex.ResponseLength,
			&ex.EventCount, &durationMS, &ex.Failed, &errMsg, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan exchange row: %w", err)
		}

		ex.Model = domain.ModelTier(model)
		ex.ErrorMessage = errMsg.String
		ex.Duration = time.Duration(durationMS) * time.Millisecond
		ex.CreatedAt = time.UnixMilli(createdAt)
		exchanges = append(exchanges, &ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchanges: %w", err)
	}

	return exchanges, nil
}

// PruneExchanges removes exchanges created before cutoff.
func (s *SQLiteStore) PruneExchanges(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := withRetry(ctx, "prune exchanges", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM exchanges WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		removed, err = result.RowsAffected()
		return err
	})
	return removed, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying SQLITE_BUSY and "database is locked" failures
// with exponential backoff: 100ms, 200ms.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := retryBaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ Repository = (*SQLiteStore)(nil)
