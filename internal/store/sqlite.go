// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides report history persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reports (
			id          TEXT PRIMARY KEY,
			agent_id    TEXT NOT NULL,
			remote_addr TEXT NOT NULL,
			invocation  TEXT NOT NULL,
			body        BLOB NOT NULL,
			received_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reports_agent_invocation
			ON reports(agent_id, invocation, received_at);

		CREATE INDEX IF NOT EXISTS idx_reports_received_at
			ON reports(received_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// SaveReport records one received report row.
func (s *SQLiteStore) SaveReport(ctx context.Context, r *Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, agent_id, remote_addr, invocation, body, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.AgentID, r.RemoteAddr, r.Invocation, r.Body, r.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}

	s.logger.Debug("report saved",
		"report_id", r.ID,
		"agent_id", r.AgentID,
		"invocation", r.Invocation,
		"body_bytes", len(r.Body),
	)
	return nil
}

// ListReports returns the most recent reports, newest first.
func (s *SQLiteStore) ListReports(ctx context.Context, limit int) ([]*Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, remote_addr, invocation, body, received_at
		 FROM reports ORDER BY received_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		r := &Report{}
		if err := rows.Scan(&r.ID, &r.AgentID, &r.RemoteAddr, &r.Invocation, &r.Body, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// LatestReport returns the newest report for an agent/invocation pair.
func (s *SQLiteStore) LatestReport(ctx context.Context, agentID, invocation string) (*Report, error) {
	r := &Report{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, remote_addr, invocation, body, received_at
		 FROM reports WHERE agent_id = ? AND invocation = ?
		 ORDER BY received_at DESC LIMIT 1`,
		agentID, invocation,
	).Scan(&r.ID, &r.AgentID, &r.RemoteAddr, &r.Invocation, &r.Body, &r.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest report: %w", err)
	}
	return r, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
