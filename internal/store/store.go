// ABOUTME: Store interface and data types for report history persistence.
// ABOUTME: Defines the Report record and the Store interface backed by SQLite.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested report does not exist.
var ErrNotFound = errors.New("not found")

// Report is one received script report, recorded alongside the file sink
// so the console can query history after the sink files are overwritten.
type Report struct {
	ID         string
	AgentID    string
	RemoteAddr string
	Invocation string
	Body       []byte
	ReceivedAt time.Time
}

// Store persists report history.
type Store interface {
	// SaveReport records a received report. ID and ReceivedAt are filled
	// in when empty.
	SaveReport(ctx context.Context, r *Report) error

	// ListReports returns the most recent reports, newest first.
	ListReports(ctx context.Context, limit int) ([]*Report, error)

	// LatestReport returns the newest report for an agent/invocation pair,
	// or ErrNotFound.
	LatestReport(ctx context.Context, agentID, invocation string) (*Report, error)

	// Close releases the underlying database.
	Close() error
}
