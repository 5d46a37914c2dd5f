// ABOUTME: Tests for the SQLite report history store.
// ABOUTME: Covers SaveReport, ListReports ordering, and LatestReport lookup.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveReport(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := &Report{
		AgentID:    "agent-1",
		RemoteAddr: "127.0.0.1:40000",
		Invocation: "echo.sh hi",
		Body:       []byte("hi\n"),
	}
	require.NoError(t, s.SaveReport(ctx, r))

	// Should have generated ID and timestamp
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.ReceivedAt.IsZero())
}

func TestListReports(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, inv := range []string{"a.sh", "b.sh", "c.sh"} {
		r := &Report{
			AgentID:    "agent-1",
			RemoteAddr: "127.0.0.1:40000",
			Invocation: inv,
			Body:       []byte(inv),
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.SaveReport(ctx, r))
	}

	reports, err := s.ListReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	// Newest first
	assert.Equal(t, "c.sh", reports[0].Invocation)
	assert.Equal(t, "a.sh", reports[2].Invocation)

	limited, err := s.ListReports(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLatestReport(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.LatestReport(ctx, "agent-1", "echo.sh hi")
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Now().UTC().Truncate(time.Second)
	for i, body := range []string{"old\n", "new\n"} {
		require.NoError(t, s.SaveReport(ctx, &Report{
			AgentID:    "agent-1",
			RemoteAddr: "127.0.0.1:40000",
			Invocation: "echo.sh hi",
			Body:       []byte(body),
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	r, err := s.LatestReport(ctx, "agent-1", "echo.sh hi")
	require.NoError(t, err)
	assert.Equal(t, []byte("new\n"), r.Body)

	// Different agent does not match
	_, err = s.LatestReport(ctx, "agent-2", "echo.sh hi")
	assert.ErrorIs(t, err, ErrNotFound)
}
