package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyos/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agency.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "agency.db")

	s, err := Open(path, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.UpsertClient(ctx, &domain.Client{
		ID: "c1", Name: "Acme", Status: domain.ClientActive,
	}, t0))
	require.NoError(t, s.Close())

	// Schema init and migrations are idempotent across reopens.
	s2, err := Open(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	c, err := s2.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", c.Name)
}

func TestBackup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertClient(ctx, &domain.Client{
		ID: "c1", Name: "Acme", Status: domain.ClientActive,
	}, t0))

	dst := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, s.Backup(ctx, dst))

	copied, err := Open(dst, nil)
	require.NoError(t, err)
	defer copied.Close()

	c, err := copied.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", c.Name)

	// A second backup to the same path must not clobber the copy.
	assert.Error(t, s.Backup(ctx, dst))
}

func TestTimestampRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 4, 15, 23, 59, 59, 123456789, time.UTC)
	require.NoError(t, s.UpsertTask(ctx, &domain.Task{
		ID: "gtask_1", Source: domain.SourceGTasks, SourceID: "1",
		Title: "Ship it", Status: domain.TaskOpen, DueDate: &due,
	}, t0))

	got, err := s.GetTask(ctx, "gtask_1")
	require.NoError(t, err)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(due), "due date %v != %v", got.DueDate, due)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetClient(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTask(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAction(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetQueueItem(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
