package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc(cycle int64) *Document {
	return &Document{
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(cycle) * time.Minute),
		CycleNumber: cycle,
	}
}

func TestReadCurrentMissing(t *testing.T) {
	w := NewWriter(t.TempDir(), 0, nil)
	doc, err := w.ReadCurrent()
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0, nil)

	require.NoError(t, w.Write(testDoc(1)))

	doc, err := w.ReadCurrent()
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, int64(1), doc.CycleNumber)

	// First write leaves no previous snapshot and no stray temp file.
	_, err = os.Stat(filepath.Join(dir, previousFile))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, tempFile))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteDemotesCurrentToPrevious(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0, nil)

	require.NoError(t, w.Write(testDoc(1)))
	require.NoError(t, w.Write(testDoc(2)))

	cur, err := w.ReadCurrent()
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.CycleNumber)

	prev, err := os.ReadFile(filepath.Join(dir, previousFile))
	require.NoError(t, err)
	assert.Contains(t, string(prev), `"cycle_number": 1`)
}

func TestWriteCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "snapshots")
	w := NewWriter(dir, 0, nil)
	require.NoError(t, w.Write(testDoc(1)))

	doc, err := w.ReadCurrent()
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.CycleNumber)
}

func TestHistoryRetention(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 2, nil)

	for cycle := int64(1); cycle <= 4; cycle++ {
		require.NoError(t, w.Write(testDoc(cycle)))
	}

	entries, err := os.ReadDir(filepath.Join(dir, historyDir))
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"snapshot_3.json", "snapshot_4.json"}, names)
}

func TestHistoryDisabled(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0, nil)
	require.NoError(t, w.Write(testDoc(1)))

	_, err := os.Stat(filepath.Join(dir, historyDir))
	assert.True(t, os.IsNotExist(err))
}

func TestWriterFileLayout(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 1, nil)
	require.NoError(t, w.Write(testDoc(1)))
	require.NoError(t, w.Write(testDoc(2)))

	// External tooling keys on these exact names.
	for _, name := range []string{
		"agency_snapshot.json",
		"previous_snapshot.json",
		filepath.Join("snapshot_history", "snapshot_2.json"),
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestReadCurrentRejectsTornFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, currentFile), []byte("{truncated"), 0o644))

	w := NewWriter(dir, 0, nil)
	_, err := w.ReadCurrent()
	assert.Error(t, err)
}

func TestHistoryCycleParsing(t *testing.T) {
	cases := []struct {
		name string
		want int64
		ok   bool
	}{
		{"snapshot_12.json", 12, true},
		{"snapshot_0.json", 0, true},
		{"snapshot_.json", 0, false},
		{"snapshot_x.json", 0, false},
		{"other.json", 0, false},
		{"snapshot_5.txt", 0, false},
	}
	for _, tc := range cases {
		got, ok := historyCycle(tc.name)
		if got != tc.want || ok != tc.ok {
			t.Errorf("historyCycle(%q) = (%d, %v), want (%d, %v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}
