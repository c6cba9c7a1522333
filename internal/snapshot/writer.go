package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"agencyos/internal/agencyerr"
	"agencyos/internal/logging"
)

const (
	currentFile  = "agency_snapshot.json"
	previousFile = "previous_snapshot.json"
	tempFile     = "agency_snapshot.json.tmp"
	historyDir   = "snapshot_history"
)

// Writer persists snapshot documents with a temp+fsync+rename protocol
// so a reader never sees a torn file and the previous snapshot survives
// a crash mid-write.
type Writer struct {
	dir         string
	historyKeep int
	logger      *zap.Logger
}

// NewWriter builds a writer rooted at dir. historyKeep bounds the
// history directory; 0 disables history.
func NewWriter(dir string, historyKeep int, logger *zap.Logger) *Writer {
	return &Writer{
		dir:         dir,
		historyKeep: historyKeep,
		logger:      logging.OrNop(logger).Named("snapshot"),
	}
}

// CurrentPath returns where readers find the latest snapshot.
func (w *Writer) CurrentPath() string { return filepath.Join(w.dir, currentFile) }

// ReadCurrent parses the snapshot on disk. Returns (nil, nil) when no
// snapshot has been written yet.
func (w *Writer) ReadCurrent() (*Document, error) {
	data, err := os.ReadFile(w.CurrentPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &doc, nil
}

// Write persists the document: temp file, fsync, demote the current
// snapshot to previous, rename the temp into place, fsync the
// directory, then append to history. Every failure classifies as a
// snapshot write error and leaves the old snapshot readable.
func (w *Writer) Write(doc *Document) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return agencyerr.SnapshotWrite("snapshot.mkdir", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return agencyerr.SnapshotWrite("snapshot.marshal", err)
	}
	data = append(data, '\n')

	tmpPath := filepath.Join(w.dir, tempFile)
	if err := writeAndSync(tmpPath, data); err != nil {
		return agencyerr.SnapshotWrite("snapshot.temp", err)
	}

	currentPath := w.CurrentPath()
	if _, err := os.Stat(currentPath); err == nil {
		if err := os.Rename(currentPath, filepath.Join(w.dir, previousFile)); err != nil {
			return agencyerr.SnapshotWrite("snapshot.demote", err)
		}
	}
	if err := os.Rename(tmpPath, currentPath); err != nil {
		return agencyerr.SnapshotWrite("snapshot.rename", err)
	}
	if err := syncDir(w.dir); err != nil {
		return agencyerr.SnapshotWrite("snapshot.syncdir", err)
	}

	if w.historyKeep > 0 {
		if err := w.appendHistory(doc.CycleNumber, data); err != nil {
			// History is best-effort; the current snapshot already landed.
			w.logger.Warn("snapshot history write failed", zap.Error(err))
		}
	}
	return nil
}

func writeAndSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// appendHistory copies the document into history/ and prunes beyond the
// retention count, oldest cycles first.
func (w *Writer) appendHistory(cycle int64, data []byte) error {
	dir := filepath.Join(w.dir, historyDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("snapshot_%d.json", cycle)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var cycles []int64
	for _, entry := range entries {
		n, ok := historyCycle(entry.Name())
		if ok {
			cycles = append(cycles, n)
		}
	}
	if len(cycles) <= w.historyKeep {
		return nil
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i] < cycles[j] })
	for _, n := range cycles[:len(cycles)-w.historyKeep] {
		if err := os.Remove(filepath.Join(dir, fmt.Sprintf("snapshot_%d.json", n))); err != nil {
			return err
		}
	}
	return nil
}

func historyCycle(name string) (int64, bool) {
	if !strings.HasPrefix(name, "snapshot_") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "snapshot_"), ".json"), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
