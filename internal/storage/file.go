package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"
)

// Default snapshot file names.
const (
	DefaultCurrentFile = "current_transactions.json"
	DefaultHistoryFile = "all_transactions.json"
)

// FileStore keeps each view in its own JSON file.
type FileStore struct {
	currentPath string
	historyPath string
}

// NewFileStore stores the views under dir. Empty file names fall back to the
// defaults.
func NewFileStore(dir, currentFile, historyFile string) *FileStore {
	if currentFile == "" {
		currentFile = DefaultCurrentFile
	}
	if historyFile == "" {
		historyFile = DefaultHistoryFile
	}
	return &FileStore{
		currentPath: filepath.Join(dir, currentFile),
		historyPath: filepath.Join(dir, historyFile),
	}
}

// Paths returns the current and history file paths.
func (s *FileStore) Paths() (current, history string) {
	return s.currentPath, s.historyPath
}

// Load reads both files. A missing file is an empty view; a malformed one is
// reported without preventing the other file from loading.
func (s *FileStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	snap := ledger.NewSnapshot()
	var errs []error

	var current map[string][]core.CurrentRecord
	if err := readJSON(s.currentPath, &current); err != nil {
		errs = append(errs, err)
	} else {
		snap.Current = currentMaps(current)
	}

	var history map[string][]core.HistoricalRecord
	if err := readJSON(s.historyPath, &history); err != nil {
		errs = append(errs, err)
	} else if history != nil {
		snap.History = history
	}

	log.FromContext(ctx).WithComponent(log.ComponentStorage).DebugContext(ctx, "Snapshot files read",
		log.FieldOperation, log.OpLoad,
		"current_path", s.currentPath,
		"history_path", s.historyPath,
		"failed", len(errs))

	return snap, errors.Join(errs...)
}

// Save writes both files concurrently, each through a temp file and rename.
func (s *FileStore) Save(ctx context.Context, snap ledger.Snapshot) error {
	var g errgroup.Group
	g.Go(func() error { return writeJSON(s.currentPath, currentLists(snap)) })
	g.Go(func() error { return writeJSON(s.historyPath, snap.History) })
	if err := g.Wait(); err != nil {
		return err
	}

	log.FromContext(ctx).WithComponent(log.ComponentStorage).DebugContext(ctx, "Snapshot files written",
		log.FieldOperation, log.OpFlush,
		"current_path", s.currentPath,
		"history_path", s.historyPath)
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
