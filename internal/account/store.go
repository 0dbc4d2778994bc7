package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fileStore is the atomic temp-write+rename persistence backend for
// accounts.json, giving crash-atomic writes without a database (see
// DESIGN.md for why this trades the sqlite3/WAL backend for a
// single-file temp+rename).
type fileStore struct {
	path string
}

func newFileStore(path string) *fileStore {
	return &fileStore{path: path}
}

// load reads accounts.json, returning an empty slice if it doesn't exist
// yet.
func (s *fileStore) load() ([]Account, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var accounts []Account
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return accounts, nil
}

// save writes accounts atomically: marshal, write to a temp file in the
// same directory, then rename over the target. A crash between the write
// and the rename leaves the original file untouched, so accounts.json is
// always readable with either its pre-write or post-write content.
func (s *fileStore) save(accounts []Account) error {
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".accounts-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file onto %s: %w", s.path, err)
	}
	return nil
}
