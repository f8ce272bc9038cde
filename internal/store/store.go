// Package store persists Tether's cross-restart state as JSON documents on
// local disk. Each document is a single file under the state directory and is
// always written whole (read-modify-write); the on-disk document is the source
// of truth after a restart.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tetherlabs/tether/internal/logging"
)

const (
	registrationFile = "registration.json"
	chatFile         = "chat.json"
	pendingSyncFile  = "pending-sync.json"
)

// Store reads and writes Tether's persisted JSON documents.
// It is safe for concurrent use within a single process. It is NOT safe for
// concurrent writers across processes; last write wins.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logging.WithComponent("store"),
	}, nil
}

// DefaultDir returns the default per-user state directory.
func DefaultDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tether")
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// RegistrationPath returns the registration document path. The connector
// watches this file so an out-of-process pairing is noticed without a restart.
func (s *Store) RegistrationPath() string {
	return filepath.Join(s.dir, registrationFile)
}

// writeJSON writes v to path via a temp file and rename, so a crash mid-write
// never leaves a torn document behind.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}

// readJSON loads path into v. Returns found=false when the file does not
// exist. A document that exists but cannot be decoded is treated as absent;
// the caller re-creates state rather than crashing on a corrupt file.
func (s *Store) readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read document: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("Discarding corrupt document",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return false, nil
	}
	return true, nil
}
