package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/jmylchreest/motor-proxy/internal/models"
)

var errCorruptFile = errors.New("session file is corrupt")

// FileStore keeps session records in a single JSON document keyed by id.
type FileStore struct {
	mu     sync.Mutex
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// NewFileStore returns a store writing to path on fsys.
func NewFileStore(fsys afero.Fs, path string, logger *slog.Logger) *FileStore {
	logger.Info("file session store initialized", "path", path)
	return &FileStore{fs: fsys, path: path, logger: logger}
}

func (s *FileStore) Get(_ context.Context, id string) (*models.PersistedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	rec, ok := records[id]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (s *FileStore) Set(_ context.Context, id string, session *models.PersistedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, _, err := s.readForWrite()
	if err != nil {
		return err
	}
	records[id] = session
	return s.write(records)
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, replaced, err := s.readForWrite()
	if err != nil {
		return err
	}
	if _, ok := records[id]; !ok && !replaced {
		return nil
	}
	delete(records, id)
	return s.write(records)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (map[string]*models.PersistedSession, error) {
	records := make(map[string]*models.PersistedSession)

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptFile, err)
	}
	return records, nil
}

// readForWrite is read, except that a corrupt document is discarded and
// replaced reports that the caller must write a fresh one.
func (s *FileStore) readForWrite() (records map[string]*models.PersistedSession, replaced bool, err error) {
	records, err = s.read()
	if errors.Is(err, errCorruptFile) {
		s.logger.Warn("replacing corrupt session file", "path", s.path, "error", err)
		return make(map[string]*models.PersistedSession), true, nil
	}
	return records, false, err
}

// write replaces the document via a temp file and rename.
func (s *FileStore) write(records map[string]*models.PersistedSession) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := s.fs.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	s.logger.Debug("session file written", "path", s.path, "records", len(records))
	return nil
}
