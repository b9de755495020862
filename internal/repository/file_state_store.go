package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
)

// FileStateStore keeps one JSON document per name under a directory. Writes go to a
// temp file that is synced and renamed over the target, so a crash leaves either the
// old or the new document, never a torn one.
type FileStateStore struct {
	dir string
	mu  sync.Mutex
}

var _ domrepo.StateStore = (*FileStateStore)(nil)

// NewFileStateStore creates dir if needed.
func NewFileStateStore(dir string) (*FileStateStore, error) {
	if dir == "" {
		return nil, models.NewCoreError(models.KindConfigInconsistency, "state store", "", errors.New("empty directory"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, models.NewCoreError(models.KindSerializationFailure, "state store", "", err)
	}
	return &FileStateStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *FileStateStore) Dir() string { return s.dir }

func (s *FileStateStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save atomically replaces the named document.
func (s *FileStateStore) Save(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return models.NewCoreError(models.KindSerializationFailure, "encode "+name, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return models.NewCoreError(models.KindSerializationFailure, "save "+name, "", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return models.NewCoreError(models.KindSerializationFailure, "save "+name, "", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return models.NewCoreError(models.KindSerializationFailure, "save "+name, "", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return models.NewCoreError(models.KindSerializationFailure, "save "+name, "", err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		cleanup()
		return models.NewCoreError(models.KindSerializationFailure, "save "+name, "", err)
	}
	syncDir(s.dir)
	return nil
}

// Load decodes the named document into v. A missing document is not an error.
func (s *FileStateStore) Load(name string, v any) (bool, error) {
	s.mu.Lock()
	b, err := os.ReadFile(s.path(name))
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, models.NewCoreError(models.KindSerializationFailure, "load "+name, "", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return true, models.NewCoreError(models.KindSerializationFailure, "decode "+name, "",
			fmt.Errorf("corrupt document %s: %w", s.path(name), err))
	}
	return true, nil
}

// syncDir flushes the rename on filesystems that need it. Best effort.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
