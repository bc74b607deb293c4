// Package filecache stores one dataset per source as a pretty-printed JSON
// file named after the source and the cache version.
package filecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/logger"
)

// Store implements domain.DatasetStore on the local file system
type Store struct {
	dir string
}

// New creates a store rooted at dir
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the cache file of a source
func (s *Store) Path(source string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.%d.json", source, domain.CacheVersion))
}

// Load reads the cached dataset. A missing or corrupt file is a miss.
func (s *Store) Load(_ context.Context, source string) (*domain.Dataset, error) {
	path := s.Path(source)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: failed to read %s: %v: %w", path, err, domain.ErrPersistence)
	}

	var ds domain.Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		logger.Log.WithError(err).Warnf("ignoring corrupt cache %s", path)
		return nil, nil
	}
	return &ds, nil
}

// Save writes the dataset through a temporary file so readers never see a
// partial cache.
func (s *Store) Save(_ context.Context, ds *domain.Dataset) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("cache: failed to create %s: %v: %w", s.dir, err, domain.ErrPersistence)
	}
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: failed to marshal %s: %v: %w", ds.Source, err, domain.ErrPersistence)
	}

	path := s.Path(ds.Source)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cache: failed to write %s: %v: %w", tmp, err, domain.ErrPersistence)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cache: failed to replace %s: %v: %w", path, err, domain.ErrPersistence)
	}
	logger.Log.Debugf("saved %d roadworks to %s", ds.Len(), path)
	return nil
}

// Delete removes the cache file of a source
func (s *Store) Delete(_ context.Context, source string) error {
	err := os.Remove(s.Path(source))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cache: failed to delete %s: %v: %w", source, err, domain.ErrPersistence)
	}
	return nil
}
