// Package settings owns the user settings file and hands out immutable
// snapshots of it.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/logger"
)

// DefaultSource is the active source when nothing was chosen yet
const DefaultSource = "France-Paris"

// Settings mirrors the settings file
type Settings struct {
	OpendataService         string         `json:"opendataService"`
	SynchronizationURL      string         `json:"synchronizationUrl"`
	SynchronizationTeam     string         `json:"synchronizationTeam"`
	SynchronizationEnabled  bool           `json:"synchronizationEnabled"`
	SynchronizationLogin    string         `json:"synchronizationLogin"`
	SynchronizationPassword string         `json:"synchronizationPassword"`
	HideExpired             bool           `json:"hide_expired"`
	MapCenter               *domain.LatLng `json:"mapCenter,omitempty"`
	MapZoom                 *float64       `json:"mapZoom,omitempty"`
}

// SyncConfig is the narrow view the synchronization client needs
type SyncConfig struct {
	Enabled  bool
	URL      string
	Team     string
	Login    string
	Password string
}

// Default returns the settings used when no file exists
func Default() Settings {
	return Settings{OpendataService: DefaultSource}
}

// Sync extracts the synchronization configuration
func (s Settings) Sync() SyncConfig {
	return SyncConfig{
		Enabled:  s.SynchronizationEnabled,
		URL:      s.SynchronizationURL,
		Team:     s.SynchronizationTeam,
		Login:    s.SynchronizationLogin,
		Password: s.SynchronizationPassword,
	}
}

// Load reads the settings file. A missing or unreadable file yields defaults.
func Load(path string) Settings {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Log.WithError(err).Warnf("unable to read settings %s", path)
		}
		return Default()
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		logger.Log.WithError(err).Warnf("invalid settings %s, using defaults", path)
		return Default()
	}
	if s.OpendataService == "" {
		s.OpendataService = DefaultSource
	}
	return s
}

// Save writes the settings file, creating its folder
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("settings: failed to create folder: %w", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: failed to marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("settings: failed to write %s: %w", path, err)
	}
	return nil
}

// Store is the single owner of the current settings. Readers get a copy that
// never changes under them; writers go through Update.
type Store struct {
	path    string
	current atomic.Pointer[Settings]
	writeMu sync.Mutex
}

// NewStore loads path and publishes it as the first snapshot
func NewStore(path string) *Store {
	s := &Store{path: path}
	loaded := Load(path)
	s.current.Store(&loaded)
	return s
}

// Snapshot returns the current settings by value
func (s *Store) Snapshot() Settings {
	return *s.current.Load()
}

// Update applies fn to a copy of the current settings, saves it and
// publishes it. Nothing is published when saving fails.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := *s.current.Load()
	fn(&next)
	if next.OpendataService == "" {
		next.OpendataService = DefaultSource
	}
	if s.path != "" {
		if err := Save(s.path, next); err != nil {
			return s.Snapshot(), err
		}
	}
	s.current.Store(&next)
	return next, nil
}
