package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/settings"
)

func parisLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}
	return loc
}

func loadParisDescriptor(t *testing.T) *domain.SourceDescriptor {
	t.Helper()
	catalog, err := LoadCatalog("testdata/opendata")
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	d, ok := catalog.Get("France-Paris")
	if !ok {
		t.Fatal("France-Paris descriptor not loaded")
	}
	return d
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// memStore keeps datasets as JSON so callers never share pointers with it
type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	saves   int
	deletes int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Load(_ context.Context, source string) (*domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[source]
	if !ok {
		return nil, nil
	}
	var ds domain.Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

func (s *memStore) Save(_ context.Context, ds *domain.Dataset) error {
	raw, err := json.Marshal(ds)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ds.Source] = raw
	s.saves++
	return nil
}

func (s *memStore) Delete(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, source)
	s.deletes++
	return nil
}

func (s *memStore) put(t *testing.T, ds *domain.Dataset) {
	t.Helper()
	if err := s.Save(context.Background(), ds); err != nil {
		t.Fatal(err)
	}
	s.saves = 0
}

// stubFetcher returns a copy of next on every call
type stubFetcher struct {
	next  []*domain.Roadwork
	err   error
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context, source string, _ *domain.SourceDescriptor) (*domain.Dataset, FetchStats, error) {
	f.calls++
	if f.err != nil {
		return nil, FetchStats{}, f.err
	}
	copies := make([]*domain.Roadwork, 0, len(f.next))
	for _, r := range f.next {
		c := *r
		copies = append(copies, &c)
	}
	return domain.NewDataset(source, copies, time.Now()), FetchStats{Kept: len(copies)}, nil
}

type stubSync struct {
	err   error
	calls int
}

func (s *stubSync) Synchronize(_ context.Context, _ *domain.Dataset, _ settings.SyncConfig) error {
	s.calls++
	return s.err
}

type staticSettings settings.Settings

func (s staticSettings) Snapshot() settings.Settings {
	return settings.Settings(s)
}

type memHistory struct {
	mu       sync.Mutex
	refresh  []domain.RefreshLog
	statuses []domain.StatusChange
}

func (h *memHistory) SaveRefreshLog(_ context.Context, entry domain.RefreshLog) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refresh = append(h.refresh, entry)
	return nil
}

func (h *memHistory) SaveStatusChange(_ context.Context, change domain.StatusChange) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, change)
	return nil
}

func (h *memHistory) GetRefreshHistory(_ context.Context, source string, limit int) ([]domain.RefreshLog, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.RefreshLog
	for _, e := range h.refresh {
		if e.Source == source && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *memHistory) Health(context.Context) error { return nil }
