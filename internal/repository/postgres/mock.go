package postgres

import (
	"context"
	"sort"
	"sync"

	"github.com/smartcity/roadwork/internal/domain"
)

// MockRepository implements domain.HistoryRepository in memory for runs
// without a database
type MockRepository struct {
	mu       sync.Mutex
	refresh  []domain.RefreshLog
	statuses []domain.StatusChange
}

// NewMockRepository creates a new mock repository
func NewMockRepository() *MockRepository {
	return &MockRepository{}
}

// SaveRefreshLog keeps the entry in memory
func (r *MockRepository) SaveRefreshLog(ctx context.Context, entry domain.RefreshLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh = append(r.refresh, entry)
	return nil
}

// SaveStatusChange keeps the change in memory
func (r *MockRepository) SaveStatusChange(ctx context.Context, change domain.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, change)
	return nil
}

// GetRefreshHistory returns the latest refreshes of a source, newest first
func (r *MockRepository) GetRefreshHistory(ctx context.Context, source string, limit int) ([]domain.RefreshLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := []domain.RefreshLog{}
	for _, e := range r.refresh {
		if e.Source == source {
			results = append(results, e)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// StatusChanges returns every recorded status change
func (r *MockRepository) StatusChanges() []domain.StatusChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StatusChange(nil), r.statuses...)
}

// Health always returns nil in mock mode
func (r *MockRepository) Health(ctx context.Context) error {
	return nil
}
