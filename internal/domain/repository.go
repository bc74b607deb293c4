package domain

import (
	"context"
	"time"
)

// RefreshLog records one successful fetch of a source
type RefreshLog struct {
	Source    string    `json:"source"`
	Kept      int       `json:"kept"`
	Dropped   int       `json:"dropped"`
	Duration  int64     `json:"duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusChange records one local status update
type StatusChange struct {
	Source     string    `json:"source"`
	RoadworkID string    `json:"roadwork_id"`
	Status     Status    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// HistoryRepository defines the interface for refresh and status history.
// The domain defines the interface, the storage layer implements it.
type HistoryRepository interface {
	// SaveRefreshLog persists a refresh entry
	SaveRefreshLog(ctx context.Context, entry RefreshLog) error

	// SaveStatusChange persists a local status change
	SaveStatusChange(ctx context.Context, change StatusChange) error

	// GetRefreshHistory retrieves the latest refreshes of a source
	GetRefreshHistory(ctx context.Context, source string, limit int) ([]RefreshLog, error)

	// Health checks storage connectivity
	Health(ctx context.Context) error
}

// DatasetStore persists one Dataset per source.
// Load returns (nil, nil) when nothing usable is stored.
type DatasetStore interface {
	Load(ctx context.Context, source string) (*Dataset, error)
	Save(ctx context.Context, dataset *Dataset) error
	Delete(ctx context.Context, source string) error
}
