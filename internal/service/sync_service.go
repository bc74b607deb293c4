package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/logger"
	"github.com/smartcity/roadwork/internal/settings"
	"github.com/smartcity/roadwork/pkg/httpclient"
)

// SyncClient pushes local statuses to the team server and applies its answer
type SyncClient struct {
	httpClient *http.Client
}

// NewSyncClient creates a new synchronization client
func NewSyncClient(timeout time.Duration) *SyncClient {
	return &SyncClient{httpClient: httpclient.New(timeout)}
}

// Synchronize posts every SyncState of ds and replaces the local states with
// the ones the server returns. ds is left untouched on any failure.
func (c *SyncClient) Synchronize(ctx context.Context, ds *domain.Dataset, cfg settings.SyncConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.URL == "" {
		return fmt.Errorf("sync: no synchronization url: %w", domain.ErrSync)
	}

	body, err := json.Marshal(ds.SyncStates())
	if err != nil {
		return fmt.Errorf("sync: failed to marshal request: %v: %w", err, domain.ErrSync)
	}

	endpoint := fmt.Sprintf("%s/setData/%s/%s",
		strings.TrimRight(cfg.URL, "/"), url.PathEscape(cfg.Team), url.PathEscape(ds.Source))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sync: failed to create request: %v: %w", err, domain.ErrSync)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.SetBasicAuth(cfg.Login, cfg.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sync: request failed: %v: %w", err, domain.ErrSync)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sync: server returned status %d: %w", resp.StatusCode, domain.ErrSync)
	}

	var remote map[string]domain.SyncState
	if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
		return fmt.Errorf("sync: failed to decode response: %v: %w", err, domain.ErrSync)
	}

	applied := 0
	for id, state := range remote {
		if r, ok := ds.Get(id); ok {
			r.SyncData = state
			applied++
		}
	}
	logger.Log.WithField("source", ds.Source).Infof("synchronized %d/%d roadworks", applied, ds.Len())
	return nil
}
