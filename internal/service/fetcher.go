package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/logger"
	"github.com/smartcity/roadwork/pkg/httpclient"
)

// maxBodySize caps open data payloads
const maxBodySize = 64 << 20

// Fetcher retrieves the raw body published at url
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches open data over HTTP with retries and a request rate
// shared by every source.
type HTTPFetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   int
	baseDelay  time.Duration
	maxBody    int64
}

// NewHTTPFetcher creates a fetcher. A non-positive rps disables limiting.
func NewHTTPFetcher(timeout time.Duration, attempts int, rps float64) *HTTPFetcher {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &HTTPFetcher{
		httpClient: httpclient.New(timeout),
		limiter:    rate.NewLimiter(limit, 1),
		attempts:   attempts,
		baseDelay:  250 * time.Millisecond,
		maxBody:    maxBodySize,
	}
}

// Fetch GETs url. Server errors are retried, client errors are not.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := httpclient.Retry(ctx, f.attempts, f.baseDelay, func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return httpclient.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return httpclient.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			logger.Log.WithError(err).Warnf("GET %s failed", url)
			if !httpclient.IsRetriable(err) {
				return httpclient.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return httpclient.Permanent(fmt.Errorf("GET %s returned status %d", url, resp.StatusCode))
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
		if err != nil {
			return err
		}
		if int64(len(body)) > f.maxBody {
			return httpclient.Permanent(fmt.Errorf("GET %s: payload too large (over %d bytes)", url, f.maxBody))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("opendata: %v: %w", err, domain.ErrFetch)
	}
	return body, nil
}

// FixtureFetcher serves a local file whatever the URL, for offline runs and
// tests.
type FixtureFetcher struct {
	Path string
}

// Fetch reads the fixture file
func (f FixtureFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	logger.Log.Debugf("serving %s from fixture %s", url, f.Path)
	body, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("opendata: failed to read fixture: %v: %w", err, domain.ErrFetch)
	}
	return body, nil
}
