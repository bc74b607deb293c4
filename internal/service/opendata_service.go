package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/extract"
	"github.com/smartcity/roadwork/internal/logger"
)

// FetchStats counts what happened to the raw records of one fetch
type FetchStats struct {
	Kept     int
	Dropped  int
	Duration time.Duration
}

// OpenDataService fetches a source and builds its dataset
type OpenDataService struct {
	fetcher Fetcher
	now     func() time.Time
}

// NewOpenDataService creates a new open data service
func NewOpenDataService(fetcher Fetcher) *OpenDataService {
	return &OpenDataService{
		fetcher: fetcher,
		now:     time.Now,
	}
}

// BuildURL appends the static parameters to base in declaration order,
// percent-encoded.
func BuildURL(base string, params domain.QueryParams) string {
	if len(params) == 0 {
		return base
	}
	var query strings.Builder
	for i, p := range params {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(escape(p.Key))
		query.WriteByte('=')
		query.WriteString(escape(p.Value))
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + query.String()
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Fetch downloads the source and builds its dataset. Records that fail to
// build are logged and dropped; only a transport failure or a payload
// without a roadwork array fails the whole fetch.
func (s *OpenDataService) Fetch(ctx context.Context, source string, d *domain.SourceDescriptor) (*domain.Dataset, FetchStats, error) {
	started := s.now()
	target := BuildURL(d.Metadata.URL, d.Metadata.QueryParameters())
	logger.Log.WithField("source", source).Infof("fetching %s", target)

	body, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, FetchStats{}, err
	}
	ds, stats, err := s.Parse(source, d, body)
	if err != nil {
		return nil, FetchStats{}, err
	}
	stats.Duration = s.now().Sub(started)
	return ds, stats, nil
}

// Parse builds a dataset from an already fetched body
func (s *OpenDataService) Parse(source string, d *domain.SourceDescriptor, body []byte) (*domain.Dataset, FetchStats, error) {
	doc, err := extract.Parse(body)
	if err != nil {
		return nil, FetchStats{}, fmt.Errorf("opendata: %s: %v: %w", source, err, domain.ErrFetch)
	}
	elements, err := roadworkArray(doc, d.RoadworkArray)
	if err != nil {
		return nil, FetchStats{}, fmt.Errorf("opendata: %s: %v: %w", source, err, domain.ErrFetch)
	}

	builder := NewRecordBuilder(d, s.now)
	roadworks := make([]*domain.Roadwork, 0, len(elements))
	var stats FetchStats
	for i, elem := range elements {
		r, err := builder.Build(extract.NewNode(elem))
		if err != nil {
			stats.Dropped++
			entry := logger.Log.WithFields(logrus.Fields{
				"source": source,
				"index":  i,
			}).WithError(err)
			if domain.IsBuildError(err) {
				entry.Warn("roadwork skipped")
			} else {
				entry.Error("roadwork skipped on unexpected error")
			}
			continue
		}
		roadworks = append(roadworks, r)
	}
	stats.Kept = len(roadworks)

	logger.Log.WithFields(logrus.Fields{
		"source":  source,
		"kept":    stats.Kept,
		"dropped": stats.Dropped,
	}).Info("open data parsed")
	return domain.NewDataset(source, roadworks, s.now()), stats, nil
}

func roadworkArray(doc extract.Queryable, path string) ([]any, error) {
	matches, err := doc.Query(path)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("roadwork array %s: %w", path, domain.ErrPathNotFound)
	}
	arr, ok := matches[0].([]any)
	if !ok {
		return nil, fmt.Errorf("roadwork array %s is %T: %w", path, matches[0], domain.ErrTypeMismatch)
	}
	return arr, nil
}
