package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/logger"
	"github.com/smartcity/roadwork/internal/settings"
)

// StaleAfter is the age from which a cached dataset is fetched again
const StaleAfter = 24 * time.Hour

// DatasetFetcher fetches and builds the dataset of one source
type DatasetFetcher interface {
	Fetch(ctx context.Context, source string, d *domain.SourceDescriptor) (*domain.Dataset, FetchStats, error)
}

// Synchronizer reconciles a dataset with the team server
type Synchronizer interface {
	Synchronize(ctx context.Context, ds *domain.Dataset, cfg settings.SyncConfig) error
}

// SettingsSource hands out the current settings
type SettingsSource interface {
	Snapshot() settings.Settings
}

// CacheManager decides between cached and fresh data, carries user
// annotations across refreshes and keeps the cache up to date.
type CacheManager struct {
	catalog  *Catalog
	fetcher  DatasetFetcher
	store    domain.DatasetStore
	history  domain.HistoryRepository
	sync     Synchronizer
	settings SettingsSource
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	wgBg sync.WaitGroup // tracks background history writes for graceful shutdown
}

// NewCacheManager creates a new cache manager. history may be nil.
func NewCacheManager(
	catalog *Catalog,
	fetcher DatasetFetcher,
	store domain.DatasetStore,
	history domain.HistoryRepository,
	synchronizer Synchronizer,
	settingsSrc SettingsSource,
) *CacheManager {
	return &CacheManager{
		catalog:  catalog,
		fetcher:  fetcher,
		store:    store,
		history:  history,
		sync:     synchronizer,
		settings: settingsSrc,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// WaitBackground blocks until all background history writes complete.
// Call during graceful shutdown to avoid dropped writes.
func (m *CacheManager) WaitBackground() {
	m.wgBg.Wait()
}

// Catalog returns the descriptors the manager serves
func (m *CacheManager) Catalog() *Catalog {
	return m.catalog
}

// known rejects sources missing from the catalog before any lock is created
// for them.
func (m *CacheManager) known(source string) error {
	if _, ok := m.catalog.Get(source); !ok {
		return fmt.Errorf("cache: %s: %w", source, domain.ErrUnknownSource)
	}
	return nil
}

// lock serializes load, merge and persist for one source
func (m *CacheManager) lock(source string) func() {
	key := norm.NFC.String(source)
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Load returns the dataset of source: the cached one while it is fresh,
// otherwise a new fetch merged with the cached annotations. Finished
// promotion and synchronization run on every load.
func (m *CacheManager) Load(ctx context.Context, source string) (*domain.Dataset, error) {
	if err := m.known(source); err != nil {
		return nil, err
	}
	unlock := m.lock(source)
	defer unlock()
	return m.load(ctx, source)
}

// Reload drops the cached dataset and loads source again
func (m *CacheManager) Reload(ctx context.Context, source string) (*domain.Dataset, error) {
	if err := m.known(source); err != nil {
		return nil, err
	}
	unlock := m.lock(source)
	defer unlock()

	if err := m.store.Delete(ctx, source); err != nil {
		logger.Log.WithError(err).WithField("source", source).Error("unable to delete cache")
	}
	return m.load(ctx, source)
}

// UpdateStatus is the local user action on one roadwork: it sets the status,
// stamps the local update time and marks the state dirty until the next
// synchronization.
func (m *CacheManager) UpdateStatus(ctx context.Context, source, id string, status domain.Status) (*domain.Roadwork, error) {
	if err := m.known(source); err != nil {
		return nil, err
	}
	unlock := m.lock(source)
	defer unlock()

	ds := m.readCache(ctx, source)
	if ds == nil {
		var err error
		if ds, err = m.load(ctx, source); err != nil {
			return nil, err
		}
	}

	r, ok := ds.Get(id)
	if !ok {
		return nil, fmt.Errorf("cache: %s/%s: %w", source, id, domain.ErrRecordNotFound)
	}
	now := m.now()
	r.SyncData.Status = status
	r.SyncData.LocalUpdateTime = now.UnixMilli()
	r.SyncData.Dirty = true

	m.synchronize(ctx, ds)
	m.persist(ctx, ds)
	m.recordStatus(domain.StatusChange{
		Source:     source,
		RoadworkID: id,
		Status:     status,
		Timestamp:  now,
	})
	return r, nil
}

// HistoryHealth checks the history store, nil when there is none
func (m *CacheManager) HistoryHealth(ctx context.Context) error {
	if m.history == nil {
		return nil
	}
	return m.history.Health(ctx)
}

// RefreshHistory returns the latest refreshes of source
func (m *CacheManager) RefreshHistory(ctx context.Context, source string, limit int) ([]domain.RefreshLog, error) {
	if m.history == nil {
		return []domain.RefreshLog{}, nil
	}
	return m.history.GetRefreshHistory(ctx, source, limit)
}

func (m *CacheManager) load(ctx context.Context, source string) (*domain.Dataset, error) {
	d, ok := m.catalog.Get(source)
	if !ok {
		return nil, fmt.Errorf("cache: %s: %w", source, domain.ErrUnknownSource)
	}
	now := m.now()
	log := logger.Log.WithField("source", source)

	cached := m.readCache(ctx, source)
	var ds *domain.Dataset
	switch {
	case cached == nil:
		log.Info("no cached data")
		fresh, err := m.refresh(ctx, source, d)
		if err != nil {
			return nil, err
		}
		ds = fresh
	case IsStale(cached, now):
		log.Infof("cached data is %s old, refreshing", cached.Age(now).Truncate(time.Second))
		// The stale file stays until a fetch succeeds so annotations survive an outage.
		fresh, err := m.refresh(ctx, source, d)
		if err != nil {
			return nil, err
		}
		kept := Merge(fresh, cached)
		log.Debugf("%d annotations carried over", kept)
		ds = fresh
	default:
		ds = cached
	}

	if n := Promote(ds, now); n > 0 {
		log.Infof("%d roadworks promoted to %s", n, domain.StatusFinished)
	}
	m.synchronize(ctx, ds)
	m.persist(ctx, ds)
	return ds, nil
}

func (m *CacheManager) refresh(ctx context.Context, source string, d *domain.SourceDescriptor) (*domain.Dataset, error) {
	ds, stats, err := m.fetcher.Fetch(ctx, source, d)
	if err != nil {
		logger.Log.WithError(err).WithField("source", source).Error("unable to fetch open data")
		return nil, err
	}
	ds.Created = domain.EpochOf(m.now())
	m.recordRefresh(domain.RefreshLog{
		Source:    source,
		Kept:      stats.Kept,
		Dropped:   stats.Dropped,
		Duration:  stats.Duration.Milliseconds(),
		Timestamp: m.now(),
	})
	return ds, nil
}

// readCache degrades any read failure to a miss
func (m *CacheManager) readCache(ctx context.Context, source string) *domain.Dataset {
	ds, err := m.store.Load(ctx, source)
	if err != nil {
		logger.Log.WithError(err).WithField("source", source).Warn("unable to read cache")
		return nil
	}
	return ds
}

func (m *CacheManager) persist(ctx context.Context, ds *domain.Dataset) {
	if err := m.store.Save(ctx, ds); err != nil {
		logger.Log.WithError(err).WithField("source", ds.Source).Error("unable to save cache")
	}
}

func (m *CacheManager) synchronize(ctx context.Context, ds *domain.Dataset) {
	if m.sync == nil || m.settings == nil {
		return
	}
	cfg := m.settings.Snapshot().Sync()
	if !cfg.Enabled {
		return
	}
	if err := m.sync.Synchronize(ctx, ds, cfg); err != nil {
		logger.Log.WithError(err).WithField("source", ds.Source).Error("synchronization failed")
	}
}

func (m *CacheManager) recordRefresh(entry domain.RefreshLog) {
	if m.history == nil {
		return
	}
	m.wgBg.Add(1)
	go func() {
		defer m.wgBg.Done()
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.history.SaveRefreshLog(bgCtx, entry); err != nil {
			logger.Log.WithError(err).Error("failed to save refresh log")
		}
	}()
}

func (m *CacheManager) recordStatus(change domain.StatusChange) {
	if m.history == nil {
		return
	}
	m.wgBg.Add(1)
	go func() {
		defer m.wgBg.Done()
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.history.SaveStatusChange(bgCtx, change); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"source": change.Source,
				"id":     change.RoadworkID,
			}).WithError(err).Error("failed to save status change")
		}
	}()
}

// IsStale reports whether ds must be fetched again at now
func IsStale(ds *domain.Dataset, now time.Time) bool {
	return ds.Age(now) >= StaleAfter
}

// Merge copies the SyncState of every cached roadwork still present in fresh
// and clears its dirty flag. Roadworks missing from fresh are gone. It
// returns how many annotations were carried over.
func Merge(fresh, cached *domain.Dataset) int {
	if cached == nil {
		return 0
	}
	kept := 0
	for id, r := range fresh.Roadworks {
		old, ok := cached.Roadworks[id]
		if !ok {
			continue
		}
		r.SyncData.CopyFrom(old.SyncData)
		r.SyncData.Dirty = false
		kept++
	}
	return kept
}

// Promote forces the Finished status on every roadwork that ended before now
// and returns how many changed.
func Promote(ds *domain.Dataset, now time.Time) int {
	changed := 0
	for _, r := range ds.Roadworks {
		if r.IsExpired(now) && r.SyncData.Status != domain.StatusFinished {
			r.SyncData.Status = domain.StatusFinished
			changed++
		}
	}
	return changed
}
