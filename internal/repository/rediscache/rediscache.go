// Package rediscache stores datasets in Redis, for deployments where several
// server instances share one cache.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/logger"
)

// Connect opens a client and checks it answers
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to connect to %s: %w", addr, err)
	}
	logger.Log.Info("Connected to Redis")
	return client, nil
}

// Store implements domain.DatasetStore on Redis
type Store struct {
	client redis.Cmdable
}

// New creates a store on an open client
func New(client redis.Cmdable) *Store {
	return &Store{client: client}
}

// Key returns the Redis key of a source
func Key(source string) string {
	return fmt.Sprintf("roadwork:dataset:%s:v%d", source, domain.CacheVersion)
}

// Load reads the cached dataset. A missing or undecodable value is a miss.
func (s *Store) Load(ctx context.Context, source string) (*domain.Dataset, error) {
	data, err := s.client.Get(ctx, Key(source)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get %s: %v: %w", source, err, domain.ErrPersistence)
	}

	var ds domain.Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		logger.Log.WithError(err).Warnf("ignoring corrupt cache entry %s", Key(source))
		return nil, nil
	}
	return &ds, nil
}

// Save stores the dataset without expiry; staleness is decided from its
// creation time.
func (s *Store) Save(ctx context.Context, ds *domain.Dataset) error {
	data, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal %s: %v: %w", ds.Source, err, domain.ErrPersistence)
	}
	if err := s.client.Set(ctx, Key(ds.Source), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: failed to set %s: %v: %w", ds.Source, err, domain.ErrPersistence)
	}
	return nil
}

// Delete removes the cached dataset of a source
func (s *Store) Delete(ctx context.Context, source string) error {
	if err := s.client.Del(ctx, Key(source)).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete %s: %v: %w", source, err, domain.ErrPersistence)
	}
	return nil
}
