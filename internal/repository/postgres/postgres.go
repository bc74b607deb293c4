package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smartcity/roadwork/internal/domain"
)

const schema = `
	CREATE TABLE IF NOT EXISTS refresh_logs (
		id          BIGSERIAL PRIMARY KEY,
		source      TEXT        NOT NULL,
		kept        INTEGER     NOT NULL,
		dropped     INTEGER     NOT NULL,
		duration_ms BIGINT      NOT NULL,
		timestamp   TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS refresh_logs_source_ts ON refresh_logs (source, timestamp DESC);

	CREATE TABLE IF NOT EXISTS status_changes (
		id          BIGSERIAL PRIMARY KEY,
		source      TEXT        NOT NULL,
		roadwork_id TEXT        NOT NULL,
		status      TEXT        NOT NULL,
		timestamp   TIMESTAMPTZ NOT NULL
	);
`

// PostgresRepository implements domain.HistoryRepository
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the history tables when they do not exist
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	return nil
}

// SaveRefreshLog persists one refresh of a source
func (r *PostgresRepository) SaveRefreshLog(ctx context.Context, entry domain.RefreshLog) error {
	query := `
		INSERT INTO refresh_logs (source, kept, dropped, duration_ms, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.Source, entry.Kept, entry.Dropped, entry.Duration, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save refresh log: %w", err)
	}

	return nil
}

// SaveStatusChange persists one local status change
func (r *PostgresRepository) SaveStatusChange(ctx context.Context, change domain.StatusChange) error {
	query := `
		INSERT INTO status_changes (source, roadwork_id, status, timestamp)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query,
		change.Source, change.RoadworkID, change.Status.String(), change.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save status change: %w", err)
	}

	return nil
}

// GetRefreshHistory retrieves the latest refreshes of a source, newest first
func (r *PostgresRepository) GetRefreshHistory(ctx context.Context, source string, limit int) ([]domain.RefreshLog, error) {
	query := `
		SELECT source, kept, dropped, duration_ms, timestamp
		FROM refresh_logs
		WHERE source = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, source, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query refresh logs: %w", err)
	}
	defer rows.Close()

	results := []domain.RefreshLog{}
	for rows.Next() {
		var e domain.RefreshLog
		if err := rows.Scan(&e.Source, &e.Kept, &e.Dropped, &e.Duration, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan refresh log row: %w", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read refresh logs: %w", err)
	}

	return results, nil
}

// Health checks database connectivity
func (r *PostgresRepository) Health(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}
