// Package postgres persists everything the pull service owns: observations,
// checkpoints, configurations, execution logs, station mappings, and
// forecast runs. Uniqueness guarantees live here as storage constraints, not
// as application-side locks, so concurrent runs against the same station
// stay idempotent.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

//go:embed schema.sql
var schema string

// Store wraps a pgx connection pool with the service's database operations.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a Store to the database and verifies the connection with a
// ping, so wiring mistakes surface at startup instead of on the first run.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CheckReadiness reports whether the database is reachable.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ApplySchema creates the service's tables when absent. The service never
// migrates on its own; this is for operators and the integration harness.
func (s *Store) ApplySchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// stationID resolves a station number through the registry.
func (s *Store) stationID(ctx context.Context, stationNumber string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM stations WHERE station_number = $1`,
		stationNumber).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("station %s: %w", stationNumber, domain.ErrStationNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("look up station %s: %w", stationNumber, err)
	}
	return id, nil
}
