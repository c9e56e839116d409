package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

const insertObservationSQL = `
INSERT INTO discharge_observations (station_id, observed_at, discharge, unit, series_type, quality_code)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (station_id, observed_at, series_type) DO NOTHING`

// InsertObservations bulk-inserts validated observations for one station in
// a single batch round-trip. Rows colliding with an already-stored
// (station, observed_at, series_type) reading are skipped, never
// overwritten; only genuinely new rows count toward the result.
func (s *Store) InsertObservations(ctx context.Context, stationNumber string, obs []domain.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	stationID, err := s.stationID(ctx, stationNumber)
	if err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(insertObservationSQL,
			stationID, o.ObservedAt.UTC(), o.Value, o.Unit, o.SeriesType, o.QualityCode)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	inserted := 0
	for range obs {
		tag, err := res.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert observation for station %s: %w", stationNumber, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// CountObservations returns the number of stored observations for a station
// and series, for operator tooling and tests.
func (s *Store) CountObservations(ctx context.Context, stationNumber string, series domain.SeriesType) (int, error) {
	stationID, err := s.stationID(ctx, stationNumber)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM discharge_observations WHERE station_id = $1 AND series_type = $2`,
		stationID, series).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count observations for station %s: %w", stationNumber, err)
	}
	return n, nil
}

// LatestObservation returns the newest stored reading for a station and
// series, or nil when none exists.
func (s *Store) LatestObservation(ctx context.Context, stationNumber string, series domain.SeriesType) (*domain.Observation, error) {
	stationID, err := s.stationID(ctx, stationNumber)
	if err != nil {
		return nil, err
	}

	var (
		o          domain.Observation
		observedAt time.Time
	)
	err = s.pool.QueryRow(ctx, `
SELECT observed_at, discharge, unit, series_type, quality_code
FROM discharge_observations
WHERE station_id = $1 AND series_type = $2
ORDER BY observed_at DESC
LIMIT 1`, stationID, series).Scan(&observedAt, &o.Value, &o.Unit, &o.SeriesType, &o.QualityCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest observation for station %s: %w", stationNumber, err)
	}
	o.ObservedAt = observedAt.UTC()
	return &o, nil
}
