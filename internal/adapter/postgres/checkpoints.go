package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

// GetCheckpoint returns the last successfully ingested timestamp for the
// (configuration, station) pair, or nil when the pair has never completed a
// pull. Absence and an explicitly cleared row look the same to callers.
func (s *Store) GetCheckpoint(ctx context.Context, configID int64, stationNumber string) (*time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_successful_at FROM pull_station_progress WHERE config_id = $1 AND station_number = $2`,
		configID, stationNumber).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for station %s: %w", stationNumber, err)
	}
	if ts != nil {
		utc := ts.UTC()
		ts = &utc
	}
	return ts, nil
}

// AdvanceCheckpoint upserts the pair's checkpoint to ts. Callers pass the
// newest fetched timestamp, which keeps the stored sequence monotonic.
func (s *Store) AdvanceCheckpoint(ctx context.Context, configID int64, stationNumber string, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO pull_station_progress (config_id, station_number, last_successful_at, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (config_id, station_number) DO UPDATE
SET last_successful_at = EXCLUDED.last_successful_at,
    updated_at = NOW()`, configID, stationNumber, ts.UTC())
	if err != nil {
		return fmt.Errorf("advance checkpoint for station %s: %w", stationNumber, err)
	}
	return nil
}

// ResetCheckpoint deletes the pair's checkpoint so the next pull restarts
// from the configuration's pull start date. Re-fetched history collides with
// the duplicate constraint instead of double-inserting.
func (s *Store) ResetCheckpoint(ctx context.Context, configID int64, stationNumber string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM pull_station_progress WHERE config_id = $1 AND station_number = $2`,
		configID, stationNumber)
	if err != nil {
		return fmt.Errorf("reset checkpoint for station %s: %w", stationNumber, err)
	}
	return nil
}

// ListCheckpoints returns every checkpoint recorded for a configuration,
// ordered by station number.
func (s *Store) ListCheckpoints(ctx context.Context, configID int64) ([]domain.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
SELECT config_id, station_number, last_successful_at
FROM pull_station_progress
WHERE config_id = $1
ORDER BY station_number`, configID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []domain.Checkpoint
	for rows.Next() {
		var cp domain.Checkpoint
		if err := rows.Scan(&cp.ConfigurationID, &cp.StationNumber, &cp.LastSuccessfulAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if cp.LastSuccessfulAt != nil {
			utc := cp.LastSuccessfulAt.UTC()
			cp.LastSuccessfulAt = &utc
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return checkpoints, nil
}
