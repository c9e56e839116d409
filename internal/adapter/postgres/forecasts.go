package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

// UpsertForecastRun stores a forecast, replacing any earlier run for the
// same (station, source, run date). Forecasts are refreshed in place;
// observations never are.
func (s *Store) UpsertForecastRun(ctx context.Context, run domain.ForecastRun) error {
	stationID, err := s.stationID(ctx, run.StationNumber)
	if err != nil {
		return err
	}

	points, err := json.Marshal(run.Points)
	if err != nil {
		return fmt.Errorf("serialize forecast points for station %s: %w", run.StationNumber, err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO forecast_runs (station_id, source, run_date, points, rmse)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (station_id, source, run_date) DO UPDATE
SET points = EXCLUDED.points,
    rmse = EXCLUDED.rmse`,
		stationID, run.Source, run.RunDate.UTC(), points, run.RMSE)
	if err != nil {
		return fmt.Errorf("upsert forecast run for station %s: %w", run.StationNumber, err)
	}
	return nil
}

// LatestForecastRun returns the newest stored forecast for a station and
// source, or nil when none exists.
func (s *Store) LatestForecastRun(ctx context.Context, stationNumber, source string) (*domain.ForecastRun, error) {
	stationID, err := s.stationID(ctx, stationNumber)
	if err != nil {
		return nil, err
	}

	var (
		run    domain.ForecastRun
		points []byte
	)
	err = s.pool.QueryRow(ctx, `
SELECT source, run_date, points, rmse
FROM forecast_runs
WHERE station_id = $1 AND source = $2
ORDER BY run_date DESC
LIMIT 1`, stationID, source).Scan(&run.Source, &run.RunDate, &points, &run.RMSE)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest forecast for station %s: %w", stationNumber, err)
	}

	if err := json.Unmarshal(points, &run.Points); err != nil {
		return nil, fmt.Errorf("decode forecast points for station %s: %w", stationNumber, err)
	}
	run.StationNumber = stationNumber
	run.RunDate = run.RunDate.UTC()
	return &run, nil
}
