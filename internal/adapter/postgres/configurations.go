package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

const configurationColumns = `id, name, series_type, pull_start_date, is_enabled, schedule_type, schedule_cron, last_run_at`

// GetConfiguration loads one configuration with its station list. Each
// station's agency is resolved through the registry; entries missing from it
// come back with an empty agency and fail at source dispatch, not here.
func (s *Store) GetConfiguration(ctx context.Context, id int64) (domain.PullConfiguration, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+configurationColumns+` FROM pull_configurations WHERE id = $1`, id)

	cfg, err := scanConfiguration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PullConfiguration{}, domain.ErrConfigurationNotFound
	}
	if err != nil {
		return domain.PullConfiguration{}, fmt.Errorf("load configuration %d: %w", id, err)
	}

	cfg.Stations, err = s.configurationStations(ctx, id)
	if err != nil {
		return domain.PullConfiguration{}, err
	}
	return cfg, nil
}

// ListEnabledConfigurations returns every enabled configuration for
// scheduler reconciliation. Station lists are not loaded; a run re-reads its
// configuration when it fires.
func (s *Store) ListEnabledConfigurations(ctx context.Context) ([]domain.PullConfiguration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+configurationColumns+` FROM pull_configurations WHERE is_enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled configurations: %w", err)
	}
	defer rows.Close()

	var configs []domain.PullConfiguration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan configuration: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list enabled configurations: %w", err)
	}
	return configs, nil
}

// SetLastRun stamps the configuration after a sealed run.
func (s *Store) SetLastRun(ctx context.Context, id int64, ranAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pull_configurations SET last_run_at = $2 WHERE id = $1`, id, ranAt.UTC())
	if err != nil {
		return fmt.Errorf("set last run for configuration %d: %w", id, err)
	}
	return nil
}

func (s *Store) configurationStations(ctx context.Context, configID int64) ([]domain.StationRef, error) {
	rows, err := s.pool.Query(ctx, `
SELECT cs.station_number, cs.station_name, COALESCE(st.agency, '')
FROM pull_configuration_stations cs
LEFT JOIN stations st ON st.station_number = cs.station_number
WHERE cs.config_id = $1
ORDER BY cs.station_number`, configID)
	if err != nil {
		return nil, fmt.Errorf("load stations for configuration %d: %w", configID, err)
	}
	defer rows.Close()

	var stations []domain.StationRef
	for rows.Next() {
		var ref domain.StationRef
		if err := rows.Scan(&ref.Number, &ref.Name, &ref.Agency); err != nil {
			return nil, fmt.Errorf("scan configuration station: %w", err)
		}
		stations = append(stations, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load stations for configuration %d: %w", configID, err)
	}
	return stations, nil
}

func scanConfiguration(row pgx.Row) (domain.PullConfiguration, error) {
	var (
		cfg       domain.PullConfiguration
		lastRunAt *time.Time
	)
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.SeriesType, &cfg.PullStartDate,
		&cfg.IsEnabled, &cfg.ScheduleType, &cfg.ScheduleCron, &lastRunAt)
	if err != nil {
		return domain.PullConfiguration{}, err
	}
	cfg.PullStartDate = cfg.PullStartDate.UTC()
	if lastRunAt != nil {
		utc := lastRunAt.UTC()
		cfg.LastRunAt = &utc
	}
	return cfg, nil
}
