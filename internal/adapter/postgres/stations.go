package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

// UpsertStation registers or refreshes a registry entry, keyed by station
// number, and returns its id.
func (s *Store) UpsertStation(ctx context.Context, st domain.Station) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO stations (station_number, name, agency, is_active)
VALUES ($1, $2, $3, $4)
ON CONFLICT (station_number) DO UPDATE
SET name = EXCLUDED.name,
    agency = EXCLUDED.agency,
    is_active = EXCLUDED.is_active
RETURNING id`, st.Number, st.Name, st.Agency, st.IsActive).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert station %s: %w", st.Number, err)
	}
	return id, nil
}

// GetStation loads a registry entry by station number.
func (s *Store) GetStation(ctx context.Context, stationNumber string) (domain.Station, error) {
	var st domain.Station
	err := s.pool.QueryRow(ctx, `
SELECT id, station_number, name, agency, is_active
FROM stations
WHERE station_number = $1`, stationNumber).
		Scan(&st.ID, &st.Number, &st.Name, &st.Agency, &st.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Station{}, fmt.Errorf("station %s: %w", stationNumber, domain.ErrStationNotFound)
	}
	if err != nil {
		return domain.Station{}, fmt.Errorf("load station %s: %w", stationNumber, err)
	}
	return st, nil
}
