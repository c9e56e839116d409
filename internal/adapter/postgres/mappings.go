package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

// TranslateStation resolves a station identifier into another agency's
// identifier space, e.g. a USGS station number into a NOAA-HADS gauge id.
// A missing row is domain.ErrUnmappedStation: permanent until an operator
// loads the mapping.
func (s *Store) TranslateStation(ctx context.Context, sourceAgency, sourceID, targetAgency string) (string, error) {
	var targetID string
	err := s.pool.QueryRow(ctx, `
SELECT target_id FROM station_mappings
WHERE source_agency = $1 AND source_id = $2 AND target_agency = $3`,
		sourceAgency, sourceID, targetAgency).Scan(&targetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("station %s has no %s mapping: %w", sourceID, targetAgency, domain.ErrUnmappedStation)
	}
	if err != nil {
		return "", fmt.Errorf("look up %s mapping for station %s: %w", targetAgency, sourceID, err)
	}
	return targetID, nil
}

// UpsertStationMapping loads or refreshes one identifier translation.
// Mapping data arrives in operator-driven bulk loads, not from runs.
func (s *Store) UpsertStationMapping(ctx context.Context, sourceAgency, sourceID, targetAgency, targetID string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO station_mappings (source_agency, source_id, target_agency, target_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (source_agency, source_id, target_agency) DO UPDATE
SET target_id = EXCLUDED.target_id`,
		sourceAgency, sourceID, targetAgency, targetID)
	if err != nil {
		return fmt.Errorf("upsert mapping %s/%s -> %s: %w", sourceAgency, sourceID, targetAgency, err)
	}
	return nil
}
