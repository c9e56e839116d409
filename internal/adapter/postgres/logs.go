package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

// CreateLogEntry appends a run record in running state and returns its id.
// The entry exists before the first station is touched, so an operator
// always sees in-flight runs.
func (s *Store) CreateLogEntry(ctx context.Context, configID int64, startedAt time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO data_pull_logs (config_id, status, start_time)
VALUES ($1, $2, $3)
RETURNING id`, configID, domain.RunStatusRunning, startedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create log entry for configuration %d: %w", configID, err)
	}
	return id, nil
}

// SealLogEntry finalizes a run record. Entries are sealed exactly once and
// never edited afterwards.
func (s *Store) SealLogEntry(ctx context.Context, entryID int64, status domain.RunStatus, endedAt time.Time, recordsProcessed int, errorMessage string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE data_pull_logs
SET status = $2, end_time = $3, records_processed = $4, error_message = $5
WHERE id = $1`, entryID, status, endedAt.UTC(), recordsProcessed, errorMessage)
	if err != nil {
		return fmt.Errorf("seal log entry %d: %w", entryID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("seal log entry %d: entry not found", entryID)
	}
	return nil
}

// RecentLogEntries returns the latest run records for a configuration,
// newest first.
func (s *Store) RecentLogEntries(ctx context.Context, configID int64, limit int) ([]domain.ExecutionLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, config_id, status, start_time, end_time, records_processed, error_message
FROM data_pull_logs
WHERE config_id = $1
ORDER BY start_time DESC
LIMIT $2`, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("list log entries for configuration %d: %w", configID, err)
	}
	defer rows.Close()

	var entries []domain.ExecutionLogEntry
	for rows.Next() {
		var e domain.ExecutionLogEntry
		if err := rows.Scan(&e.ID, &e.ConfigurationID, &e.Status, &e.StartTime, &e.EndTime, &e.RecordsProcessed, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.StartTime = e.StartTime.UTC()
		if e.EndTime != nil {
			utc := e.EndTime.UTC()
			e.EndTime = &utc
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list log entries for configuration %d: %w", configID, err)
	}
	return entries, nil
}

// DeleteLogsBefore removes sealed entries whose run started before the
// cutoff and returns the number removed. Entries still marked running are
// kept regardless of age so stale runs stay visible.
func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM data_pull_logs WHERE start_time < $1 AND status <> $2`,
		cutoff.UTC(), domain.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("delete log entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
