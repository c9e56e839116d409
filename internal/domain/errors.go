package domain

import "errors"

// Sentinel errors shared across adapters and the pull executor. Tested with
// errors.Is; everything else is wrapped context.
var (
	// ErrConfigurationNotFound: the configuration id does not exist. The
	// executor treats it (like a disabled configuration) as a no-op.
	ErrConfigurationNotFound = errors.New("pull configuration not found")

	// ErrStationNotFound: an observation batch referenced a station number
	// absent from the station registry. Fails that station, not the batch.
	ErrStationNotFound = errors.New("station not registered")

	// ErrUnmappedStation: no identifier translation exists for the target
	// agency. Permanent: never retried; the station is skipped.
	ErrUnmappedStation = errors.New("no station mapping for target agency")
)
