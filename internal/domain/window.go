package domain

import "time"

// Window is a half-open UTC time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// ResolveWindow computes the next fetch window for a (configuration,
// station) pair: resume from the checkpoint when one exists, otherwise fall
// back to the configuration's pull start date. The end is always "now", so
// the first pull covers the full configured history and every later pull
// covers exactly the gap since the last success.
func ResolveWindow(checkpoint *time.Time, pullStart, now time.Time) Window {
	start := pullStart
	if checkpoint != nil {
		start = *checkpoint
	}
	return Window{Start: start.UTC(), End: now.UTC()}
}

// MaxObservedAt returns the latest ObservedAt among the raw points, skipping
// zero timestamps. The boolean is false when no point qualifies. Checkpoint
// advancement uses the fetched set, not the validated one, so a window of
// rejected records is still marked caught-up.
func MaxObservedAt(raw []RawObservation) (time.Time, bool) {
	var max time.Time
	found := false
	for _, r := range raw {
		if r.ObservedAt.IsZero() {
			continue
		}
		if !found || r.ObservedAt.After(max) {
			max = r.ObservedAt
			found = true
		}
	}
	return max, found
}
