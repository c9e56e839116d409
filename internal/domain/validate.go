package domain

// maxDischarge bounds plausible discharge readings; values above it are
// rejected as sensor or transcription garbage.
const maxDischarge = 1_000_000

// ValidateObservations filters raw points into canonical observations,
// preserving input order. It is a pure function with no failure mode:
// invalid records are dropped and counted, never raised. Rules, in order:
// every field of {timestamp, value, unit, series type} must be present;
// the value must lie in [0, maxDischarge]; unit and series type pass
// through as received.
func ValidateObservations(raw []RawObservation) ([]Observation, int) {
	valid := make([]Observation, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		if r.ObservedAt.IsZero() || r.Value == nil || r.Unit == "" || r.SeriesType == "" {
			dropped++
			continue
		}
		v := *r.Value
		if v < 0 || v > maxDischarge {
			dropped++
			continue
		}
		valid = append(valid, Observation{
			ObservedAt:  r.ObservedAt.UTC(),
			Value:       v,
			Unit:        r.Unit,
			SeriesType:  r.SeriesType,
			QualityCode: r.QualityCode,
		})
	}
	return valid, dropped
}
