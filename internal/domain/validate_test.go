package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestValidateObservations(t *testing.T) {
	observedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("passes clean observations through in order", func(t *testing.T) {
		raw := []RawObservation{
			{ObservedAt: observedAt, Value: ptr(120.5), Unit: UnitCFS, SeriesType: SeriesRealtimeSubdaily, QualityCode: "A"},
			{ObservedAt: observedAt.Add(15 * time.Minute), Value: ptr(118.0), Unit: UnitCFS, SeriesType: SeriesRealtimeSubdaily},
		}

		valid, dropped := ValidateObservations(raw)

		require.Len(t, valid, 2)
		assert.Zero(t, dropped)
		assert.Equal(t, 120.5, valid[0].Value)
		assert.Equal(t, observedAt, valid[0].ObservedAt)
		assert.Equal(t, UnitCFS, valid[0].Unit)
		assert.Equal(t, "A", valid[0].QualityCode)
		assert.True(t, valid[1].ObservedAt.After(valid[0].ObservedAt))
	})

	t.Run("normalizes timestamps to UTC", func(t *testing.T) {
		central := time.FixedZone("CST", -6*60*60)
		raw := []RawObservation{
			{ObservedAt: time.Date(2024, 5, 1, 6, 0, 0, 0, central), Value: ptr(1.0), Unit: UnitCFS, SeriesType: SeriesDailyMean},
		}

		valid, _ := ValidateObservations(raw)

		require.Len(t, valid, 1)
		assert.Equal(t, time.UTC, valid[0].ObservedAt.Location())
		assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), valid[0].ObservedAt)
	})

	t.Run("drops records with missing fields", func(t *testing.T) {
		raw := []RawObservation{
			{Value: ptr(1.0), Unit: UnitCFS, SeriesType: SeriesDailyMean},                            // zero timestamp
			{ObservedAt: observedAt, Unit: UnitCFS, SeriesType: SeriesDailyMean},                     // nil value
			{ObservedAt: observedAt, Value: ptr(1.0), SeriesType: SeriesDailyMean},                   // no unit
			{ObservedAt: observedAt, Value: ptr(1.0), Unit: UnitCFS},                                 // no series
			{ObservedAt: observedAt, Value: ptr(1.0), Unit: UnitCFS, SeriesType: SeriesDailyMean},    // clean
		}

		valid, dropped := ValidateObservations(raw)

		assert.Len(t, valid, 1)
		assert.Equal(t, 4, dropped)
	})

	t.Run("rejects negative discharge", func(t *testing.T) {
		raw := []RawObservation{
			{ObservedAt: observedAt, Value: ptr(-3.0), Unit: UnitCMS, SeriesType: SeriesDailyMean},
		}

		valid, dropped := ValidateObservations(raw)

		assert.Empty(t, valid)
		assert.Equal(t, 1, dropped)
	})

	t.Run("rejects implausibly large discharge", func(t *testing.T) {
		raw := []RawObservation{
			{ObservedAt: observedAt, Value: ptr(1_000_001), Unit: UnitCFS, SeriesType: SeriesDailyMean},
			{ObservedAt: observedAt, Value: ptr(1_000_000), Unit: UnitCFS, SeriesType: SeriesDailyMean},
		}

		valid, dropped := ValidateObservations(raw)

		require.Len(t, valid, 1, "the ceiling itself is still plausible")
		assert.Equal(t, 1, dropped)
		assert.Equal(t, float64(1_000_000), valid[0].Value)
	})

	t.Run("keeps zero discharge", func(t *testing.T) {
		// Dry streambeds legitimately report zero flow.
		raw := []RawObservation{
			{ObservedAt: observedAt, Value: ptr(0), Unit: UnitCFS, SeriesType: SeriesDailyMean},
		}

		valid, dropped := ValidateObservations(raw)

		require.Len(t, valid, 1)
		assert.Zero(t, dropped)
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		valid, dropped := ValidateObservations(nil)

		assert.NotNil(t, valid)
		assert.Empty(t, valid)
		assert.Zero(t, dropped)
	})
}
