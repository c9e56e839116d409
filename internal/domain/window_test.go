package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWindow(t *testing.T) {
	pullStart := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first pull starts at the configured floor", func(t *testing.T) {
		w := ResolveWindow(nil, pullStart, now)

		assert.Equal(t, pullStart, w.Start)
		assert.Equal(t, now, w.End)
	})

	t.Run("later pulls resume from the checkpoint", func(t *testing.T) {
		checkpoint := time.Date(2024, 4, 30, 18, 45, 0, 0, time.UTC)

		w := ResolveWindow(&checkpoint, pullStart, now)

		assert.Equal(t, checkpoint, w.Start)
		assert.Equal(t, now, w.End)
	})

	t.Run("a deleted checkpoint falls back to the floor", func(t *testing.T) {
		// Resetting progress is how an operator forces a full re-pull; the
		// unique constraint downstream absorbs everything already stored.
		w := ResolveWindow(nil, pullStart, now)

		assert.Equal(t, pullStart, w.Start)
	})

	t.Run("normalizes both ends to UTC", func(t *testing.T) {
		eastern := time.FixedZone("EST", -5*60*60)
		localStart := time.Date(2020, 1, 1, 0, 0, 0, 0, eastern)
		localNow := time.Date(2024, 5, 1, 7, 0, 0, 0, eastern)

		w := ResolveWindow(nil, localStart, localNow)

		assert.Equal(t, time.UTC, w.Start.Location())
		assert.Equal(t, time.UTC, w.End.Location())
		assert.Equal(t, time.Date(2020, 1, 1, 5, 0, 0, 0, time.UTC), w.Start)
		assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), w.End)
	})
}

func TestMaxObservedAt(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("latest timestamp wins regardless of order", func(t *testing.T) {
		raw := []RawObservation{
			{ObservedAt: base.Add(2 * time.Hour)},
			{ObservedAt: base.Add(6 * time.Hour)},
			{ObservedAt: base.Add(4 * time.Hour)},
		}

		maxTS, ok := MaxObservedAt(raw)

		require.True(t, ok)
		assert.Equal(t, base.Add(6*time.Hour), maxTS)
	})

	t.Run("zero timestamps are ignored", func(t *testing.T) {
		raw := []RawObservation{
			{},
			{ObservedAt: base},
			{},
		}

		maxTS, ok := MaxObservedAt(raw)

		require.True(t, ok)
		assert.Equal(t, base, maxTS)
	})

	t.Run("no qualifying points", func(t *testing.T) {
		_, ok := MaxObservedAt([]RawObservation{{}, {}})
		assert.False(t, ok)

		_, ok = MaxObservedAt(nil)
		assert.False(t, ok)
	})
}
