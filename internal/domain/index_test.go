package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peak(n int, ft float64) PeakRecord {
	return PeakRecord{Time: at(n), Ft: ft}
}

func TestMerge(t *testing.T) {
	t.Run("empty incoming preserves existing", func(t *testing.T) {
		existing := Index{
			GeneratedAt: at(100),
			Site:        "01412150",
			ThresholdFt: 4.19,
			Peaks:       []PeakRecord{peak(0, 4.5), peak(10, 4.3)},
		}

		merged := Merge(existing, nil)

		assert.Equal(t, existing, merged)
	})

	t.Run("insert new and replace with larger", func(t *testing.T) {
		existing := Index{Peaks: []PeakRecord{peak(0, 4.2)}}
		incoming := []PeakRecord{peak(0, 4.5), peak(5, 4.3)}

		merged := Merge(existing, incoming)

		assert.Equal(t, []PeakRecord{peak(0, 4.5), peak(5, 4.3)}, merged.Peaks)
	})

	t.Run("smaller incoming value never regresses the record", func(t *testing.T) {
		existing := Index{Peaks: []PeakRecord{peak(0, 4.8)}}

		merged := Merge(existing, []PeakRecord{peak(0, 4.4)})

		assert.Equal(t, []PeakRecord{peak(0, 4.8)}, merged.Peaks)
	})

	t.Run("idempotent", func(t *testing.T) {
		existing := Index{Peaks: []PeakRecord{peak(0, 4.2), peak(20, 5.1)}}
		incoming := []PeakRecord{peak(0, 4.6), peak(10, 4.3), peak(30, 4.25)}

		once := Merge(existing, incoming)
		twice := Merge(once, incoming)
		folded := Merge(existing, once.Peaks)

		assert.Equal(t, once, twice)
		assert.Equal(t, once, folded)
	})

	t.Run("result is ascending regardless of input order", func(t *testing.T) {
		// A legacy index written by the retired descending-order builder.
		existing := Index{Peaks: []PeakRecord{peak(30, 4.4), peak(20, 4.9), peak(0, 4.3)}}

		merged := Merge(existing, []PeakRecord{peak(10, 5.0)})

		assert.Equal(t, []PeakRecord{peak(0, 4.3), peak(10, 5.0), peak(20, 4.9), peak(30, 4.4)}, merged.Peaks)
		assert.NoError(t, merged.Validate())
	})

	t.Run("duplicates inside existing collapse to the max", func(t *testing.T) {
		existing := Index{Peaks: []PeakRecord{peak(0, 4.3), peak(0, 4.7), peak(0, 4.5)}}

		merged := Merge(existing, nil)

		assert.Equal(t, []PeakRecord{peak(0, 4.7)}, merged.Peaks)
	})

	t.Run("merged value is the max of both inputs", func(t *testing.T) {
		existing := Index{Peaks: []PeakRecord{peak(0, 4.2), peak(10, 5.5)}}
		incoming := []PeakRecord{peak(0, 4.9), peak(10, 4.6)}

		merged := Merge(existing, incoming)

		require.Len(t, merged.Peaks, 2)
		assert.Equal(t, 4.9, merged.Peaks[0].Ft)
		assert.Equal(t, 5.5, merged.Peaks[1].Ft)
	})

	t.Run("metadata passes through untouched", func(t *testing.T) {
		existing := Index{GeneratedAt: at(50), Site: "01412150", ThresholdFt: 4.19}

		merged := Merge(existing, []PeakRecord{peak(0, 4.4)})

		assert.Equal(t, at(50), merged.GeneratedAt)
		assert.Equal(t, "01412150", merged.Site)
		assert.Equal(t, 4.19, merged.ThresholdFt)
	})
}

func TestDiff(t *testing.T) {
	before := Index{Peaks: []PeakRecord{peak(0, 4.2), peak(10, 4.8)}}
	after := Merge(before, []PeakRecord{peak(0, 4.6), peak(10, 4.5), peak(20, 4.3)})

	changed := Diff(before, after)

	// peak(0) was raised, peak(20) is new; peak(10) kept its old value.
	assert.Equal(t, []PeakRecord{peak(0, 4.6), peak(20, 4.3)}, changed)

	assert.Empty(t, Diff(after, after))
	assert.Empty(t, Diff(after, before), "regressions are not deltas")
}

func TestIndexLatest(t *testing.T) {
	t.Run("empty index has no latest", func(t *testing.T) {
		_, ok := Index{}.Latest()
		assert.False(t, ok)
	})

	t.Run("finds the anchor in a descending legacy index", func(t *testing.T) {
		idx := Index{Peaks: []PeakRecord{peak(30, 4.4), peak(50, 4.6), peak(0, 4.2)}}

		latest, ok := idx.Latest()
		require.True(t, ok)
		assert.Equal(t, peak(50, 4.6), latest)
	})
}

func TestIndexValidate(t *testing.T) {
	t.Run("canonical index passes", func(t *testing.T) {
		idx := Index{Peaks: []PeakRecord{peak(0, 4.2), peak(10, 4.6)}}
		assert.NoError(t, idx.Validate())
	})

	t.Run("empty index passes", func(t *testing.T) {
		assert.NoError(t, Index{}.Validate())
	})

	t.Run("duplicate timestamps fail", func(t *testing.T) {
		idx := Index{Peaks: []PeakRecord{peak(0, 4.2), peak(0, 4.6)}}
		assert.Error(t, idx.Validate())
	})

	t.Run("descending order fails", func(t *testing.T) {
		idx := Index{Peaks: []PeakRecord{peak(10, 4.2), peak(0, 4.6)}}
		assert.Error(t, idx.Validate())
	})

	t.Run("non-finite value fails", func(t *testing.T) {
		idx := Index{Peaks: []PeakRecord{peak(0, math.NaN())}}
		assert.Error(t, idx.Validate())
	})
}

func TestIndexJSONShape(t *testing.T) {
	idx := Index{
		GeneratedAt: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		Site:        "01412150",
		ThresholdFt: 4.19,
		Peaks:       []PeakRecord{{Time: time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC), Ft: 4.62}},
	}

	data, err := json.Marshal(idx)
	require.NoError(t, err)

	// The artifact keys the dashboard depends on.
	assert.JSONEq(t, `{
		"generated_at": "2024-03-10T12:00:00Z",
		"site": "01412150",
		"minor_threshold_ft": 4.19,
		"peaks": [{"t": "2024-03-10T06:00:00Z", "ft": 4.62}]
	}`, string(data))
}
