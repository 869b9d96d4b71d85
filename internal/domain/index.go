package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Merge folds freshly detected peaks into an existing index and returns
// the result in canonical form: unique timestamps, ascending order.
//
// Records are keyed by timestamp. An incoming timestamp absent from the
// existing index inserts; a colliding one replaces the stored record only
// when the incoming value is strictly greater. Existing peaks pass
// through the same rule, so an index written by an older builder (records
// descending, or duplicated) canonicalizes on its first merge here.
//
// Merge never touches GeneratedAt; the caller stamps it when persisting.
// The keep-max rule makes Merge idempotent and the stored value for any
// timestamp monotone non-decreasing across runs.
func Merge(existing Index, incoming []PeakRecord) Index {
	keyed := make(map[int64]PeakRecord, len(existing.Peaks)+len(incoming))
	upsert := func(p PeakRecord) {
		k := p.Time.UnixNano()
		if cur, ok := keyed[k]; !ok || p.Ft > cur.Ft {
			keyed[k] = p
		}
	}
	for _, p := range existing.Peaks {
		upsert(p)
	}
	for _, p := range incoming {
		upsert(p)
	}

	peaks := make([]PeakRecord, 0, len(keyed))
	for _, p := range keyed {
		peaks = append(peaks, p)
	}
	sort.Slice(peaks, func(i, j int) bool {
		return peaks[i].Time.Before(peaks[j].Time)
	})

	merged := existing
	merged.Peaks = peaks
	return merged
}

// Diff returns the records of after that are new or carry a higher value
// than before held for the same timestamp, in after's order. This is the
// per-run delta: what a publisher should announce and what the run log
// counts as new.
func Diff(before, after Index) []PeakRecord {
	prior := make(map[int64]float64, len(before.Peaks))
	for _, p := range before.Peaks {
		k := p.Time.UnixNano()
		if ft, ok := prior[k]; !ok || p.Ft > ft {
			prior[k] = p.Ft
		}
	}

	var changed []PeakRecord
	for _, p := range after.Peaks {
		if ft, ok := prior[p.Time.UnixNano()]; !ok || p.Ft > ft {
			changed = append(changed, p)
		}
	}
	return changed
}

// Latest returns the record with the greatest timestamp. It scans the
// whole slice rather than trusting slice order, so look-back anchoring
// still works on a legacy descending-order index before its first
// canonicalizing merge.
func (idx Index) Latest() (PeakRecord, bool) {
	if len(idx.Peaks) == 0 {
		return PeakRecord{}, false
	}
	latest := idx.Peaks[0]
	for _, p := range idx.Peaks[1:] {
		if p.Time.After(latest.Time) {
			latest = p
		}
	}
	return latest, true
}

// Validate checks the structural invariants of a persisted index: finite
// values, strictly ascending unique timestamps. Metadata is not checked;
// a first-run index legitimately has none.
func (idx Index) Validate() error {
	for i, p := range idx.Peaks {
		if math.IsNaN(p.Ft) || math.IsInf(p.Ft, 0) {
			return fmt.Errorf("peak %d (%s): non-finite value", i, p.Time.Format(time.RFC3339))
		}
		if i == 0 {
			continue
		}
		if !p.Time.After(idx.Peaks[i-1].Time) {
			return fmt.Errorf("peak %d (%s): timestamp not strictly after peak %d (%s)",
				i, p.Time.Format(time.RFC3339), i-1, idx.Peaks[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}
