package domain

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrUnsortedSamples reports a sample sequence that is not in
	// ascending time order. Detection refuses such input outright
	// instead of producing wrong events.
	ErrUnsortedSamples = errors.New("samples not in ascending time order")

	// ErrBadThreshold reports a NaN or infinite threshold.
	ErrBadThreshold = errors.New("threshold is not finite")
)

// DetectPeaks scans an ascending sample sequence once and returns one
// PeakRecord per high-tide event, in chronological order.
//
// An event starts at the first sample with Ft >= thresholdFt and ends
// before the first subsequent sample with Ft < thresholdFt. Within an
// event the peak advances only on a strictly greater value, so the first
// sample attaining the maximum keeps the peak timestamp. An event still
// open at the end of the input is emitted as-is; the next run's
// overlapping re-scan picks up whatever the window cut off.
//
// Empty input yields nil, nil. Samples with equal timestamps are
// tolerated (overlapping fetch chunks duplicate window-boundary samples);
// the merge step collapses them. Non-finite sample values are the
// caller's job to filter out before calling.
func DetectPeaks(samples []Sample, thresholdFt float64) ([]PeakRecord, error) {
	if math.IsNaN(thresholdFt) || math.IsInf(thresholdFt, 0) {
		return nil, ErrBadThreshold
	}

	var (
		peaks   []PeakRecord
		current PeakRecord
		inEvent bool
	)

	for i, s := range samples {
		if i > 0 && s.Time.Before(samples[i-1].Time) {
			return nil, ErrUnsortedSamples
		}

		if !inEvent {
			if s.Ft >= thresholdFt {
				inEvent = true
				current = PeakRecord{Time: s.Time, Ft: s.Ft}
			}
			continue
		}

		if s.Ft > current.Ft {
			current = PeakRecord{Time: s.Time, Ft: s.Ft}
		}
		if s.Ft < thresholdFt {
			peaks = append(peaks, current)
			inEvent = false
		}
	}

	if inEvent {
		peaks = append(peaks, current)
	}
	return peaks, nil
}

// SortSamples orders samples ascending by time, in place. The sort is
// stable so duplicated window-boundary samples keep their fetch order.
func SortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Time.Before(samples[j].Time)
	})
}

// DedupeSamples collapses samples sharing an instant, keeping the
// highest reading, and returns the survivors ascending by time.
// Overlapping fetch chunks and parameter fallback can both report the
// same instant, occasionally with different values; detection needs one
// reading per instant to see event boundaries cleanly.
func DedupeSamples(samples []Sample) []Sample {
	if len(samples) == 0 {
		return samples
	}

	byTime := make(map[int64]Sample, len(samples))
	for _, s := range samples {
		key := s.Time.UnixNano()
		if cur, ok := byTime[key]; !ok || s.Ft > cur.Ft {
			byTime[key] = s
		}
	}

	out := make([]Sample, 0, len(byTime))
	for _, s := range byTime {
		out = append(out, s)
	}
	SortSamples(out)
	return out
}
