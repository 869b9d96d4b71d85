package domain

import (
	"time"
)

// Sample is a single water-level observation from a gauge: an instant and
// a level in feet above the gauge datum. Samples live only for the run
// that fetched them.
type Sample struct {
	Time time.Time
	Ft   float64
}

// PeakRecord is the maximum water level reached during one high-tide
// event. The timestamp identifies the record; two records never share
// one. JSON field names match the published index artifact.
type PeakRecord struct {
	Time time.Time `json:"t"`
	Ft   float64   `json:"ft"`
}

// Index is the cumulative, deduplicated collection of every high-tide
// peak detected for a site across all runs to date. Peaks are unique by
// timestamp and kept in ascending order so the persisted artifact diffs
// cleanly between runs.
type Index struct {
	GeneratedAt time.Time    `json:"generated_at,omitzero"`
	Site        string       `json:"site,omitempty"`
	ThresholdFt float64      `json:"minor_threshold_ft,omitempty"`
	Peaks       []PeakRecord `json:"peaks"`
}
