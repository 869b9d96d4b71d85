package domain

import "time"

// ForecastPoint is a single predicted water level. The timestamp stays a
// raw provider string: SFAS exports are zone-naive local stamps in
// several shapes, and the dashboard renders them verbatim rather than
// guessing an offset.
type ForecastPoint struct {
	T  string  `json:"t"`
	Ft float64 `json:"ft"`
}

// Forecast is the mirrored NYHOPS water-level forecast for one station.
// It is a convenience artifact for the dashboard and carries none of the
// index invariants. Source records which candidate URL actually served
// the data; empty means every candidate failed this run (the artifact is
// still written so the dashboard sees a fresh GeneratedAt).
type Forecast struct {
	GeneratedAt time.Time       `json:"generated_at,omitzero"`
	Station     string          `json:"station"`
	Source      string          `json:"source,omitempty"`
	Points      []ForecastPoint `json:"points"`
}

// Clamp bounds the forecast to at most max points, keeping the earliest.
// Non-positive max means no bound.
func (f Forecast) Clamp(max int) Forecast {
	if max > 0 && len(f.Points) > max {
		f.Points = f.Points[:max]
	}
	return f
}
