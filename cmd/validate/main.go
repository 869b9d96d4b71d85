// Command validate audits the JSON artifacts the etl maintains: the
// cumulative peak index and the forecast mirror. It checks the
// invariants the pipeline relies on (strictly ascending unique
// timestamps, peaks at or above the flood threshold) and the artifact
// metadata the dashboard reads.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -index data/high_tides_index.json \
//	  -forecast data/nyhops_forecast.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/tide-data-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// checks holds the operator-supplied expectations beyond the built-in
// invariants. Zero values skip the corresponding check.
type checks struct {
	site      string
	threshold float64
	maxPoints int
	maxAge    time.Duration
}

func main() {
	indexPath := flag.String("index", "data/high_tides_index.json", "path to the peak index artifact")
	forecastPath := flag.String("forecast", "data/nyhops_forecast.json", "path to the forecast artifact; empty to skip")
	site := flag.String("site", "", "expected site number; empty to skip")
	threshold := flag.Float64("threshold", 0, "expected minor flood threshold in feet; 0 to skip")
	maxPoints := flag.Int("max-points", 2000, "forecast point cap; 0 to skip")
	maxAge := flag.Duration("max-age", 0, "maximum artifact age, e.g. 12h; 0 to skip")
	flag.Parse()

	if *indexPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	c := checks{site: *site, threshold: *threshold, maxPoints: *maxPoints, maxAge: *maxAge}
	if code := run(*indexPath, *forecastPath, c); code != 0 {
		os.Exit(code)
	}
}

func run(indexPath, forecastPath string, c checks) int {
	fmt.Println("=== Tide Artifact Validation ===")
	fmt.Println()

	idx, err := loadArtifact[domain.Index](indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load index: %v\n", err)
		return 1
	}

	var fc domain.Forecast
	if forecastPath != "" {
		fc, err = loadArtifact[domain.Forecast](forecastPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load forecast: %v\n", err)
			return 1
		}
	}

	phases := []*phase{
		validateIndexSchema(idx, c),
		validateIndexInvariants(idx),
		validateThreshold(idx),
	}
	if forecastPath != "" {
		phases = append(phases, validateForecast(fc, c))
	}
	phases = append(phases, validateFreshness(idx, fc, forecastPath != "", c))

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	if forecastPath != "" {
		fmt.Printf("Records: %d index peaks, %d forecast points\n", len(idx.Peaks), len(fc.Points))
	} else {
		fmt.Printf("Records: %d index peaks\n", len(idx.Peaks))
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadArtifact[T any](path string) (T, error) {
	var v T
	data, err := os.ReadFile(path)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// ── Phase 1: Index Schema ──
// The metadata the dashboard reads must be present and plausible.

func validateIndexSchema(idx domain.Index, c checks) *phase {
	p := &phase{name: "Phase 1: Index Schema"}

	if idx.Site == "" {
		p.errorf("site: missing")
	} else if c.site != "" && idx.Site != c.site {
		p.errorf("site: expected %q, got %q", c.site, idx.Site)
	}

	if idx.ThresholdFt <= 0 || math.IsNaN(idx.ThresholdFt) || math.IsInf(idx.ThresholdFt, 0) {
		p.errorf("minor_threshold_ft: missing or not a positive finite value (%v)", idx.ThresholdFt)
	} else if c.threshold != 0 && idx.ThresholdFt != c.threshold {
		p.errorf("minor_threshold_ft: expected %v, got %v", c.threshold, idx.ThresholdFt)
	}

	if idx.GeneratedAt.IsZero() {
		p.errorf("generated_at: missing")
	}
	if idx.Peaks == nil {
		p.errorf("peaks: missing or null")
	}
	return p
}

// ── Phase 2: Index Invariants ──
// Strictly ascending unique timestamps, finite values.

func validateIndexInvariants(idx domain.Index) *phase {
	p := &phase{name: "Phase 2: Index Invariants"}

	for i := range idx.Peaks {
		peak := idx.Peaks[i]
		if math.IsNaN(peak.Ft) || math.IsInf(peak.Ft, 0) {
			p.errorf("peak %d (%s): value not finite", i, peak.Time.Format(time.RFC3339))
		}
		if peak.Time.IsZero() {
			p.errorf("peak %d: missing timestamp", i)
		}
		if i == 0 {
			continue
		}
		prev := idx.Peaks[i-1]
		switch {
		case peak.Time.Equal(prev.Time):
			p.errorf("peak %d (%s): duplicate timestamp", i, peak.Time.Format(time.RFC3339))
		case peak.Time.Before(prev.Time):
			p.errorf("peak %d (%s): out of order after %s",
				i, peak.Time.Format(time.RFC3339), prev.Time.Format(time.RFC3339))
		}
	}

	// Anything the loops above missed still fails the phase.
	if err := idx.Validate(); err != nil && p.passed() {
		p.errorf("domain validation: %v", err)
	}
	return p
}

// ── Phase 3: Peaks vs Threshold ──
// Every indexed peak crossed the threshold when it was detected.

func validateThreshold(idx domain.Index) *phase {
	p := &phase{name: "Phase 3: Peaks vs Threshold"}

	if idx.ThresholdFt <= 0 {
		p.errorf("minor_threshold_ft %v: cannot check peaks against it", idx.ThresholdFt)
		return p
	}
	for i := range idx.Peaks {
		if idx.Peaks[i].Ft < idx.ThresholdFt {
			p.errorf("peak %d (%s): %.2f ft is below threshold %.2f",
				i, idx.Peaks[i].Time.Format(time.RFC3339), idx.Peaks[i].Ft, idx.ThresholdFt)
		}
	}
	return p
}

// ── Phase 4: Forecast Artifact ──
// Station and point list present, cap respected, values finite. Point
// timestamps are provider strings rendered verbatim downstream, so only
// emptiness is an error here.

func validateForecast(fc domain.Forecast, c checks) *phase {
	p := &phase{name: "Phase 4: Forecast Artifact"}

	if fc.Station == "" {
		p.errorf("station: missing")
	}
	if fc.Points == nil {
		p.errorf("points: missing or null")
	}
	if c.maxPoints > 0 && len(fc.Points) > c.maxPoints {
		p.errorf("points: %d exceeds cap %d", len(fc.Points), c.maxPoints)
	}
	for i, pt := range fc.Points {
		if math.IsNaN(pt.Ft) || math.IsInf(pt.Ft, 0) {
			p.errorf("point %d (%s): value not finite", i, pt.T)
		}
		if pt.T == "" {
			p.errorf("point %d: empty timestamp", i)
		}
	}
	return p
}

// ── Phase 5: Freshness ──
// Stamps must not come from the future, and with -max-age set, not from
// too far in the past.

func validateFreshness(idx domain.Index, fc domain.Forecast, hasForecast bool, c checks) *phase {
	p := &phase{name: "Phase 5: Freshness"}
	now := time.Now().UTC()

	// Allow a little clock skew between writer and auditor.
	const skew = 5 * time.Minute

	check := func(label string, stamp time.Time) {
		if stamp.IsZero() {
			return
		}
		if stamp.After(now.Add(skew)) {
			p.errorf("%s generated_at %s is in the future", label, stamp.Format(time.RFC3339))
		}
		if c.maxAge > 0 && now.Sub(stamp) > c.maxAge {
			p.errorf("%s generated_at %s is older than %s", label, stamp.Format(time.RFC3339), c.maxAge)
		}
	}

	check("index", idx.GeneratedAt)
	if hasForecast {
		check("forecast", fc.GeneratedAt)
	}
	return p
}
