// Command genmock synthesizes a deterministic tide curve and writes it
// as a USGS NWIS IV JSON fixture, plus the peak index the etl is
// expected to build from it. The fixture feeds mock NWIS servers and
// test assertions without hitting the live API.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/iv_01412150.json \
//	  -peaks-out data/mock/expected_peaks_01412150.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/tide-data-etl/internal/domain"
)

// NWIS reports timestamps in the gauge's local zone; the fixture uses a
// fixed Eastern offset so UTC normalization is exercised downstream.
var fixtureZone = time.FixedZone("EST", -5*3600)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	site := flag.String("site", "01412150", "NWIS site number")
	threshold := flag.Float64("threshold", 4.19, "minor flood threshold in feet")
	start := flag.String("start", "2024-03-09", "first observation date (YYYY-MM-DD, UTC)")
	days := flag.Int("days", 3, "days of observations")
	interval := flag.Duration("interval", 6*time.Minute, "spacing between observations")
	surgeFt := flag.Float64("surge-ft", 1.4, "storm surge height in feet")
	surgeAt := flag.Float64("surge-at", 36, "surge center, hours after start")
	out := flag.String("out", "", "output path for the IV JSON fixture")
	peaksOut := flag.String("peaks-out", "", "output path for the expected peak index (optional)")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	startTime, err := time.Parse(time.DateOnly, *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}
	startTime = startTime.UTC()
	surgeCenter := startTime.Add(time.Duration(*surgeAt * float64(time.Hour)))

	points, samples := synthesize(startTime, *days, *interval, surgeCenter, *surgeFt)
	log.Printf("%s: %d observations from %s", *site, len(points), *start)

	if err := writeJSON(*out, newFixture(*site, points)); err != nil {
		return fmt.Errorf("writing IV fixture: %w", err)
	}
	log.Printf("wrote IV fixture: %s", *out)

	// Run the actual detector so the expected output matches real
	// pipeline behavior.
	peaks, err := domain.DetectPeaks(samples, *threshold)
	if err != nil {
		return fmt.Errorf("detect peaks: %w", err)
	}

	if *peaksOut != "" {
		// Fixed clock for a reproducible generated_at stamp.
		clock := clockwork.NewFakeClockAt(startTime.Add(time.Duration(*days)*24*time.Hour + 6*time.Hour))
		expected := domain.Index{
			GeneratedAt: clock.Now(),
			Site:        *site,
			ThresholdFt: *threshold,
			Peaks:       peaks,
		}
		if err := writeJSON(*peaksOut, expected); err != nil {
			return fmt.Errorf("writing expected peaks: %w", err)
		}
		log.Printf("wrote expected peaks: %s", *peaksOut)
	}

	printStats(samples, peaks, *threshold)
	return nil
}

// synthesize builds the observation series: IV points for the fixture
// and the samples the etl would parse back out of it. Values round-trip
// through the fixture's string encoding so the two never disagree.
func synthesize(start time.Time, days int, interval time.Duration, surgeCenter time.Time, surgeFt float64) ([]ivPoint, []domain.Sample) {
	n := int(time.Duration(days) * 24 * time.Hour / interval)
	points := make([]ivPoint, 0, n)
	samples := make([]domain.Sample, 0, n)

	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * interval)
		str := strconv.FormatFloat(waterLevel(ts, start, surgeCenter, surgeFt), 'f', 2, 64)
		ft, err := strconv.ParseFloat(str, 64)
		if err != nil {
			continue
		}
		points = append(points, ivPoint{
			Value:    str,
			DateTime: ts.In(fixtureZone).Format(time.RFC3339),
		})
		samples = append(samples, domain.Sample{Time: ts, Ft: ft})
	}
	return points, samples
}

// waterLevel models a semidiurnal tide with a storm surge riding on
// top. Constituent periods are M2 (12.42h) and a weaker diurnal term;
// the baseline numbers approximate the Bivalve gauge.
func waterLevel(ts, start, surgeCenter time.Time, surgeFt float64) float64 {
	h := ts.Sub(start).Hours()
	level := 2.4 + 1.6*math.Sin(2*math.Pi*h/12.42) + 0.4*math.Sin(2*math.Pi*h/25.82+1.1)

	sh := ts.Sub(surgeCenter).Hours()
	level += surgeFt * math.Exp(-sh*sh/18)
	return level
}

// Trimmed NWIS IV envelope: the fields the etl reads plus enough
// metadata to pass for a real response in a mock server.

type ivFixture struct {
	Name  string        `json:"name"`
	Value ivFixtureBody `json:"value"`
}

type ivFixtureBody struct {
	TimeSeries []ivSeries `json:"timeSeries"`
}

type ivSeries struct {
	SourceInfo ivSourceInfo   `json:"sourceInfo"`
	Variable   ivVariable     `json:"variable"`
	Values     []ivValueBlock `json:"values"`
}

type ivSourceInfo struct {
	SiteName string       `json:"siteName"`
	SiteCode []ivSiteCode `json:"siteCode"`
}

type ivSiteCode struct {
	Value      string `json:"value"`
	AgencyCode string `json:"agencyCode"`
}

type ivVariable struct {
	VariableCode []ivVariableCode `json:"variableCode"`
	VariableName string           `json:"variableName"`
	Unit         ivUnit           `json:"unit"`
}

type ivVariableCode struct {
	Value string `json:"value"`
}

type ivUnit struct {
	UnitCode string `json:"unitCode"`
}

type ivValueBlock struct {
	Value []ivPoint `json:"value"`
}

type ivPoint struct {
	Value    string `json:"value"`
	DateTime string `json:"dateTime"`
}

func newFixture(site string, points []ivPoint) ivFixture {
	return ivFixture{
		Name: "ns1:timeSeriesResponseType",
		Value: ivFixtureBody{
			TimeSeries: []ivSeries{{
				SourceInfo: ivSourceInfo{
					SiteName: "Maurice River at Bivalve NJ",
					SiteCode: []ivSiteCode{{Value: site, AgencyCode: "USGS"}},
				},
				Variable: ivVariable{
					VariableCode: []ivVariableCode{{Value: "72279"}},
					VariableName: "Tidal elevation, NAVD88",
					Unit:         ivUnit{UnitCode: "ft"},
				},
				Values: []ivValueBlock{{Value: points}},
			}},
		},
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(samples []domain.Sample, peaks []domain.PeakRecord, threshold float64) {
	var above int
	var max domain.Sample
	for _, s := range samples {
		if s.Ft >= threshold {
			above++
		}
		if s.Ft > max.Ft {
			max = s
		}
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Samples: %d\n", len(samples))
	fmt.Printf("At or above %.2f ft: %d\n", threshold, above)
	fmt.Printf("Max: %.2f ft at %s\n", max.Ft, max.Time.Format(time.RFC3339))
	fmt.Printf("Peaks: %d\n", len(peaks))
	for _, p := range peaks {
		fmt.Printf("  %s  %.2f ft\n", p.Time.Format(time.RFC3339), p.Ft)
	}
}
