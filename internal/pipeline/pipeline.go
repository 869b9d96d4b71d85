// Package pipeline orchestrates the fetch-detect-merge-save cycle that
// keeps a site's high-tide index current, plus the forecast mirror that
// rides along with it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/tide-data-etl/internal/domain"
	"github.com/couchcryptid/tide-data-etl/internal/observability"
)

// SampleSource fetches observed water levels for a time range, ascending
// by time. Provider outages surface as short results, not errors.
type SampleSource interface {
	FetchRange(ctx context.Context, start, end time.Time) ([]domain.Sample, error)
}

// ForecastSource fetches the current water-level forecast for a station.
type ForecastSource interface {
	Fetch(ctx context.Context) (domain.Forecast, error)
}

// IndexStore loads and saves the persistent peak index.
type IndexStore interface {
	Load(ctx context.Context) (domain.Index, error)
	Save(ctx context.Context, idx domain.Index) error
}

// ForecastStore saves the forecast mirror.
type ForecastStore interface {
	SaveForecast(ctx context.Context, fc domain.Forecast) error
}

// PeakPublisher emits index entries that a run added or raised.
type PeakPublisher interface {
	Publish(ctx context.Context, detectedAt time.Time, peaks []domain.PeakRecord) error
}

// Settings fixes one site's indexing behavior.
type Settings struct {
	Site        string
	ThresholdFt float64

	// Lookback is how far behind the newest indexed peak each run's
	// fetch window starts, so an event that was still open last run is
	// re-observed whole.
	Lookback time.Duration

	// BackfillStart is the window start when the index is empty.
	BackfillStart time.Time

	// MaxForecastPoints caps the mirrored forecast; zero or negative
	// means no cap.
	MaxForecastPoints int
}

// Deps are the collaborators one Pipeline drives. Forecast,
// ForecastStore, and Publisher may be nil; the corresponding legs are
// skipped. A nil Clock means real time.
type Deps struct {
	Samples       SampleSource
	Forecast      ForecastSource
	Store         IndexStore
	ForecastStore ForecastStore
	Publisher     PeakPublisher

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// SiteStatus is a point-in-time operational summary of one site
// pipeline, served by the /statusz endpoint.
type SiteStatus struct {
	Site         string    `json:"site"`
	Ready        bool      `json:"ready"`
	LastRunAt    time.Time `json:"last_run_at,omitzero"`
	LastOutcome  string    `json:"last_outcome,omitempty"`
	IndexPeaks   int       `json:"index_peaks"`
	LastNewPeaks int       `json:"new_peaks_last_run"`
}

// Pipeline runs the indexing cycle for a single site.
type Pipeline struct {
	settings Settings
	deps     Deps
	logger   *slog.Logger

	ready atomic.Bool

	mu     sync.Mutex
	status SiteStatus
}

// New creates a Pipeline for the given site settings and collaborators.
func New(settings Settings, deps Deps) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		settings: settings,
		deps:     deps,
		logger:   deps.Logger.With("site", settings.Site),
		status:   SiteStatus{Site: settings.Site},
	}
}

// CheckReadiness returns nil once the pipeline has completed a
// successful run, or an error naming the site otherwise.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return fmt.Errorf("site %s has not completed a run yet", p.settings.Site)
	}
	return nil
}

// Status reports the outcome of the most recent run.
func (p *Pipeline) Status() SiteStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Run executes the pipeline until ctx is cancelled. A non-positive
// interval means one shot: a single run whose error is returned. With a
// positive interval the pipeline runs immediately and then on every
// tick; per-run errors are logged and counted but do not stop the loop.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	p.deps.Metrics.PipelineRunning.Inc()
	defer p.deps.Metrics.PipelineRunning.Dec()

	if interval <= 0 {
		return p.RunOnce(ctx)
	}

	p.logger.Info("pipeline started", "interval", interval)
	p.RunOnce(ctx) //nolint:errcheck // logged and counted inside

	ticker := p.deps.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			p.RunOnce(ctx) //nolint:errcheck // logged and counted inside
		}
	}
}

// RunOnce executes one fetch-detect-merge-save cycle and refreshes the
// forecast mirror.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	start := p.deps.Clock.Now()
	logger := p.logger.With("run_id", uuid.NewString())

	result, err := p.run(ctx, logger)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	duration := p.deps.Clock.Since(start)
	p.deps.Metrics.Runs.WithLabelValues(p.settings.Site, outcome).Inc()
	p.deps.Metrics.RunDuration.WithLabelValues(p.settings.Site).Observe(duration.Seconds())

	p.mu.Lock()
	p.status.LastRunAt = start.UTC()
	p.status.LastOutcome = outcome
	if err == nil {
		p.status.IndexPeaks = result.indexPeaks
		p.status.LastNewPeaks = result.newPeaks
	}
	p.mu.Unlock()

	if err != nil {
		logger.Error("run failed", "duration", duration, "error", err)
		return err
	}

	p.ready.Store(true)
	p.mu.Lock()
	p.status.Ready = true
	p.mu.Unlock()

	logger.Info("run complete",
		"duration", duration,
		"index_peaks", result.indexPeaks,
		"new_peaks", result.newPeaks,
	)
	return nil
}

type runResult struct {
	indexPeaks int
	newPeaks   int
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger) (runResult, error) {
	existing, err := p.deps.Store.Load(ctx)
	if err != nil {
		return runResult{}, fmt.Errorf("load index: %w", err)
	}

	windowStart := p.windowStart(existing)
	windowEnd := p.deps.Clock.Now().UTC()

	samples, err := p.deps.Samples.FetchRange(ctx, windowStart, windowEnd)
	if err != nil {
		return runResult{}, fmt.Errorf("fetch samples: %w", err)
	}
	p.deps.Metrics.SamplesFetched.WithLabelValues(p.settings.Site).Add(float64(len(samples)))
	logger.Info("fetched samples",
		"count", len(samples),
		"window_start", windowStart.Format(time.RFC3339),
		"window_end", windowEnd.Format(time.RFC3339),
	)

	peaks, err := domain.DetectPeaks(domain.DedupeSamples(samples), p.settings.ThresholdFt)
	if err != nil {
		return runResult{}, fmt.Errorf("detect peaks: %w", err)
	}
	p.deps.Metrics.PeaksDetected.WithLabelValues(p.settings.Site).Add(float64(len(peaks)))

	merged := domain.Merge(existing, peaks)
	merged.Site = p.settings.Site
	merged.ThresholdFt = p.settings.ThresholdFt
	merged.GeneratedAt = p.deps.Clock.Now().UTC()
	if err := merged.Validate(); err != nil {
		return runResult{}, fmt.Errorf("merged index: %w", err)
	}

	if err := p.deps.Store.Save(ctx, merged); err != nil {
		return runResult{}, fmt.Errorf("save index: %w", err)
	}
	p.deps.Metrics.IndexPeaks.WithLabelValues(p.settings.Site).Set(float64(len(merged.Peaks)))

	newPeaks := domain.Diff(existing, merged)
	p.deps.Metrics.NewPeaks.WithLabelValues(p.settings.Site).Add(float64(len(newPeaks)))

	result := runResult{indexPeaks: len(merged.Peaks), newPeaks: len(newPeaks)}

	// The index is saved; failures past this point degrade the run but
	// must not undo it.
	var errs []error
	if p.deps.Publisher != nil && len(newPeaks) > 0 {
		if err := p.deps.Publisher.Publish(ctx, merged.GeneratedAt, newPeaks); err != nil {
			p.deps.Metrics.PublishFailures.WithLabelValues(p.settings.Site).Add(float64(len(newPeaks)))
			errs = append(errs, fmt.Errorf("publish peaks: %w", err))
		}
	}
	if p.deps.Forecast != nil && p.deps.ForecastStore != nil {
		if err := p.refreshForecast(ctx, logger); err != nil {
			errs = append(errs, err)
		}
	}

	return result, errors.Join(errs...)
}

// windowStart picks where the next fetch window begins: a lookback
// behind the newest indexed peak, or the backfill start on first run.
func (p *Pipeline) windowStart(existing domain.Index) time.Time {
	if latest, ok := existing.Latest(); ok {
		return latest.Time.Add(-p.settings.Lookback)
	}
	return p.settings.BackfillStart
}

func (p *Pipeline) refreshForecast(ctx context.Context, logger *slog.Logger) error {
	fc, err := p.deps.Forecast.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch forecast: %w", err)
	}

	fc.GeneratedAt = p.deps.Clock.Now().UTC()
	fc = fc.Clamp(p.settings.MaxForecastPoints)

	if err := p.deps.ForecastStore.SaveForecast(ctx, fc); err != nil {
		return fmt.Errorf("save forecast: %w", err)
	}
	p.deps.Metrics.ForecastPoints.WithLabelValues(fc.Station).Set(float64(len(fc.Points)))
	logger.Info("forecast mirrored", "station", fc.Station, "points", len(fc.Points), "source", fc.Source)
	return nil
}
