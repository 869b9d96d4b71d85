package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// tide indexing pipeline. Vector metrics are labelled by site so one
// process can run several site pipelines side by side.
type Metrics struct {
	PipelineRunning prometheus.Gauge

	Runs        *prometheus.CounterVec   // labels: site, outcome={success,error}
	RunDuration *prometheus.HistogramVec // labels: site

	// Per-run volume metrics.
	SamplesFetched *prometheus.CounterVec // labels: site
	PeaksDetected  *prometheus.CounterVec // labels: site
	NewPeaks       *prometheus.CounterVec // labels: site
	IndexPeaks     *prometheus.GaugeVec   // labels: site

	// Forecast mirror metrics.
	ForecastPoints *prometheus.GaugeVec // labels: station

	PublishFailures *prometheus.CounterVec // labels: site
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tide_etl",
			Name:      "pipeline_running",
			Help:      "Number of site pipelines currently active.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tide_etl",
			Name:      "runs_total",
			Help:      "Completed pipeline runs by site and outcome.",
		}, []string{"site", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tide_etl",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-detect-merge-save run. Backfills can take minutes.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800, 7200},
		}, []string{"site"}),
		SamplesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tide_etl",
			Name:      "samples_fetched_total",
			Help:      "Water-level samples fetched from NWIS.",
		}, []string{"site"}),
		PeaksDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tide_etl",
			Name:      "peaks_detected_total",
			Help:      "Threshold-exceeding peaks detected in fetched windows, before merging.",
		}, []string{"site"}),
		NewPeaks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tide_etl",
			Name:      "new_peaks_total",
			Help:      "Peaks that were new or raised after merging into the index.",
		}, []string{"site"}),
		IndexPeaks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tide_etl",
			Name:      "index_peaks",
			Help:      "Peaks in the persisted index after the latest run.",
		}, []string{"site"}),
		ForecastPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tide_etl",
			Name:      "forecast_points",
			Help:      "Points in the latest forecast mirror. Zero when the provider was unreachable.",
		}, []string{"station"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tide_etl",
			Name:      "publish_failures_total",
			Help:      "Peak events that could not be published to Kafka.",
		}, []string{"site"}),
	}

	prometheus.MustRegister(
		m.PipelineRunning,
		m.Runs,
		m.RunDuration,
		m.SamplesFetched,
		m.PeaksDetected,
		m.NewPeaks,
		m.IndexPeaks,
		m.ForecastPoints,
		m.PublishFailures,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "tide_etl", Name: "pipeline_running"}),
		Runs:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "tide_etl", Name: "runs_total"}, []string{"site", "outcome"}),
		RunDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "tide_etl", Name: "run_duration_seconds"}, []string{"site"}),
		SamplesFetched:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "tide_etl", Name: "samples_fetched_total"}, []string{"site"}),
		PeaksDetected:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "tide_etl", Name: "peaks_detected_total"}, []string{"site"}),
		NewPeaks:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "tide_etl", Name: "new_peaks_total"}, []string{"site"}),
		IndexPeaks:      prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "tide_etl", Name: "index_peaks"}, []string{"site"}),
		ForecastPoints:  prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "tide_etl", Name: "forecast_points"}, []string{"station"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "tide_etl", Name: "publish_failures_total"}, []string{"site"}),
	}
}
