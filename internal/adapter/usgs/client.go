package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/tide-data-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// DefaultBaseURL is the NWIS instantaneous-values endpoint.
const DefaultBaseURL = "https://waterservices.usgs.gov/nwis/iv/"

const (
	defaultChunk   = 30 * 24 * time.Hour
	defaultPause   = 150 * time.Millisecond
	defaultTimeout = 30 * time.Second
)

// Config holds the per-site fetch settings.
type Config struct {
	BaseURL    string        // NWIS IV endpoint; DefaultBaseURL when empty
	Site       string        // NWIS site number, e.g. "01412150"
	Parameters []string      // parameter codes in preference order, e.g. 72279 then 00065
	Chunk      time.Duration // maximum span requested per call; NWIS rejects very long ranges
	Pause      time.Duration // idle time between chunk requests, to stay polite
	Timeout    time.Duration // per-request timeout
	UserAgent  string
}

// Client fetches instantaneous water levels from the USGS NWIS IV
// service. It implements pipeline.SampleSource.
//
// Provider failures are absorbed, not returned: a chunk that every
// parameter code fails to serve contributes zero samples, and a run
// where that happens for all chunks degrades to a no-op merge upstream.
// The only errors FetchRange returns are context cancellations.
type Client struct {
	cfg        Config
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
}

// New creates a NWIS IV client, applying defaults for unset limits.
func New(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Chunk <= 0 {
		cfg.Chunk = defaultChunk
	}
	if cfg.Pause < 0 {
		cfg.Pause = defaultPause
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		clock:      clock,
		logger:     logger,
	}
}

// FetchRange returns every sample observed in [start, end], ascending by
// time and stripped of non-finite values. The range is walked in chunks;
// for each chunk the configured parameter codes are tried in order and
// the first one that yields data wins.
func (c *Client) FetchRange(ctx context.Context, start, end time.Time) ([]domain.Sample, error) {
	var samples []domain.Sample

	for cur := start; cur.Before(end); {
		next := cur.Add(c.cfg.Chunk)
		if next.After(end) {
			next = end
		}

		samples = append(samples, c.fetchChunk(ctx, cur, next)...)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur = next

		if cur.Before(end) && c.cfg.Pause > 0 {
			if err := c.sleep(ctx, c.cfg.Pause); err != nil {
				return nil, err
			}
		}
	}

	domain.SortSamples(samples)
	return samples, nil
}

// fetchChunk tries each parameter code until one serves data. All
// failures are logged and absorbed; the chunk then contributes nothing.
func (c *Client) fetchChunk(ctx context.Context, start, end time.Time) []domain.Sample {
	for _, parameter := range c.cfg.Parameters {
		samples, err := c.fetchSeries(ctx, parameter, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("usgs fetch failed",
				"site", c.cfg.Site,
				"parameter", parameter,
				"start", start.Format(time.RFC3339),
				"end", end.Format(time.RFC3339),
				"error", err,
			)
			continue
		}
		if len(samples) > 0 {
			return samples
		}
	}
	return nil
}

func (c *Client) fetchSeries(ctx context.Context, parameter string, start, end time.Time) ([]domain.Sample, error) {
	query := url.Values{
		"format":      {"json"},
		"sites":       {c.cfg.Site},
		"parameterCd": {parameter},
		"siteStatus":  {"all"},
		"agencyCd":    {"USGS"},
		"startDT":     {start.UTC().Format(time.RFC3339)},
		"endDT":       {end.UTC().Format(time.RFC3339)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("iv request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("nwis status %d: %s", resp.StatusCode, body)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode iv response: %w", err)
	}
	return env.samples(), nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := c.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

// NWIS IV response envelope, trimmed to the fields the indexer reads:
// the first values block of the first time series.

type envelope struct {
	Value struct {
		TimeSeries []series `json:"timeSeries"`
	} `json:"value"`
}

type series struct {
	Values []valueBlock `json:"values"`
}

type valueBlock struct {
	Value []ivPoint `json:"value"`
}

type ivPoint struct {
	Value    string `json:"value"`
	DateTime string `json:"dateTime"`
}

// samples converts the envelope into domain samples, dropping points
// whose timestamp or value does not parse and values that are not
// finite. Timestamps are normalized to UTC so peak identity is stable
// across runs regardless of the zone NWIS happens to report.
func (e envelope) samples() []domain.Sample {
	if len(e.Value.TimeSeries) == 0 || len(e.Value.TimeSeries[0].Values) == 0 {
		return nil
	}

	points := e.Value.TimeSeries[0].Values[0].Value
	out := make([]domain.Sample, 0, len(points))
	for _, p := range points {
		ft, err := strconv.ParseFloat(p.Value, 64)
		if err != nil || math.IsNaN(ft) || math.IsInf(ft, 0) {
			continue
		}
		ts, err := time.Parse(time.RFC3339, p.DateTime)
		if err != nil {
			continue
		}
		out = append(out, domain.Sample{Time: ts.UTC(), Ft: ft})
	}
	return out
}
