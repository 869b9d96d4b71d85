package nyhops

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/tide-data-etl/internal/domain"
)

// DefaultBaseURL is the Stevens SFAS data root serving NYHOPS station
// exports.
const DefaultBaseURL = "https://hudson.dl.stevens-tech.edu/sfas/d"

const defaultTimeout = 25 * time.Second

// Config holds the forecast fetch settings for one NYHOPS station.
type Config struct {
	BaseURL   string // SFAS data root; DefaultBaseURL when empty
	Station   string // NYHOPS station code, e.g. "U238"
	Timeout   time.Duration
	UserAgent string
}

// Client mirrors the NYHOPS water-level forecast for a station. It
// implements pipeline.ForecastSource.
//
// The SFAS pages are dynamic and the stable export URL has moved over
// time, so Fetch walks a list of known endpoint shapes and takes the
// first one that serves parseable points. Total failure is not an
// error: the caller still writes the artifact, with an empty point list
// and no source, so the dashboard sees a fresh timestamp.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an SFAS forecast client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Fetch tries each candidate URL in order and returns the first
// non-empty forecast. The returned Points slice is never nil.
func (c *Client) Fetch(ctx context.Context) (domain.Forecast, error) {
	fc := domain.Forecast{
		Station: c.cfg.Station,
		Points:  []domain.ForecastPoint{},
	}

	for _, candidate := range c.candidateURLs() {
		if err := ctx.Err(); err != nil {
			return fc, err
		}

		points, err := c.fetchCSV(ctx, candidate)
		if err != nil {
			c.logger.Debug("nyhops candidate failed", "url", candidate, "error", err)
			continue
		}
		if len(points) > 0 {
			fc.Source = candidate
			fc.Points = points
			return fc, nil
		}
	}

	c.logger.Warn("nyhops forecast unavailable", "station", c.cfg.Station)
	return fc, nil
}

// candidateURLs lists the endpoint shapes observed to serve SFAS CSV,
// most likely first.
func (c *Client) candidateURLs() []string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	return []string{
		fmt.Sprintf("%s/data/%s.csv", base, c.cfg.Station),
		fmt.Sprintf("%s/%s.csv", base, c.cfg.Station),
		fmt.Sprintf("%s/download.php?station=%s", base, c.cfg.Station),
		fmt.Sprintf("%s/index.shtml?station=%s&format=csv", base, c.cfg.Station),
	}
}

func (c *Client) fetchCSV(ctx context.Context, candidate string) ([]domain.ForecastPoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sfas status %d", resp.StatusCode)
	}
	return parsePoints(resp.Body), nil
}

// headerWords are the column-name fragments that mark a header line.
var headerWords = []string{"time", "date", "water", "stage", "elev", "value"}

// parsePoints reads the very loose SFAS export: at least two
// comma-separated columns per line, time then feet, with an optional
// header. The provider is not strict CSV (no quoting discipline), so
// lines are split directly and anything unparseable is skipped.
// Zone-naive "YYYY-MM-DD HH:MM" stamps get their space replaced with a
// "T"; no offset is invented for them.
func parsePoints(r io.Reader) []domain.ForecastPoint {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return nil
	}

	if isHeader(lines[0]) {
		lines = lines[1:]
	}

	var points []domain.ForecastPoint
	for _, line := range lines {
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}

		ft, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || math.IsNaN(ft) || math.IsInf(ft, 0) {
			continue
		}

		ts := strings.ReplaceAll(strings.TrimSpace(parts[0]), " ", "T")
		points = append(points, domain.ForecastPoint{T: ts, Ft: ft})
	}
	return points
}

func isHeader(line string) bool {
	lower := strings.ToLower(line)
	for _, word := range headerWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
