// Package kafka publishes newly indexed peaks for downstream consumers
// (alerting, archival). Publishing is feature-flagged; the indexer's
// artifacts are the source of truth and a broker outage must never
// block a run.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/tide-data-etl/internal/domain"
)

// PeakEvent is the wire shape for one new or raised index entry.
type PeakEvent struct {
	Site        string    `json:"site"`
	Time        time.Time `json:"t"`
	Ft          float64   `json:"ft"`
	ThresholdFt float64   `json:"threshold_ft"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Publisher produces peak events to a Kafka topic.
// It implements pipeline.PeakPublisher.
type Publisher struct {
	writer      *kafkago.Writer
	site        string
	thresholdFt float64
	logger      *slog.Logger
}

// NewPublisher creates a Kafka producer for one site's peak events.
func NewPublisher(brokers []string, topic, site string, thresholdFt float64, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, site: site, thresholdFt: thresholdFt, logger: logger}
}

// Publish serializes and produces the given peaks in a single
// WriteMessages call. Keys are site plus timestamp, so a raised peak
// re-published after a later run replaces the earlier event on
// compacted topics.
func (p *Publisher) Publish(ctx context.Context, detectedAt time.Time, peaks []domain.PeakRecord) error {
	if len(peaks) == 0 {
		return nil
	}

	msgs := make([]kafkago.Message, len(peaks))
	for i := range peaks {
		msg, err := serializeToMessage(p.site, p.thresholdFt, detectedAt, peaks[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d peak events: %w", len(msgs), err)
	}
	p.logger.Info("published peak events", "site", p.site, "count", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals one peak into a Kafka message.
func serializeToMessage(site string, thresholdFt float64, detectedAt time.Time, peak domain.PeakRecord) (kafkago.Message, error) {
	event := PeakEvent{
		Site:        site,
		Time:        peak.Time,
		Ft:          peak.Ft,
		ThresholdFt: thresholdFt,
		DetectedAt:  detectedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize peak event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(site + "|" + peak.Time.UTC().Format(time.RFC3339)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "site", Value: []byte(site)},
			{Key: "detected_at", Value: []byte(detectedAt.Format(time.RFC3339))},
		},
	}, nil
}
