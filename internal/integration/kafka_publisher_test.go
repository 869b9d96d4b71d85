//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/tide-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/tide-data-etl/internal/adapter/store"
	"github.com/couchcryptid/tide-data-etl/internal/domain"
	"github.com/couchcryptid/tide-data-etl/internal/observability"
	"github.com/couchcryptid/tide-data-etl/internal/pipeline"
)

const testPeaksTopic = "test-high-tide-peaks"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node Kafka broker in a container and returns
// its bootstrap address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("tide-etl-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err, "resolve brokers")
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err, "dial broker")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "resolve controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err, "dial controller")
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}), "create topic %s", topic)
}

func newConsumer(t *testing.T, broker, topic string) *kafkago.Reader {
	t.Helper()

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// receivedEvent holds a deserialized message read from the peaks topic.
type receivedEvent struct {
	Event   kafka.PeakEvent
	Key     string
	Headers map[string]string
}

// readPeakEvent reads a single message from the consumer and deserializes it.
func readPeakEvent(ctx context.Context, t *testing.T, consumer *kafkago.Reader) receivedEvent {
	t.Helper()

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from peaks topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var event kafka.PeakEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event), "unmarshal peak event")

	return receivedEvent{Event: event, Key: string(msg.Key), Headers: headers}
}

// TestPublisherRoundTrip verifies the adapter layer: kafka.Publisher
// produces one keyed, headered message per peak through a real broker.
func TestPublisherRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testPeaksTopic)

	pub := kafka.NewPublisher([]string{broker}, testPeaksTopic, "01412150", 4.19, discardLogger())
	t.Cleanup(func() { _ = pub.Close() })

	detectedAt := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	peaks := []domain.PeakRecord{
		{Time: time.Date(2024, time.March, 9, 3, 12, 0, 0, time.UTC), Ft: 4.51},
		{Time: time.Date(2024, time.March, 9, 15, 36, 0, 0, time.UTC), Ft: 4.27},
	}
	require.NoError(t, pub.Publish(ctx, detectedAt, peaks))

	consumer := newConsumer(t, broker, testPeaksTopic)

	first := readPeakEvent(ctx, t, consumer)
	assert.Equal(t, "01412150|2024-03-09T03:12:00Z", first.Key)
	assert.Equal(t, "01412150", first.Headers["site"])
	assert.Equal(t, "2024-03-10T12:00:00Z", first.Headers["detected_at"])
	assert.Equal(t, "01412150", first.Event.Site)
	assert.Equal(t, 4.51, first.Event.Ft)
	assert.Equal(t, 4.19, first.Event.ThresholdFt)
	assert.True(t, first.Event.Time.Equal(peaks[0].Time))
	assert.True(t, first.Event.DetectedAt.Equal(detectedAt))

	second := readPeakEvent(ctx, t, consumer)
	assert.Equal(t, "01412150|2024-03-09T15:36:00Z", second.Key)
	assert.Equal(t, 4.27, second.Event.Ft)
}

// fixedSource serves the same observed samples for every window.
type fixedSource struct {
	samples []domain.Sample
}

func (s *fixedSource) FetchRange(_ context.Context, _, _ time.Time) ([]domain.Sample, error) {
	return s.samples, nil
}

// TestPipelinePublishesOnlyNewPeaks wires a pipeline with a file store
// and a real Kafka publisher, runs it twice over the same observations,
// and verifies that only the first run's peaks reach the topic.
func TestPipelinePublishesOnlyNewPeaks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testPeaksTopic)

	base := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	at := func(n int) time.Time { return base.Add(time.Duration(n) * 6 * time.Minute) }
	src := &fixedSource{samples: []domain.Sample{
		{Time: at(0), Ft: 4.00},
		{Time: at(1), Ft: 4.30},
		{Time: at(2), Ft: 4.50},
		{Time: at(3), Ft: 4.10},
		{Time: at(4), Ft: 3.90},
		{Time: at(5), Ft: 4.25},
		{Time: at(6), Ft: 3.50},
	}}

	dir := t.TempDir()
	st := store.NewFileStore(
		filepath.Join(dir, "high_tides_index.json"),
		filepath.Join(dir, "nyhops_forecast.json"),
	)

	pub := kafka.NewPublisher([]string{broker}, testPeaksTopic, "01412150", 4.19, discardLogger())
	t.Cleanup(func() { _ = pub.Close() })

	p := pipeline.New(pipeline.Settings{
		Site:          "01412150",
		ThresholdFt:   4.19,
		Lookback:      7 * 24 * time.Hour,
		BackfillStart: time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC),
	}, pipeline.Deps{
		Samples:   src,
		Store:     st,
		Publisher: pub,
		Logger:    discardLogger(),
		Metrics:   observability.NewMetricsForTesting(),
	})

	require.NoError(t, p.RunOnce(ctx))
	require.NoError(t, p.RunOnce(ctx))

	consumer := newConsumer(t, broker, testPeaksTopic)

	first := readPeakEvent(ctx, t, consumer)
	second := readPeakEvent(ctx, t, consumer)
	assert.ElementsMatch(t, []string{
		"01412150|2024-03-10T00:12:00Z",
		"01412150|2024-03-10T00:30:00Z",
	}, []string{first.Key, second.Key})

	// The second run saw nothing new, so nothing else arrives.
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no events from the second run")
}
