package kafka

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tide-data-etl/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	detectedAt := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	peak := domain.PeakRecord{
		Time: time.Date(2024, time.March, 9, 3, 12, 0, 0, time.UTC),
		Ft:   4.51,
	}

	msg, err := serializeToMessage("01412150", 4.19, detectedAt, peak)
	require.NoError(t, err)

	assert.Equal(t, []byte("01412150|2024-03-09T03:12:00Z"), msg.Key)
	assert.JSONEq(t, `{
		"site": "01412150",
		"t": "2024-03-09T03:12:00Z",
		"ft": 4.51,
		"threshold_ft": 4.19,
		"detected_at": "2024-03-10T12:00:00Z"
	}`, string(msg.Value))

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "site", msg.Headers[0].Key)
	assert.Equal(t, []byte("01412150"), msg.Headers[0].Value)
	assert.Equal(t, "detected_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2024-03-10T12:00:00Z"), msg.Headers[1].Value)
}

func TestSerializeToMessage_KeyUsesUTC(t *testing.T) {
	eastern := time.FixedZone("EST", -5*60*60)
	peak := domain.PeakRecord{
		Time: time.Date(2024, time.March, 9, 3, 12, 0, 0, eastern),
		Ft:   4.51,
	}

	msg, err := serializeToMessage("01412150", 4.19, time.Now(), peak)
	require.NoError(t, err)

	assert.Equal(t, []byte("01412150|2024-03-09T08:12:00Z"), msg.Key)
}

func TestPublisher_Publish_NothingToDo(t *testing.T) {
	p := NewPublisher([]string{"localhost:9092"}, "high-tide-peaks", "01412150", 4.19,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { p.Close() })

	// No peaks means no broker round trip, so this must succeed even
	// though nothing is listening on the configured address.
	err := p.Publish(context.Background(), time.Now(), nil)

	assert.NoError(t, err)
}
