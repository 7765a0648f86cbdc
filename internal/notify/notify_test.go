package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Send(context.Background(), "alice@example.com", "Hello", "Body text"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "notification", entry["msg"])
	assert.Equal(t, "alice@example.com", entry["to"])
	assert.Equal(t, "Hello", entry["subject"])
}

type capturedWrite struct {
	msgs []kafka.Message
}

func (c *capturedWrite) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func TestKafkaSink(t *testing.T) {
	captured := &capturedWrite{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sink := &KafkaSink{writer: captured, now: func() time.Time { return now }}

	require.NoError(t, sink.Send(context.Background(), "alice@example.com", "Confirm", "Click the link"))

	require.Len(t, captured.msgs, 1)
	assert.Equal(t, []byte("alice@example.com"), captured.msgs[0].Key)

	var msg Message
	require.NoError(t, json.Unmarshal(captured.msgs[0].Value, &msg))
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, "Confirm", msg.Subject)
	assert.Equal(t, "Click the link", msg.Body)
	assert.Equal(t, now, msg.SentAt)
}
