// Package notify delivers outbound account notifications. The log sink is
// for development; the Kafka sink hands messages to a downstream mailer.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"identra.org/internal/obs"
)

// LogSink writes notifications to the structured log instead of sending them.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink builds a sink over the given logger; nil falls back to the
// process logger.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = obs.Logger()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Send(ctx context.Context, to, subject, body string) error {
	s.log.InfoContext(ctx, "notification",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("body", body),
	)
	return nil
}

// Message is the wire format consumed by the mailer worker.
type Message struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// kafkaWriter is the part of kafka.Writer the sink needs.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes notifications to a Kafka topic, keyed by recipient so
// mail to one address stays ordered.
type KafkaSink struct {
	writer kafkaWriter
	now    func() time.Time
}

// NewKafkaSink builds a sink writing to the topic on the given brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		now: time.Now,
	}
}

func (s *KafkaSink) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(Message{
		To:      to,
		Subject: subject,
		Body:    body,
		SentAt:  s.now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(to),
		Value: payload,
	})
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	if w, ok := s.writer.(*kafka.Writer); ok {
		return w.Close()
	}
	return nil
}
