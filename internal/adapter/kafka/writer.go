// Package kafka publishes pull run lifecycle events so downstream
// consumers (alerting, cache warmers) can react without polling the
// execution log table.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/rivermark/streamflow-pull/internal/config"
	"github.com/rivermark/streamflow-pull/internal/domain"
)

// Publisher produces run completion events to a Kafka topic.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured run-event topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaRunTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishRunCompleted emits one event per finished run. Skipped runs are
// not published; nothing happened that a consumer could act on.
func (p *Publisher) PublishRunCompleted(ctx context.Context, result domain.RunResult) error {
	if result.Status == domain.RunStatusSkipped {
		return nil
	}
	msg, err := serializeRunEvent(result)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	p.logger.Debug("run event published",
		"config_id", result.ConfigurationID,
		"kind", result.Kind,
		"status", result.Status)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeRunEvent marshals a RunResult into a Kafka message keyed by
// configuration so per-config ordering is preserved across partitions.
func serializeRunEvent(result domain.RunResult) (kafkago.Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.FormatInt(result.ConfigurationID, 10)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(result.Kind)},
			{Key: "status", Value: []byte(result.Status)},
		},
	}, nil
}
