// Package notify publishes alert events to external channels.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"borderwatch/internal/config"
	"borderwatch/internal/model"
)

// KafkaPublisher writes one JSON message per alert event. Delivery is
// best effort; a failed write is logged and dropped, matching the
// fire-and-forget notification contract.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 5 * time.Second,
		Async:        false,
	}
	if logger != nil {
		logger.Info("kafka alert publisher enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev model.AlertEvent) {
	// The image payload stays local; external consumers get the record
	// reference and fetch the snapshot through the API if needed.
	slim := ev
	slim.Image = nil
	value, err := json.Marshal(slim)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("kafka encode failed", "err", err)
		}
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.ID),
		Value: value,
		Time:  ev.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		if ctx.Err() == nil && p.logger != nil {
			p.logger.Warn("kafka publish failed", "err", err, "alert_id", ev.ID)
		}
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
