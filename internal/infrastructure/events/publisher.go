// Package events publishes settlement status changes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	"github.com/rail-service/settlement_service/internal/infrastructure/config"
	"github.com/rail-service/settlement_service/pkg/logger"
)

// MessageWriter is the part of kafka.Writer the publisher uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per settlement status change, keyed by
// settlement id so a settlement's events stay ordered within a partition.
type Publisher struct {
	writer MessageWriter
	logger *logger.Logger
}

// NewPublisher builds a Kafka publisher. With no brokers configured it
// returns a publisher that only logs.
func NewPublisher(cfg config.KafkaConfig, log *logger.Logger) *Publisher {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		log.Info("Kafka not configured, settlement events will only be logged")
		return &Publisher{logger: log}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn("Kafka writer error", "detail", fmt.Sprintf(msg, args...))
		}),
	}
	return NewPublisherWithWriter(writer, log)
}

// NewPublisherWithWriter wraps an existing writer
func NewPublisherWithWriter(writer MessageWriter, log *logger.Logger) *Publisher {
	return &Publisher{writer: writer, logger: log}
}

// Publish sends the event
func (p *Publisher) Publish(ctx context.Context, event entities.SettlementEvent) error {
	if p.writer == nil {
		p.logger.Debug("Settlement event",
			"settlement_id", event.SettlementID.String(),
			"from", string(event.From),
			"to", string(event.To))
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal settlement event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.SettlementID.String()),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("settlement." + string(event.To))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish settlement event: %w", err)
	}
	return nil
}

// Shutdown flushes and closes the writer
func (p *Publisher) Shutdown(timeout time.Duration) error {
	if p.writer == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- p.writer.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("kafka writer close timed out after %s", timeout)
	}
}
