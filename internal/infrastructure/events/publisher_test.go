package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	"github.com/rail-service/settlement_service/internal/infrastructure/config"
	"github.com/rail-service/settlement_service/pkg/logger"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	w := &captureWriter{}
	p := NewPublisherWithWriter(w, logger.NewNop())
	event := entities.SettlementEvent{
		SettlementID: uuid.New(),
		UserRef:      "user-1",
		From:         entities.SettlementStatusConverting,
		To:           entities.SettlementStatusPayoutInitiated,
		OccurredAt:   time.Now().UTC(),
	}

	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, event.SettlementID.String(), string(w.msgs[0].Key))
	assert.Equal(t, "settlement.payout_initiated", string(w.msgs[0].Headers[0].Value))

	var decoded entities.SettlementEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, event.To, decoded.To)
	assert.Equal(t, "user-1", decoded.UserRef)

	require.NoError(t, p.Shutdown(time.Second))
	assert.True(t, w.closed)
}

func TestPublish_WriterError(t *testing.T) {
	p := NewPublisherWithWriter(&captureWriter{err: errors.New("broker down")}, logger.NewNop())
	err := p.Publish(context.Background(), entities.SettlementEvent{SettlementID: uuid.New()})
	assert.ErrorContains(t, err, "broker down")
}

func TestNewPublisher_Unconfigured(t *testing.T) {
	p := NewPublisher(config.KafkaConfig{}, logger.NewNop())
	assert.NoError(t, p.Publish(context.Background(), entities.SettlementEvent{SettlementID: uuid.New()}))
	assert.NoError(t, p.Shutdown(time.Second))
}
