package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
)

func testKafkaConfig() *config.KafkaConfig {
	return &config.KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		RatingTopic:  "rating-updates",
		GameTopic:    "game-results",
		GroupID:      "test",
		BatchSize:    2,
		BatchTimeout: time.Second,
	}
}

func TestPublisherSendsRatingUpdates(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, ProducerConfig())
	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "rating-updates" {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "alice" {
			return fmt.Errorf("unexpected key %q", key)
		}
		return nil
	})
	producer.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var summary domain.GameSummary
		if err := json.Unmarshal(val, &summary); err != nil {
			return err
		}
		if summary.GameID != "g1" || summary.Result != "1-0" {
			return fmt.Errorf("unexpected summary %+v", summary)
		}
		return nil
	})

	p := NewPublisherWithProducer(testKafkaConfig(), producer, zap.NewNop())
	p.RatingUpdated(domain.RatingUpdate{Username: "alice", Rating: 1612.3, RD: 80, Vol: 0.06})
	p.GameFinished(domain.GameSummary{GameID: "g1", White: "alice", Black: "bob", Result: "1-0"})

	require.NoError(t, p.Close())
}

type recordingHandler struct {
	mu      sync.Mutex
	batches [][]domain.RatingUpdate
	err     error
}

func (h *recordingHandler) ApplyRatingUpdates(_ context.Context, updates []domain.RatingUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, append([]domain.RatingUpdate(nil), updates...))
	return h.err
}

func message(t *testing.T, offset int64, v any) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "rating-updates", Offset: offset, Value: data}
}

func TestBatcherFlushesFullBatches(t *testing.T) {
	h := &recordingHandler{}
	b := newBatcher(testKafkaConfig(), h, zap.NewNop())

	assert.False(t, b.add(message(t, 0, domain.RatingUpdate{Username: "alice", Rating: 1510})))
	assert.True(t, b.add(message(t, 1, domain.RatingUpdate{Username: "bob", Rating: 1490})))
	assert.False(t, b.add(message(t, 2, domain.RatingUpdate{Username: "carol", Rating: 1700})))

	require.Len(t, h.batches, 1)
	assert.Equal(t, "alice", h.batches[0][0].Username)
	assert.Equal(t, "bob", h.batches[0][1].Username)

	b.flush()
	require.Len(t, h.batches, 2)
	assert.Equal(t, "carol", h.batches[1][0].Username)

	b.flush()
	assert.Len(t, h.batches, 2)
}

func TestBatcherSkipsInvalidMessages(t *testing.T) {
	h := &recordingHandler{}
	b := newBatcher(testKafkaConfig(), h, zap.NewNop())

	b.add(&sarama.ConsumerMessage{Value: []byte("{not json")})
	b.add(message(t, 1, domain.RatingUpdate{Username: ""}))
	b.add(message(t, 2, domain.RatingUpdate{Username: domain.AnonymousUsername}))
	b.flush()

	assert.Empty(t, h.batches)
}

func TestBatcherDropsBatchOnHandlerError(t *testing.T) {
	h := &recordingHandler{err: assert.AnError}
	b := newBatcher(testKafkaConfig(), h, zap.NewNop())

	b.add(message(t, 0, domain.RatingUpdate{Username: "alice"}))
	b.flush()
	b.flush()

	assert.Len(t, h.batches, 1)
}
