package kafka

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
)

// Publisher sends rating updates and finished game summaries to Kafka.
// Publishing never blocks the caller on the network.
type Publisher struct {
	config   *config.KafkaConfig
	producer sarama.AsyncProducer
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// ProducerConfig returns the sarama settings the publisher runs with
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 100 * time.Millisecond
	cfg.Producer.Flush.Messages = 100
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	return cfg
}

// NewPublisher connects an async producer to the configured brokers
func NewPublisher(cfg *config.KafkaConfig, logger *zap.Logger) (*Publisher, error) {
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, ProducerConfig())
	if err != nil {
		return nil, err
	}
	return NewPublisherWithProducer(cfg, producer, logger), nil
}

// NewPublisherWithProducer wraps an existing producer
func NewPublisherWithProducer(cfg *config.KafkaConfig, producer sarama.AsyncProducer, logger *zap.Logger) *Publisher {
	p := &Publisher{
		config:   cfg,
		producer: producer,
		logger:   logger,
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for msg := range producer.Successes() {
			p.logger.Debug("published message",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
		}
	}()
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.logger.Error("producer error", zap.String("topic", err.Msg.Topic), zap.Error(err.Err))
		}
	}()

	return p
}

// RatingUpdated publishes a closed rating period keyed by username
func (p *Publisher) RatingUpdated(update domain.RatingUpdate) {
	p.send(p.config.RatingTopic, update.Username, update)
}

// GameFinished publishes a finished game keyed by game id
func (p *Publisher) GameFinished(summary domain.GameSummary) {
	p.send(p.config.GameTopic, summary.GameID, summary)
}

func (p *Publisher) send(topic, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("failed to marshal message", zap.String("topic", topic), zap.Error(err))
		return
	}
	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
}

// Close flushes pending messages and shuts the producer down
func (p *Publisher) Close() error {
	err := p.producer.Close()
	p.wg.Wait()
	return err
}
