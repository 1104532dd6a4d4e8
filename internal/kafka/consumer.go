package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
)

// RatingHandler applies batches of rating updates
type RatingHandler interface {
	ApplyRatingUpdates(ctx context.Context, updates []domain.RatingUpdate) error
}

// Consumer consumes rating updates from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       RatingHandler
	logger        *zap.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler RatingHandler, logger *zap.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		zap.Strings("brokers", c.config.Brokers),
		zap.String("topic", c.config.RatingTopic),
		zap.String("group_id", c.config.GroupID),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.RatingTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", zap.Error(err))
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", zap.Error(err))
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	b := newBatcher(h.consumer.config, h.consumer.handler, h.consumer.logger)
	batchTimer := time.NewTimer(h.consumer.config.BatchTimeout)
	defer batchTimer.Stop()

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			b.flush()
			return nil

		case <-batchTimer.C:
			b.flush()
			batchTimer.Reset(h.consumer.config.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				b.flush()
				return nil
			}

			if b.add(message) {
				batchTimer.Reset(h.consumer.config.BatchTimeout)
			}
			session.MarkMessage(message, "")
		}
	}
}

// batcher collects decoded rating updates until a batch is full
type batcher struct {
	config  *config.KafkaConfig
	handler RatingHandler
	logger  *zap.Logger
	batch   []domain.RatingUpdate
}

func newBatcher(cfg *config.KafkaConfig, handler RatingHandler, logger *zap.Logger) *batcher {
	return &batcher{
		config:  cfg,
		handler: handler,
		logger:  logger,
		batch:   make([]domain.RatingUpdate, 0, cfg.BatchSize),
	}
}

// add decodes one message into the batch and reports whether it flushed
func (b *batcher) add(message *sarama.ConsumerMessage) bool {
	var update domain.RatingUpdate
	if err := json.Unmarshal(message.Value, &update); err != nil {
		b.logger.Warn("failed to unmarshal message",
			zap.Error(err),
			zap.Int64("offset", message.Offset),
			zap.Int32("partition", message.Partition),
		)
		return false
	}

	// Validate update
	if update.Username == "" || update.Username == domain.AnonymousUsername {
		b.logger.Warn("invalid rating update", zap.String("username", update.Username))
		return false
	}

	b.batch = append(b.batch, update)
	if len(b.batch) >= b.config.BatchSize {
		b.flush()
		return true
	}
	return false
}

func (b *batcher) flush() {
	if len(b.batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.handler.ApplyRatingUpdates(ctx, b.batch); err != nil {
		b.logger.Error("failed to process batch", zap.Error(err), zap.Int("batch_size", len(b.batch)))
	} else {
		b.logger.Debug("processed batch", zap.Int("batch_size", len(b.batch)))
	}

	b.batch = make([]domain.RatingUpdate, 0, b.config.BatchSize)
}
