package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// MessageHandler is called for each message received from Kafka
type MessageHandler func(ctx context.Context, msg *ReceivedMessage) error

type ReceivedMessage struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// StartOffset applies to groups with no committed offset
	StartOffset    int64
	CommitInterval time.Duration
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a topic through a consumer group and commits every message after
// the handler has seen it, whether or not it succeeded.
type Consumer struct {
	reader  messageReader
	logger  ectologger.Logger
	config  ConsumerConfig
	handler MessageHandler
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running bool
	mu      sync.Mutex
}

func NewConsumer(config ConsumerConfig, logger ectologger.Logger) (*Consumer, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if config.GroupID == "" {
		return nil, fmt.Errorf("group ID is required")
	}
	if config.StartOffset == 0 {
		config.StartOffset = kafka.LastOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MaxWait:        time.Second,
		CommitInterval: config.CommitInterval,
		StartOffset:    config.StartOffset,
	})

	return newConsumer(reader, config, logger), nil
}

func newConsumer(reader messageReader, config ConsumerConfig, logger ectologger.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		logger: logger,
		config: config,
	}
}

// Start begins consuming in the background until Stop is called.
func (c *Consumer) Start(ctx context.Context, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.handler = handler

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.Infof("Kafka consumer started for topic %s (group: %s)", c.config.Topic, c.config.GroupID)
	return nil
}

func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}

	c.logger.Info("Kafka consumer stopped")
	return nil
}

// handle runs the handler inside a span continuing the producer's trace
func (c *Consumer) handle(ctx context.Context, msg *ReceivedMessage) {
	ctx, span := tracing.StartSpan(tracing.FromHeaders(ctx, msg.Headers), "Kafka.Consume")
	defer span.End()

	if err := c.handler(ctx, msg); err != nil {
		span.RecordError(err)
		metrics.RecordKafkaConsume(msg.Topic, "error")
		c.logger.WithContext(ctx).WithError(err).Errorf("Handler failed for message at offset %d", msg.Offset)
		return
	}
	metrics.RecordKafkaConsume(msg.Topic, "success")
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.logger.WithError(err).Error("Failed to fetch message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		received := &ReceivedMessage{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Headers:   make(map[string]string, len(msg.Headers)),
		}
		for _, h := range msg.Headers {
			received.Headers[h.Key] = string(h.Value)
		}

		c.handle(ctx, received)

		// committed either way so one bad message cannot stall the partition
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Errorf("Failed to commit message at offset %d", msg.Offset)
		}
	}
}
