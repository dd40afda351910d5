package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/snappy-loop/aivsjobs/internal/models"
)

// messageReader is the subset of *kafka.Reader used by Consumer; tests substitute a fake.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer wraps a Kafka consumer of run events
type Consumer struct {
	reader  messageReader
	handler RunHandler

	baseDelay  time.Duration
	maxDelay   time.Duration
	maxRetries int
}

// RunHandler processes run events
type RunHandler interface {
	HandleRun(ctx context.Context, ev *models.RunEvent) error
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string, handler RunHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1e6,
		CommitInterval: 0, // manual commits
		StartOffset:    kafka.FirstOffset,
	})

	log.Info().
		Strs("brokers", brokers).
		Str("topic", topic).
		Str("group_id", groupID).
		Msg("Kafka consumer initialized")

	return newConsumer(reader, handler)
}

func newConsumer(reader messageReader, handler RunHandler) *Consumer {
	return &Consumer{
		reader:     reader,
		handler:    handler,
		baseDelay:  time.Second,
		maxDelay:   time.Minute,
		maxRetries: 5,
	}
}

// Start consumes messages until ctx is cancelled.
// A message that still fails after maxRetries attempts is committed and skipped.
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().Msg("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Failed to fetch message")
			continue
		}

		var lastErr error
		for attempt := 0; attempt < c.maxRetries; attempt++ {
			if lastErr = c.processMessage(ctx, msg); lastErr == nil {
				break
			}
			log.Error().
				Err(lastErr).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Int("attempt", attempt+1).
				Msg("Failed to process message - will retry")

			delay := c.baseDelay * time.Duration(1<<uint(attempt))
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if lastErr != nil {
			log.Error().
				Err(lastErr).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Message processing failed after all retries - skipping")
		}

		// Handlers must be idempotent: a failed commit means redelivery on restart.
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("Failed to commit message")
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var ev models.RunEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		// retrying cannot fix a malformed payload
		log.Warn().Err(err).Int64("offset", msg.Offset).Msg("Dropping malformed run event")
		return nil
	}
	if err := c.handler.HandleRun(ctx, &ev); err != nil {
		return fmt.Errorf("handler error: %w", err)
	}
	log.Debug().
		Str("session_id", ev.SessionID.String()).
		Uint64("seq", ev.Seq).
		Str("outcome", ev.Outcome).
		Msg("Run event processed")
	return nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	return c.reader.Close()
}
