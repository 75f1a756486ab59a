package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"playzone-consent/models"
	"playzone-consent/utils"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsentConsumer keeps the search index in step with consent events.
type ConsentConsumer struct {
	es     utils.ElasticsearchClient
	cache  utils.RedisClient
	reader MessageReader
	logger *slog.Logger

	retryDelay time.Duration
	wg         sync.WaitGroup
	cancel     context.CancelFunc
}

func NewKafkaReader(broker, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: groupID,
		MaxWait: 10 * time.Second,
	})
}

// NewConsentConsumer builds a consumer. cache may be nil.
func NewConsentConsumer(reader MessageReader, es utils.ElasticsearchClient, cache utils.RedisClient, logger *slog.Logger) *ConsentConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsentConsumer{
		es:         es,
		cache:      cache,
		reader:     reader,
		logger:     logger.With("component", "consent-consumer"),
		retryDelay: 5 * time.Second,
	}
}

func (c *ConsentConsumer) Start(ctx context.Context) {
	c.logger.Info("starting Kafka consumer")
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for ctx.Err() == nil {
			c.processMessage(ctx)
		}
	}()
}

func (c *ConsentConsumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		c.logger.Error("error closing Kafka reader", "error", err)
	}
}

func (c *ConsentConsumer) processMessage(ctx context.Context) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("Kafka read error, will retry", "error", err)
		c.sleep(ctx)
		return
	}

	if err := c.handle(ctx, msg); err != nil {
		// left uncommitted so the message is redelivered
		c.logger.Error("failed to process consent event", "offset", msg.Offset, "error", err)
		c.sleep(ctx)
		return
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		c.logger.Warn("failed to commit Kafka offset", "offset", msg.Offset, "error", err)
	}
}

func (c *ConsentConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var event models.ConsentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// a malformed message never gets better; skip it
		c.logger.Error("failed to unmarshal Kafka message", "error", err)
		return nil
	}

	switch event.Event {
	case models.EventConsentSubmitted:
		return c.handleConsentSubmitted(ctx, event.Data)
	case models.EventConsentDeleted:
		return c.handleConsentDeleted(ctx, event.Data)
	default:
		c.logger.Warn("unknown event type", "event", event.Event)
		return nil
	}
}

func (c *ConsentConsumer) handleConsentSubmitted(ctx context.Context, doc models.ConsentDocument) error {
	if doc.ID == "" {
		return errors.New("consent event without id")
	}
	if err := c.es.IndexConsent(ctx, doc); err != nil {
		return fmt.Errorf("index consent %s: %w", doc.ID, err)
	}
	c.logger.Info("indexed consent", "consent_id", doc.ID, "children", len(doc.Children))
	return nil
}

func (c *ConsentConsumer) handleConsentDeleted(ctx context.Context, doc models.ConsentDocument) error {
	if c.cache != nil && doc.Mobile != "" {
		if err := c.cache.DeleteFromCache(ctx, "consent:mobile:"+doc.Mobile); err != nil {
			c.logger.Warn("failed to drop cached consent", "error", err)
		}
	}
	if err := c.es.DeleteConsent(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete consent %s: %w", doc.ID, err)
	}
	c.logger.Info("removed consent from index", "consent_id", doc.ID)
	return nil
}

func (c *ConsentConsumer) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.retryDelay):
	}
}
