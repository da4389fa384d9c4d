package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

// ErrDisabled is returned by Publish when no brokers are configured.
var ErrDisabled = errors.New("kafka disabled")

const publishBatchTimeout = 10 * time.Millisecond

// Bus publishes envelopes to Kafka, one topic per event type.
type Bus struct {
	brokers []string
	writer  *kafka.Writer
}

// NewBus creates a bus over brokers. An empty list yields a disabled bus.
func NewBus(brokers []string) *Bus {
	b := &Bus{brokers: brokers}
	if len(brokers) > 0 {
		b.writer = &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			// Request-path publishes are single messages; flush them
			// without waiting for a batch to fill.
			BatchTimeout: publishBatchTimeout,
		}
	}
	return b
}

// Enabled reports whether brokers were configured.
func (b *Bus) Enabled() bool {
	return len(b.brokers) > 0
}

// Publish writes env to the topic named after its type.
func (b *Bus) Publish(ctx context.Context, key string, env Envelope) error {
	if !b.Enabled() {
		return ErrDisabled
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", env.EventID, err)
	}
	msg := kafka.Message{Topic: env.Type, Key: []byte(key), Value: data, Time: time.Now().UTC()}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", env.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (b *Bus) Close() error {
	if b.writer == nil {
		return nil
	}
	return b.writer.Close()
}

// NewConsumer builds a consumer-group reader for topic.
func (b *Bus) NewConsumer(topic, groupID string, handler Handler, policy RetryPolicy) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return NewConsumer(topic, reader, handler, policy)
}

// MessageReader is the subset of *kafka.Reader a Consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RetryPolicy bounds redelivery of a failing message.
type RetryPolicy struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnExhausted is called once a message has failed MaxAttempts times,
	// before its offset is committed.
	OnExhausted func(ctx context.Context, env Envelope, err error)
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	return b
}

// Permanent marks a handler error that must not be retried.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Consumer reads messages, hands them to a Handler with bounded retries and
// commits the offset afterwards. A message is committed only after the
// handler succeeded or gave up, so a crash redelivers it.
type Consumer struct {
	topic   string
	reader  MessageReader
	handler Handler
	policy  RetryPolicy
}

// NewConsumer wires a reader to a handler.
func NewConsumer(topic string, reader MessageReader, handler Handler, policy RetryPolicy) *Consumer {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}
	return &Consumer{topic: topic, reader: reader, handler: handler, policy: policy}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[CONSUMER] topic=%s read error: %v", c.topic, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[CONSUMER] topic=%s commit error at offset %d: %v", c.topic, msg.Offset, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil || env.EventID == "" {
		log.Printf("[CONSUMER] topic=%s dropping undecodable message at offset %d: %v", c.topic, msg.Offset, err)
		return
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, c.handler(ctx, env)
	},
		backoff.WithBackOff(c.policy.backOff()),
		backoff.WithMaxTries(c.policy.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Printf("[CONSUMER] topic=%s event_id=%s attempt=%d failed, retrying in %s: %v",
				c.topic, env.EventID, attempt, wait, err)
		}),
	)
	if err == nil {
		return
	}

	log.Printf("[CONSUMER] topic=%s event_id=%s giving up after %d attempt(s): %v", c.topic, env.EventID, attempt, err)
	if c.policy.OnExhausted != nil {
		c.policy.OnExhausted(ctx, env, err)
	}
}
