package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/freelance-notify/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

var ErrPublishFailed = errors.New("publish failed")

var errNoBrokers = errors.New("no kafka brokers configured")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	Brokers      string
	BatchTimeout time.Duration
	MaxAttempts  int
	// Sync makes Publish wait for the broker acknowledgement. Tools use it; services don't.
	Sync bool
}

// Publisher writes change envelopes to the broker. Failures are logged and returned,
// never raised past the caller.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewPublisher(logger *slog.Logger, cfg PublisherConfig) *Publisher {
	p := &Publisher{logger: logger}
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		logger.Warn("change publisher disabled (no kafka brokers configured)")
		return p
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  cfg.MaxAttempts,
		BatchTimeout: cfg.BatchTimeout,
		Async:        !cfg.Sync,
	}
	if w.Async {
		w.Completion = p.onCompletion
	}
	p.writer = w
	return p
}

func newPublisher(logger *slog.Logger, w messageWriter) *Publisher {
	return &Publisher{writer: w, logger: logger}
}

// Publish resolves the topic for (entity kind, change) and writes the snapshot keyed by entity id,
// so changes of one entity land on one partition in call order.
func (p *Publisher) Publish(ctx context.Context, entity Entity, change ChangeKind) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = p.fail("", "", fmt.Errorf("%w: %v", ErrMalformedPayload, r))
		}
	}()
	if isNil(entity) {
		return p.fail("", "", fmt.Errorf("%w: nil entity", ErrMalformedPayload))
	}
	env, err := NewEnvelope(entity, change)
	if err != nil {
		return p.fail(string(entity.EntityKind())+"/"+string(change), entity.EntityID(), err)
	}
	if p.writer == nil {
		return p.fail(env.Topic.String(), env.Key, errNoBrokers)
	}

	msg := kafka.Message{
		Topic: env.Topic.String(),
		Key:   []byte(env.Key),
		Value: env.Payload,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(uuid.NewString())},
			{Key: kafkax.HeaderEventType, Value: []byte(env.Topic.String())},
			{Key: kafkax.HeaderEntityKind, Value: []byte(env.Topic.Entity())},
			{Key: kafkax.HeaderChangeKind, Value: []byte(env.Topic.Change())},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return p.fail(env.Topic.String(), env.Key, err)
	}
	p.logger.Debug("change published", "topic", msg.Topic, "entity_id", env.Key)
	return nil
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func (p *Publisher) fail(topic, entityID string, err error) error {
	p.logger.Warn("change publish failed",
		"event", "PublishFailed",
		"topic", topic,
		"entity_id", entityID,
		"err", err,
	)
	return fmt.Errorf("%w: %w", ErrPublishFailed, err)
}

func (p *Publisher) onCompletion(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range messages {
		p.logger.Warn("change publish failed",
			"event", "PublishFailed",
			"topic", m.Topic,
			"entity_id", string(m.Key),
			"event_id", kafkax.HeaderValue(m.Headers, kafkax.HeaderEventID),
			"err", err,
		)
	}
}
