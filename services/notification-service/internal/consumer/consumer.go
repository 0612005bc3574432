package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/freelance-notify/libs/changes"
	"github.com/md-rashed-zaman/freelance-notify/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes one record to completion. It reports failures itself; the record is
// committed whatever happens inside.
type Handler func(ctx context.Context, msg kafka.Message)

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers string
	GroupID string
	Topics  []changes.Topic
	// QueueSize bounds the records buffered per partition worker.
	QueueSize int
	// RetryAfter is the pause after a failed fetch.
	RetryAfter time.Duration
}

type Consumer struct {
	reader     reader
	logger     *slog.Logger
	handler    Handler
	queueSize  int
	retryAfter time.Duration
}

const commitTimeout = 5 * time.Second

func New(logger *slog.Logger, cfg Config, handler Handler) *Consumer {
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = changes.Topics()
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: changes.TopicNames(topics),
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(func(format string, args ...any) {
			logger.Warn("kafka reader", "detail", fmt.Sprintf(format, args...))
		}),
	})
	return newConsumer(logger, r, cfg, handler)
}

func newConsumer(logger *slog.Logger, r reader, cfg Config, handler Handler) *Consumer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Second
	}
	return &Consumer{
		reader:     r,
		logger:     logger,
		handler:    handler,
		queueSize:  cfg.QueueSize,
		retryAfter: cfg.RetryAfter,
	}
}

type partitionKey struct {
	topic     string
	partition int
}

// Run fetches until ctx is cancelled. Records of one partition are handled by one worker in
// order; partitions run concurrently. On cancellation the record each worker is busy with
// finishes and is committed, queued records are left for redelivery, then the reader closes.
func (c *Consumer) Run(ctx context.Context) {
	workers := map[partitionKey]chan kafka.Message{}
	var wg sync.WaitGroup
	defer func() {
		for _, ch := range workers {
			close(ch)
		}
		wg.Wait()
		if err := c.reader.Close(); err != nil {
			c.logger.Error("kafka reader close failed", "err", err)
		}
		c.logger.Info("change consumer stopped")
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryAfter):
			}
			continue
		}

		key := partitionKey{topic: msg.Topic, partition: msg.Partition}
		ch, ok := workers[key]
		if !ok {
			ch = make(chan kafka.Message, c.queueSize)
			workers[key] = ch
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.work(ctx, ch)
			}()
		}
		select {
		case ch <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context, ch <-chan kafka.Message) {
	for msg := range ch {
		if ctx.Err() != nil {
			continue
		}
		c.handle(context.WithoutCancel(ctx), msg)
		c.commit(context.WithoutCancel(ctx), msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ctx = kafkax.ExtractTraceContext(ctx, msg)
	ctx, span := otel.Tracer("kafka").Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()
	c.handler(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	ctx, cancel := context.WithTimeout(ctx, commitTimeout)
	defer cancel()
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("kafka commit failed",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"err", err,
		)
	}
}
