// Package consumer runs at-least-once Kafka consumer loops.
//
// Records of one poll are handled sequentially and offsets are committed only
// after the whole batch succeeded. A failing handler is retried with
// exponential backoff until it succeeds or the loop is shut down; an
// interrupted batch is never committed and is redelivered after restart.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"followup/internal/platform/metrics"
	"followup/pkg/requestcontext"
)

// Message is one inbound record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes one message. Returning nil commits it; returning an
// error retries it. Handlers must be idempotent.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Config configures one consumer group loop.
type Config struct {
	Brokers  []string
	Group    string
	Topics   []string
	ClientID string
	// MaxBackoff caps the delay between handler retries.
	MaxBackoff time.Duration
}

// client is the subset of *kgo.Client the loop needs.
type client interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitUncommittedOffsets(ctx context.Context) error
	AllowRebalance()
	Close()
}

type Consumer struct {
	client     client
	handler    Handler
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	newBackOff func() backoff.BackOff
	group      string
}

type Option func(*Consumer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// WithBackOff overrides the retry policy. Tests only.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Consumer) {
		c.newBackOff = fn
	}
}

// New connects a consumer group client with auto-commit disabled.
func New(cfg Config, handler Handler, opts ...Option) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Group == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("consumer: brokers, group and topics are required")
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("consumer: create client: %w", err)
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = time.Minute
	}
	c := newConsumer(cl, cfg.Group, handler, opts...)
	if c.newBackOff == nil {
		c.newBackOff = defaultBackOff(maxBackoff)
	}
	return c, nil
}

func newConsumer(cl client, group string, handler Handler, opts ...Option) *Consumer {
	c := &Consumer{
		client:  cl,
		handler: handler,
		group:   group,
		tracer:  otel.Tracer("followup/kafka/consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.newBackOff == nil {
		c.newBackOff = defaultBackOff(time.Minute)
	}
	return c
}

func defaultBackOff(maxInterval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = maxInterval
		b.MaxElapsedTime = 0
		return b
	}
}

// Run polls until ctx is cancelled. It returns nil on orderly shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "consumer started", "group", c.group)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			c.logger.InfoContext(ctx, "consumer stopping", "group", c.group)
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.ErrorContext(ctx, "fetch error",
				"group", c.group,
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		if err := c.processBatch(ctx, fetches); err != nil {
			// Only shutdown interrupts a batch; leave it uncommitted.
			c.logger.WarnContext(ctx, "batch abandoned on shutdown", "group", c.group, "error", err)
			return nil
		}
		c.client.AllowRebalance()
	}
}

// processBatch handles every record and commits once at the end.
func (c *Consumer) processBatch(ctx context.Context, fetches kgo.Fetches) error {
	n := fetches.NumRecords()
	if n == 0 {
		return nil
	}
	ctx, span := c.tracer.Start(ctx, "kafka.consume_batch", trace.WithAttributes(
		attribute.String("messaging.consumer.group.name", c.group),
		attribute.Int("messaging.batch.message_count", n),
	))
	defer span.End()

	batchCtx := requestcontext.WithTime(ctx, time.Now().UTC())
	iter := fetches.RecordIter()
	for !iter.Done() {
		rec := iter.Next()
		msg := &Message{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       rec.Key,
			Value:     rec.Value,
			Timestamp: rec.Timestamp,
		}
		if err := c.handleWithRetry(batchCtx, msg); err != nil {
			span.SetStatus(codes.Error, "batch interrupted")
			return err
		}
		c.metrics.IncRecordConsumed(msg.Topic)
	}

	if err := c.client.CommitUncommittedOffsets(context.WithoutCancel(ctx)); err != nil {
		// Records are redelivered; handlers are idempotent.
		c.logger.ErrorContext(ctx, "commit failed", "group", c.group, "error", err)
		span.RecordError(err)
	}
	return nil
}

// handleWithRetry calls the handler on a context that is not cancelled by
// shutdown, so an in-flight call completes. Retries stop when ctx is done.
func (c *Consumer) handleWithRetry(ctx context.Context, msg *Message) error {
	handlerCtx := context.WithoutCancel(ctx)
	op := func() error {
		return c.handler.Handle(handlerCtx, msg)
	}
	notify := func(err error, next time.Duration) {
		c.metrics.IncHandlerRetry(msg.Topic)
		c.logger.ErrorContext(ctx, "handler failed, retrying",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"retry_in", next.String(),
			"error", err,
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
}

// Close releases the client. Call after Run returned.
func (c *Consumer) Close() {
	c.client.Close()
}
