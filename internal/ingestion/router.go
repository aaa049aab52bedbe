package ingestion

import (
	"context"
	"log/slog"

	"followup/internal/platform/kafka/consumer"
)

// Router dispatches records to topic-specific handlers so one consumer group
// can serve several topics.
type Router struct {
	handlers map[string]consumer.Handler
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[string]consumer.Handler),
		logger:   logger,
	}
}

// Register adds a handler for topic, replacing any earlier one.
func (r *Router) Register(topic string, handler consumer.Handler) *Router {
	r.handlers[topic] = handler
	return r
}

// Topics lists the registered topics.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	return topics
}

func (r *Router) Handle(ctx context.Context, msg *consumer.Message) error {
	handler, ok := r.handlers[msg.Topic]
	if !ok {
		r.logger.WarnContext(ctx, "no handler for topic, skipping record",
			"topic", msg.Topic,
			"offset", msg.Offset,
		)
		return nil // commit to avoid redelivery
	}
	return handler.Handle(ctx, msg)
}
