package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog/log"
)

const correlationIDMessageMetadataKey = "correlation_id"

type correlationIDKeyType string

const correlationIDKey correlationIDKeyType = "correlation_id"

func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext returns the correlation id stored in the context,
// generating a marked one when it is missing.
func CorrelationIDFromContext(ctx context.Context) string {
	v, ok := ctx.Value(correlationIDKey).(string)
	if ok {
		return v
	}

	log.Ctx(ctx).Warn().Msg("correlation ID not found in context")

	// the gen_ prefix distinguishes generated ids from ids passed in by the
	// caller, which helps spot requests that lost theirs
	return "gen_" + shortuuid.New()
}

// EnsureCorrelationID returns ctx unchanged when it already carries a
// correlation id, otherwise stamps it with the given one.
func EnsureCorrelationID(ctx context.Context, correlationID string) context.Context {
	if _, ok := ctx.Value(correlationIDKey).(string); ok {
		return ctx
	}
	return ContextWithCorrelationID(ctx, correlationID)
}

// CorrelationPublisherDecorator stamps outgoing messages with the
// correlation id from their context unless one is already set.
type CorrelationPublisherDecorator struct {
	message.Publisher
}

func (c CorrelationPublisherDecorator) Publish(topic string, messages ...*message.Message) error {
	for i := range messages {
		if messages[i].Metadata.Get(correlationIDMessageMetadataKey) != "" {
			continue
		}
		messages[i].Metadata.Set(correlationIDMessageMetadataKey, CorrelationIDFromContext(messages[i].Context()))
	}

	return c.Publisher.Publish(topic, messages...)
}
