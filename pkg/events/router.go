package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// EventRouter ties a gochannel pubsub to a watermill router. Publishing
// blocks until every subscriber acked the message, so a handler registered
// before Run is guaranteed to observe events published afterwards.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		r.logger = NewWatermillLogger(log.Logger)
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = CorrelationPublisherDecorator{Publisher: goPubSub}
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("closing publisher")
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close pubsub")
		// not returning just yet
	}

	log.Debug().Msg("closing router")
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close router")
	}

	return nil
}

// AddHandler registers a subscriber-only handler for the topic. Must be
// called before Run.
func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// PublishSessionEvent publishes a session event on the sessions topic. The
// context rides along on the message so the correlation id it carries ends
// up in the message metadata.
func (e *EventRouter) PublishSessionEvent(ctx context.Context, event SessionEvent) error {
	msg, err := event.ToMessage()
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	return e.Publisher.Publish(TopicChatSessions, msg)
}

// DumpRawEvents prints each event payload to stdout, a debugging handler.
func (e *EventRouter) DumpRawEvents(msg *message.Message) error {
	defer msg.Ack()

	s := map[string]interface{}{}
	if err := json.Unmarshal(msg.Payload, &s); err != nil {
		return err
	}
	if e.verbose {
		s["message_id"] = msg.UUID
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

func (e *EventRouter) RunHandlers(ctx context.Context) error {
	return e.router.RunHandlers(ctx)
}
