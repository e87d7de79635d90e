package session

import (
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
)

// DefaultSaveDelay is how long the auto-saver waits after the last activity
// before persisting.
const DefaultSaveDelay = time.Second

// Saver persists serialized sessions; the file store implements it.
type Saver interface {
	StoreSessions(sessions ...chat.SerializedChatData) error
}

// Source produces the sessions to persist; the session service implements
// it.
type Source interface {
	SerializeSessions() []chat.SerializedChatData
}

// AutoSaver persists sessions on a debounced trailing edge after activity.
// Several triggers within the delay window coalesce into a single store
// call.
type AutoSaver struct {
	mu     sync.Mutex
	saver  Saver
	source Source
	delay  time.Duration
	timer  *time.Timer
}

type AutoSaverOption func(*AutoSaver)

func WithSaveDelay(delay time.Duration) AutoSaverOption {
	return func(a *AutoSaver) { a.delay = delay }
}

func NewAutoSaver(saver Saver, source Source, options ...AutoSaverOption) *AutoSaver {
	a := &AutoSaver{
		saver:  saver,
		source: source,
		delay:  DefaultSaveDelay,
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// Attach subscribes the auto-saver to the session event stream. Must be
// called before the router runs.
func (a *AutoSaver) Attach(router *events.EventRouter) {
	router.AddHandler("auto-save", events.TopicChatSessions, a.handleMessage)
}

func (a *AutoSaver) handleMessage(msg *message.Message) error {
	event, err := events.ParseSessionEvent(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.UUID).Msg("ignoring unparseable session event")
		return nil
	}

	switch event.Type {
	case events.EventTypeResponseCompleted, events.EventTypeResponseError, events.EventTypeChangeSetUpdated:
		a.Schedule()
	}
	return nil
}

// Schedule arms the save timer, restarting it when already armed.
func (a *AutoSaver) Schedule() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, func() {
		if err := a.save(); err != nil {
			log.Error().Err(err).Msg("auto-save failed")
		}
	})
}

// Flush cancels any pending timer and persists immediately.
func (a *AutoSaver) Flush() error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	return a.save()
}

func (a *AutoSaver) save() error {
	return a.saver.StoreSessions(a.source.SerializeSessions()...)
}
