package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TopicChatSessions carries the session lifecycle events every chat session
// publishes: request and response activity plus change set updates. The
// auto-saver subscribes here to schedule persistence.
const TopicChatSessions = "chat.sessions"

type EventType string

const (
	EventTypeSessionCreated    EventType = "sessionCreated"
	EventTypeSessionDeleted    EventType = "sessionDeleted"
	EventTypeRequestAdded      EventType = "requestAdded"
	EventTypeResponseCompleted EventType = "responseCompleted"
	EventTypeResponseError     EventType = "responseError"
	EventTypeChangeSetUpdated  EventType = "changeSetUpdated"
)

// SessionEvent is the JSON payload published on TopicChatSessions.
type SessionEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	RequestID string    `json:"requestId,omitempty"`
	Time      time.Time `json:"time"`
}

func NewSessionEvent(eventType EventType, sessionID string) SessionEvent {
	return SessionEvent{
		Type:      eventType,
		SessionID: sessionID,
		Time:      time.Now(),
	}
}

func (e SessionEvent) WithRequestID(requestID string) SessionEvent {
	e.RequestID = requestID
	return e
}

// ToMessage wraps the event into a watermill message with a fresh uuid.
func (e SessionEvent) ToMessage() (*message.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal session event")
	}
	return message.NewMessage(uuid.NewString(), payload), nil
}

// ParseSessionEvent decodes a session event from a message payload.
func ParseSessionEvent(payload []byte) (SessionEvent, error) {
	event := SessionEvent{}
	if err := json.Unmarshal(payload, &event); err != nil {
		return SessionEvent{}, errors.Wrap(err, "failed to unmarshal session event")
	}
	if event.Type == "" {
		return SessionEvent{}, errors.New("session event has no type")
	}
	return event, nil
}
