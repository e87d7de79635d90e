package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
)

// Session pairs a chat model with its service-level metadata.
type Session struct {
	mu sync.Mutex

	model           *chat.Model
	title           string
	pinnedAgentID   string
	lastInteraction time.Time
}

func (s *Session) ID() string         { return s.model.ID() }
func (s *Session) Model() *chat.Model { return s.model }

func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
}

// PinnedAgentID returns the agent this session is pinned to; requests
// without an explicit mention go to the pinned agent.
func (s *Session) PinnedAgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinnedAgentID
}

func (s *Session) PinAgent(agentID string) {
	s.mu.Lock()
	s.pinnedAgentID = agentID
	s.mu.Unlock()
}

func (s *Session) LastInteraction() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInteraction
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastInteraction = time.Now()
	s.mu.Unlock()
}

// ToSerializable snapshots the session into its persisted form.
func (s *Session) ToSerializable() chat.SerializedChatData {
	s.mu.Lock()
	title := s.title
	pinned := s.pinnedAgentID
	lastInteraction := s.lastInteraction
	s.mu.Unlock()

	saveDate := lastInteraction.UnixMilli()
	if lastInteraction.IsZero() {
		saveDate = 0
	}

	return chat.SerializedChatData{
		Version:       chat.ChatDataVersion,
		Title:         title,
		PinnedAgentID: pinned,
		SaveDate:      saveDate,
		Model:         s.model.ToSerializable(),
	}
}

// PendingRequest is a request whose agent is still working. Done closes once
// the response reached a terminal state.
type PendingRequest struct {
	Request *chat.RequestModel
	done    chan struct{}
}

func (p *PendingRequest) Done() <-chan struct{} { return p.done }

// Service owns the live chat sessions: creation, restoration, request
// dispatching to agents, and deletion. Session lifecycle events go out
// through the event router so observers like the auto-saver can react.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session
	active   string

	agents         chat.AgentLookup
	parser         *chat.Parser
	router         *events.EventRouter
	defaultAgentID string
}

type ServiceOption func(*Service)

func WithAgentLookup(agents chat.AgentLookup) ServiceOption {
	return func(s *Service) { s.agents = agents }
}

func WithParser(parser *chat.Parser) ServiceOption {
	return func(s *Service) { s.parser = parser }
}

func WithEventRouter(router *events.EventRouter) ServiceOption {
	return func(s *Service) { s.router = router }
}

// WithDefaultAgent sets the agent handling requests that neither mention an
// agent nor run in a pinned session.
func WithDefaultAgent(agentID string) ServiceOption {
	return func(s *Service) { s.defaultAgentID = agentID }
}

func NewService(options ...ServiceOption) *Service {
	s := &Service{
		sessions: map[string]*Session{},
	}
	for _, option := range options {
		option(s)
	}
	if s.parser == nil {
		s.parser = chat.NewParser()
	}
	return s
}

type SessionOption func(*Session)

func WithTitle(title string) SessionOption {
	return func(s *Session) { s.title = title }
}

func WithPinnedAgent(agentID string) SessionOption {
	return func(s *Session) { s.pinnedAgentID = agentID }
}

func (s *Service) CreateSession(location chat.Location, options ...SessionOption) *Session {
	session := &Session{model: chat.NewModel(location)}
	for _, option := range options {
		option(session)
	}
	s.watchModel(session)

	s.mu.Lock()
	s.sessions[session.ID()] = session
	if s.active == "" {
		s.active = session.ID()
	}
	s.mu.Unlock()

	s.publish(context.Background(), events.NewSessionEvent(events.EventTypeSessionCreated, session.ID()))
	return session
}

// RestoreSession rebuilds a session from its persisted form and registers
// it with the service.
func (s *Service) RestoreSession(data chat.SerializedChatData, options chat.RestoreOptions) (*Session, error) {
	model, err := chat.RestoreModel(data.Model, options)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to restore session %s", data.Model.SessionID)
	}

	session := &Session{
		model:         model,
		title:         data.Title,
		pinnedAgentID: data.PinnedAgentID,
	}
	if data.SaveDate > 0 {
		session.lastInteraction = time.UnixMilli(data.SaveDate)
	}
	s.watchModel(session)

	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	return session, nil
}

// watchModel forwards change set updates into the event stream.
func (s *Service) watchModel(session *Session) {
	session.model.OnDidChange(func(event chat.ChangeEvent) {
		if _, ok := event.(chat.UpdateChangeSetEvent); ok {
			s.publish(context.Background(), events.NewSessionEvent(events.EventTypeChangeSetUpdated, session.ID()))
		}
	})
}

func (s *Service) GetSession(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Service) GetSessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

func (s *Service) ActiveSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[s.active]
}

func (s *Service) SetActiveSession(id string) {
	s.mu.Lock()
	if _, ok := s.sessions[id]; ok {
		s.active = id
	}
	s.mu.Unlock()
}

// DeleteSession drops the session from memory. Unknown ids are not an
// error, so deletion stays idempotent with the store's view of the world.
func (s *Service) DeleteSession(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	if s.active == id {
		s.active = ""
	}
	s.mu.Unlock()

	if !ok {
		log.Debug().Str("session_id", id).Msg("deleting session not held in memory")
	}
	s.publish(context.Background(), events.NewSessionEvent(events.EventTypeSessionDeleted, id))
}

// SerializeSessions snapshots every live session, most recently touched
// included; the auto-saver feeds these to the store.
func (s *Service) SerializeSessions() []chat.SerializedChatData {
	sessions := s.GetSessions()
	data := make([]chat.SerializedChatData, 0, len(sessions))
	for _, session := range sessions {
		data = append(data, session.ToSerializable())
	}
	return data
}

// selectAgent picks the agent for a parsed request: an explicit mention
// wins, then the session's pinned agent, then the service default, then the
// first registered agent.
func (s *Service) selectAgent(session *Session, parsed *chat.ParsedRequest) (chat.Agent, error) {
	if s.agents == nil {
		return nil, errors.New("no agent lookup configured")
	}

	for _, part := range parsed.Parts {
		if mention, ok := part.(*chat.AgentPart); ok {
			if agent := s.agents.FindAgent(mention.AgentID); agent != nil {
				return agent, nil
			}
			return nil, errors.Errorf("mentioned agent %s is not registered", mention.AgentID)
		}
	}

	if pinned := session.PinnedAgentID(); pinned != "" {
		if agent := s.agents.FindAgent(pinned); agent != nil {
			return agent, nil
		}
		log.Warn().Str("agent_id", pinned).Msg("pinned agent not registered, falling back")
	}

	if s.defaultAgentID != "" {
		if agent := s.agents.FindAgent(s.defaultAgentID); agent != nil {
			return agent, nil
		}
		log.Warn().Str("agent_id", s.defaultAgentID).Msg("default agent not registered, falling back")
	}

	agents := s.agents.GetAgents()
	if len(agents) == 0 {
		return nil, errors.New("no agents registered")
	}
	return agents[0], nil
}

// SendRequest parses the request, adds it to the session, and invokes the
// selected agent asynchronously. An invocation failure never escapes: it is
// recorded into the response as error content and the response is marked
// failed.
func (s *Service) SendRequest(ctx context.Context, sessionID string, request chat.Request) (*PendingRequest, error) {
	session := s.GetSession(sessionID)
	if session == nil {
		return nil, errors.Errorf("session %s not found", sessionID)
	}

	parsed := s.parser.Parse(ctx, request, session.Model().Location())

	agent, err := s.selectAgent(session, parsed)
	if err != nil {
		return nil, err
	}

	requestModel, err := session.Model().AddRequest(parsed, agent.ID())
	if err != nil {
		return nil, err
	}
	session.touch()
	ctx = events.EnsureCorrelationID(ctx, requestModel.ID())
	s.publish(ctx, events.NewSessionEvent(events.EventTypeRequestAdded, sessionID).WithRequestID(requestModel.ID()))

	pending := &PendingRequest{Request: requestModel, done: make(chan struct{})}
	go func() {
		defer close(pending.done)
		s.invoke(ctx, session, agent, requestModel)
	}()
	return pending, nil
}

func (s *Service) invoke(ctx context.Context, session *Session, agent chat.Agent, request *chat.RequestModel) {
	response := request.Response()

	if err := agent.Invoke(ctx, request); err != nil {
		log.Error().Err(err).
			Str("agent_id", agent.ID()).
			Str("request_id", request.ID()).
			Msg("agent invocation failed")
		response.AddContent(chat.NewErrorContent(err))
		response.Error(err)
	} else if !response.IsComplete() {
		response.Complete()
	}
	session.touch()

	eventType := events.EventTypeResponseCompleted
	if response.IsError() {
		eventType = events.EventTypeResponseError
	}
	s.publish(ctx, events.NewSessionEvent(eventType, session.ID()).WithRequestID(request.ID()))
}

// CancelRequest cancels the response of the given request.
func (s *Service) CancelRequest(sessionID string, requestID string) error {
	session := s.GetSession(sessionID)
	if session == nil {
		return errors.Errorf("session %s not found", sessionID)
	}
	request := session.Model().FindRequest(requestID)
	if request == nil {
		return errors.Errorf("request %s not found in session %s", requestID, sessionID)
	}
	request.Cancel()
	return nil
}

// publish sends a session event, correlating it by session id unless the
// context already carries a correlation id.
func (s *Service) publish(ctx context.Context, event events.SessionEvent) {
	if s.router == nil {
		return
	}
	ctx = events.EnsureCorrelationID(ctx, event.SessionID)
	if err := s.router.PublishSessionEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("failed to publish session event")
	}
}
