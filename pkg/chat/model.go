package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Location names the surface a chat session lives in.
type Location string

const (
	LocationPanel    Location = "panel"
	LocationTerminal Location = "terminal"
	LocationNotebook Location = "notebook"
	LocationEditor   Location = "editor"
)

// RemovalReason says why a request left the model.
type RemovalReason string

const (
	RemovalReasonRemoval  RemovalReason = "removal"
	RemovalReasonResend   RemovalReason = "resend"
	RemovalReasonAdoption RemovalReason = "adoption"
)

// ChangeEvent is the tagged union of model change notifications.
type ChangeEvent interface {
	ChangeKind() string
}

type AddRequestEvent struct {
	Request *RequestModel
}

func (AddRequestEvent) ChangeKind() string { return "addRequest" }

type RemoveRequestEvent struct {
	RequestID string
	Reason    RemovalReason
}

func (RemoveRequestEvent) ChangeKind() string { return "removeRequest" }

type ChangeHierarchyBranchEvent struct {
	Branch *Branch
}

func (ChangeHierarchyBranchEvent) ChangeKind() string { return "changeHierarchyBranch" }

type UpdateChangeSetEvent struct {
	Title    string
	Elements []ChangeSetElement
}

func (UpdateChangeSetEvent) ChangeKind() string { return "updateChangeSet" }

// Model is one chat session: a hierarchy of requests with their responses,
// plus session-scoped settings. All mutation entry points are safe for
// concurrent use.
type Model struct {
	mu sync.Mutex

	id        string
	location  Location
	hierarchy *Hierarchy
	settings  map[string]interface{}

	deferMu   sync.Mutex
	deferring bool
	deferred  []ChangeEvent

	onDidChange emitter[ChangeEvent]
}

type ModelOption func(*Model)

func WithModelID(id string) ModelOption {
	return func(m *Model) { m.id = id }
}

func NewModel(location Location, options ...ModelOption) *Model {
	m := &Model{
		id:        uuid.NewString(),
		location:  location,
		hierarchy: NewHierarchy(),
	}
	for _, option := range options {
		option(m)
	}
	m.hierarchy.OnDidChange(func(event BranchChangeEvent) {
		m.emitOrDefer(ChangeHierarchyBranchEvent{Branch: event.Branch})
	})
	return m
}

// emitOrDefer fires the event immediately, unless a mutation currently
// holds the model mutex; then the event is queued and fired once the mutex
// is released, so observers may read the model from their handler.
func (m *Model) emitOrDefer(event ChangeEvent) {
	m.deferMu.Lock()
	if m.deferring {
		m.deferred = append(m.deferred, event)
		m.deferMu.Unlock()
		return
	}
	m.deferMu.Unlock()
	m.onDidChange.fire(event)
}

// mutate runs fn under the model mutex and fires the hierarchy events the
// mutation raised after the mutex is released again.
func (m *Model) mutate(fn func() error) error {
	m.mu.Lock()
	m.deferMu.Lock()
	m.deferring = true
	m.deferMu.Unlock()

	err := fn()

	m.deferMu.Lock()
	m.deferring = false
	deferred := m.deferred
	m.deferred = nil
	m.deferMu.Unlock()
	m.mu.Unlock()

	for _, event := range deferred {
		m.onDidChange.fire(event)
	}
	return err
}

// watchRequest forwards a request's change set updates into the model's
// change stream, so persistence observers see change set mutations.
func (m *Model) watchRequest(request *RequestModel) {
	request.OnDidChangeSet(func(event UpdateChangeSetEvent) {
		m.onDidChange.fire(event)
	})
}

func (m *Model) ID() string         { return m.id }
func (m *Model) Location() Location { return m.location }

// OnDidChange registers an observer for model change events and returns its
// unsubscribe function.
func (m *Model) OnDidChange(handler func(ChangeEvent)) func() {
	return m.onDidChange.listen(handler)
}

func (m *Model) Settings() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

func (m *Model) SetSettings(settings map[string]interface{}) {
	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()
}

// GetRequests returns the active path from root to tail, the visible linear
// conversation.
func (m *Model) GetRequests() []*RequestModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hierarchy.ActiveRequests()
}

// GetAllRequests returns every request in every branch, active or not.
func (m *Model) GetAllRequests() []*RequestModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hierarchy.AllRequests()
}

// GetBranches returns the branches along the active path.
func (m *Model) GetBranches() []*Branch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hierarchy.ActiveBranches()
}

// GetBranch returns the branch holding the request with the given id.
func (m *Model) GetBranch(requestID string) *Branch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hierarchy.FindBranch(requestID)
}

// GetRequest returns the request with the given id from the active path.
func (m *Model) GetRequest(id string) *RequestModel {
	for _, request := range m.GetRequests() {
		if request.ID() == id {
			return request
		}
	}
	return nil
}

// FindRequest returns the request with the given id from any branch.
func (m *Model) FindRequest(id string) *RequestModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hierarchy.FindRequest(id)
}

func (m *Model) IsEmpty() bool {
	return len(m.GetRequests()) == 0
}

// AddRequest creates a request model for the parsed request and places it
// in the hierarchy. When the request references a prior request id, the new
// request is added as an alternative in that request's branch and becomes
// active; otherwise it continues the conversation at the tail.
func (m *Model) AddRequest(parsed *ParsedRequest, agentID string) (*RequestModel, error) {
	request := NewRequestModel(m.id, parsed, agentID)
	m.watchRequest(request)

	err := m.mutate(func() error {
		referencedID := parsed.Request.ReferencedRequestID
		if referencedID != "" {
			branch := m.hierarchy.FindBranch(referencedID)
			if branch == nil {
				return errors.Errorf("cannot find branch for request id %s", referencedID)
			}
			branch.Add(request)
			return nil
		}
		_, err := m.hierarchy.Append(request)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.onDidChange.fire(AddRequestEvent{Request: request})
	return request, nil
}

// RemoveRequest removes the request with the given id from its branch.
func (m *Model) RemoveRequest(id string, reason RemovalReason) bool {
	found := false
	_ = m.mutate(func() error {
		branch := m.hierarchy.FindBranch(id)
		if branch == nil {
			return nil
		}
		found = true
		branch.Remove(id)
		return nil
	})
	if !found {
		return false
	}

	m.onDidChange.fire(RemoveRequestEvent{RequestID: id, Reason: reason})
	return true
}

// SummaryPosition says where InsertSummary places the summary request.
type SummaryPosition string

const (
	// SummaryPositionEnd appends the summary after the last request.
	SummaryPositionEnd SummaryPosition = "end"
	// SummaryPositionBeforeLast inserts the summary between the second to
	// last and the last request, keeping the most recent turn after the
	// summary.
	SummaryPositionBeforeLast SummaryPosition = "beforeLast"
)

// SummaryResult is what a summary callback reports back: the id of the
// summary request it added to the model and the produced summary text.
type SummaryResult struct {
	RequestID   string
	SummaryText string
}

// SummaryCallback produces the summary. It is expected to add a request
// with kind summary to the model (driving an agent to fill its response)
// and return its id together with the summary text. Returning nil or an
// error aborts the insertion.
type SummaryCallback func(ctx context.Context) (*SummaryResult, error)

// InsertSummary condenses the conversation by inserting a summary request.
//
// With fewer than two requests it returns "" without touching the model.
// On success every active request before the summary is marked stale
// (already-stale requests are left alone) and the summary text is
// returned. When the callback fails, returns nil, or reports an unknown
// request id, every request it added is removed again, stale flags are
// untouched, and "" is returned.
func (m *Model) InsertSummary(ctx context.Context, callback SummaryCallback, position SummaryPosition) (string, error) {
	if len(m.GetRequests()) < 2 {
		return "", nil
	}

	knownIDs := map[string]bool{}
	for _, request := range m.GetAllRequests() {
		knownIDs[request.ID()] = true
	}

	var trigger *RequestModel
	if position == SummaryPositionBeforeLast {
		requests := m.GetRequests()
		trigger = requests[len(requests)-1]
		_ = m.mutate(func() error {
			if branch := m.hierarchy.FindBranch(trigger.ID()); branch != nil {
				branch.Remove(trigger.ID())
			}
			return nil
		})
	}

	rollback := func() {
		for _, request := range m.GetAllRequests() {
			if knownIDs[request.ID()] {
				continue
			}
			id := request.ID()
			_ = m.mutate(func() error {
				if branch := m.hierarchy.FindBranch(id); branch != nil {
					branch.Remove(id)
				}
				return nil
			})
		}
		if trigger != nil {
			_ = m.mutate(func() error {
				if _, err := m.hierarchy.Append(trigger); err != nil {
					log.Error().Err(err).Str("request_id", trigger.ID()).Msg("failed to restore trigger request after summary rollback")
				}
				return nil
			})
		}
	}

	result, err := callback(ctx)
	if err != nil {
		rollback()
		return "", errors.Wrap(err, "summary callback failed")
	}
	if result == nil {
		rollback()
		return "", nil
	}

	summaryRequest := m.FindRequest(result.RequestID)
	if summaryRequest == nil {
		log.Warn().Str("request_id", result.RequestID).Msg("summary callback returned unknown request id")
		rollback()
		return "", nil
	}

	if trigger != nil {
		err := m.mutate(func() error {
			_, err := m.hierarchy.Append(trigger)
			return err
		})
		if err != nil {
			rollback()
			return "", err
		}
	}

	for _, request := range m.GetRequests() {
		if request.ID() == summaryRequest.ID() {
			break
		}
		if !request.IsStale() {
			request.SetStale(true)
		}
	}

	return result.SummaryText, nil
}
