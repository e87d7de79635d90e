package chat

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ProgressStatus string

const (
	ProgressStatusInProgress ProgressStatus = "inProgress"
	ProgressStatusCompleted  ProgressStatus = "completed"
	ProgressStatusFailed     ProgressStatus = "failed"
)

// ProgressMessage is a short status line shown while an agent works on a
// response, independent of the streamed content list.
type ProgressMessage struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Status  ProgressStatus `json:"status"`
}

// ResponseModel is the streamed answer to one request. Content chunks are
// appended through AddContent, which merges them according to the rules of
// each content kind and keeps a cached string representation up to date.
//
// A response becomes terminal through Complete, Cancel, or Error. Terminal
// flags never revert. The model does not reject AddContent after
// cancellation; a well-behaved agent stops streaming once it observes the
// canceled flag.
type ResponseModel struct {
	mu sync.Mutex

	id        string
	requestID string
	agentID   string
	delegates []string

	content               []ResponseContent
	representation        string
	displayRepresentation string
	progressMessages      []*ProgressMessage

	isComplete        bool
	isCanceled        bool
	isWaitingForInput bool
	isError           bool
	errorObject       error

	onDidChange emitter[struct{}]
}

func NewResponseModel(requestID string, agentID string) *ResponseModel {
	return &ResponseModel{
		id:        uuid.NewString(),
		requestID: requestID,
		agentID:   agentID,
	}
}

func (r *ResponseModel) ID() string        { return r.id }
func (r *ResponseModel) RequestID() string { return r.requestID }

func (r *ResponseModel) AgentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agentID
}

// OverrideAgentID records the agent that actually produced the response,
// e.g. after a delegation.
func (r *ResponseModel) OverrideAgentID(agentID string) {
	r.mu.Lock()
	r.agentID = agentID
	r.mu.Unlock()
}

// AddDelegate appends an agent id to the delegation chain.
func (r *ResponseModel) AddDelegate(agentID string) {
	r.mu.Lock()
	r.delegates = append(r.delegates, agentID)
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
}

func (r *ResponseModel) Delegates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	delegates := make([]string, len(r.delegates))
	copy(delegates, r.delegates)
	return delegates
}

// OnDidChange registers an observer notified on every mutation. It returns
// the unsubscribe function.
func (r *ResponseModel) OnDidChange(handler func()) func() {
	return r.onDidChange.listen(func(struct{}) { handler() })
}

// Content returns a snapshot of the content list.
func (r *ResponseModel) Content() []ResponseContent {
	r.mu.Lock()
	defer r.mu.Unlock()
	content := make([]ResponseContent, len(r.content))
	copy(content, r.content)
	return content
}

// AddContent appends or merges one streamed chunk.
//
// A tool call carrying an id merges into the existing tool call with the
// same id wherever it sits in the list, so a finish signal can arrive after
// unrelated content. Everything else merges into the last item when the
// kinds match and the item accepts the merge, and is appended otherwise.
func (r *ResponseModel) AddContent(next ResponseContent) {
	r.mu.Lock()
	r.doAddContent(next)
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
}

// AddContents appends several chunks with a single change notification.
func (r *ResponseModel) AddContents(contents ...ResponseContent) {
	r.mu.Lock()
	for _, next := range contents {
		r.doAddContent(next)
	}
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
}

func (r *ResponseModel) doAddContent(next ResponseContent) {
	if toolCall, ok := next.(*ToolCallContent); ok && toolCall.ID != "" {
		if existing := r.findToolCall(toolCall.ID); existing != nil {
			existing.Merge(toolCall)
			r.updateRepresentation()
			return
		}
		r.content = append(r.content, next)
		r.updateRepresentation()
		return
	}

	if len(r.content) > 0 {
		last := r.content[len(r.content)-1]
		if last.Kind() == next.Kind() {
			if merger, ok := last.(Merger); ok && merger.Merge(next) {
				r.updateRepresentation()
				return
			}
		}
	}
	r.content = append(r.content, next)
	r.updateRepresentation()
}

func (r *ResponseModel) findToolCall(id string) *ToolCallContent {
	for _, item := range r.content {
		if toolCall, ok := item.(*ToolCallContent); ok && toolCall.ID == id {
			return toolCall
		}
	}
	return nil
}

// ClearContent drops all content items.
func (r *ResponseModel) ClearContent() {
	r.mu.Lock()
	r.content = nil
	r.updateRepresentation()
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
}

// ContentChanged recomputes the cached representations after an item was
// mutated in place, e.g. a question option was selected.
func (r *ResponseModel) ContentChanged() {
	r.mu.Lock()
	r.updateRepresentation()
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
}

func (r *ResponseModel) updateRepresentation() {
	r.representation = representationToString(r.content, false)
	r.displayRepresentation = representationToString(r.content, true)
}

func representationToString(content []ResponseContent, display bool) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		if display {
			if displayStringer, ok := item.(DisplayStringer); ok {
				if s := displayStringer.AsDisplayString(); s != "" {
					parts = append(parts, s)
				}
				continue
			}
		}
		stringer, ok := item.(AsStringer)
		if !ok {
			log.Warn().Str("kind", string(item.Kind())).Msg("response content has no string form, skipping")
			continue
		}
		s, ok := stringer.AsString()
		if !ok || s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return joinNonEmpty(parts)
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += part
	}
	return out
}

// AsString returns the cached prompt-facing representation: the string
// forms of all content items joined by blank lines.
func (r *ResponseModel) AsString() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.representation
}

// AsDisplayString returns the cached display representation.
func (r *ResponseModel) AsDisplayString() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displayRepresentation
}

// AddProgressMessage adds a progress message, or updates it when the id is
// already present. A generated id is used when none is given.
func (r *ResponseModel) AddProgressMessage(message ProgressMessage) *ProgressMessage {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Status == "" {
		message.Status = ProgressStatusInProgress
	}

	r.mu.Lock()
	if existing := r.getProgressMessage(message.ID); existing != nil {
		*existing = message
		r.mu.Unlock()
		r.onDidChange.fire(struct{}{})
		return existing
	}
	added := &ProgressMessage{}
	*added = message
	r.progressMessages = append(r.progressMessages, added)
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
	return added
}

func (r *ResponseModel) GetProgressMessage(id string) *ProgressMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getProgressMessage(id)
}

func (r *ResponseModel) getProgressMessage(id string) *ProgressMessage {
	for _, message := range r.progressMessages {
		if message.ID == id {
			return message
		}
	}
	return nil
}

// UpdateProgressMessage updates the message with the given id; unknown ids
// are ignored.
func (r *ResponseModel) UpdateProgressMessage(message ProgressMessage) {
	r.mu.Lock()
	existing := r.getProgressMessage(message.ID)
	if existing == nil {
		r.mu.Unlock()
		return
	}
	*existing = message
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
}

func (r *ResponseModel) ProgressMessages() []ProgressMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	messages := make([]ProgressMessage, 0, len(r.progressMessages))
	for _, message := range r.progressMessages {
		messages = append(messages, *message)
	}
	return messages
}

// Complete marks the response as finished.
func (r *ResponseModel) Complete() {
	r.mu.Lock()
	r.isComplete = true
	r.isWaitingForInput = false
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
}

// Cancel marks the response as canceled and complete.
func (r *ResponseModel) Cancel() {
	r.mu.Lock()
	r.isCanceled = true
	r.isComplete = true
	r.isWaitingForInput = false
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
}

// Error marks the response as failed and complete.
func (r *ResponseModel) Error(err error) {
	r.mu.Lock()
	r.isComplete = true
	r.isWaitingForInput = false
	r.isError = true
	r.errorObject = err
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
}

func (r *ResponseModel) WaitForInput() {
	r.mu.Lock()
	r.isWaitingForInput = true
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
}

func (r *ResponseModel) StopWaitingForInput() {
	r.mu.Lock()
	r.isWaitingForInput = false
	r.mu.Unlock()
	r.onDidChange.fire(struct{}{})
}

func (r *ResponseModel) IsComplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isComplete
}

func (r *ResponseModel) IsCanceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isCanceled
}

func (r *ResponseModel) IsWaitingForInput() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isWaitingForInput
}

func (r *ResponseModel) IsError() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isError
}

func (r *ResponseModel) ErrorObject() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorObject
}
