package chat

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/go-go-golems/parley/pkg/toolbox"
)

type RequestKind string

const (
	RequestKindUser    RequestKind = "user"
	RequestKindSummary RequestKind = "summary"
)

// Request is the raw user input before parsing.
type Request struct {
	// Text is the full input as typed, including triggers.
	Text string `json:"text"`
	// DisplayText overrides Text for rendering purposes.
	DisplayText string      `json:"displayText,omitempty"`
	Kind        RequestKind `json:"kind,omitempty"`
	// ReferencedRequestID points at the request this one edits. The new
	// request is added as an alternative in the referenced request's branch.
	ReferencedRequestID string `json:"referencedRequestId,omitempty"`
}

// ParsedRequest is the outcome of running a Request through the parser:
// the ordered parts, the variables that were resolved, and the tools
// referenced from the text or from resolved variable values.
type ParsedRequest struct {
	Request      Request
	Parts        []Part
	Variables    []ResolvedVariable
	ToolRequests map[string]*toolbox.ToolRequest
}

// NewParsedText wraps plain text into a single-part parsed request, useful
// for programmatic requests that skip the parser.
func NewParsedText(text string) *ParsedRequest {
	rng := OffsetRange{Start: 0, EndExclusive: len(text)}
	return &ParsedRequest{
		Request:      Request{Text: text},
		Parts:        []Part{NewTextPart(rng, text)},
		ToolRequests: map[string]*toolbox.ToolRequest{},
	}
}

// PromptText joins the prompt text of all parts; this is what an agent
// receives in place of the raw text.
func (p *ParsedRequest) PromptText() string {
	out := ""
	for _, part := range p.Parts {
		out += part.PromptText()
	}
	return out
}

// RequestModel pairs one request with its response and its bookkeeping
// state inside a chat model. The response is created at construction and
// never reassigned.
type RequestModel struct {
	mu sync.Mutex

	id                  string
	sessionID           string
	message             *ParsedRequest
	agentID             string
	response            *ResponseModel
	changeSet           *ChangeSet
	changeSetUnsub      func()
	capabilityOverrides json.RawMessage
	data                map[string]interface{}
	isStale             bool

	onDidChangeSet emitter[UpdateChangeSetEvent]
}

func NewRequestModel(sessionID string, message *ParsedRequest, agentID string) *RequestModel {
	id := uuid.NewString()
	return &RequestModel{
		id:        id,
		sessionID: sessionID,
		message:   message,
		agentID:   agentID,
		response:  NewResponseModel(id, agentID),
		data:      map[string]interface{}{},
	}
}

// newRestoredRequestModel keeps the persisted ids instead of generating new
// ones.
func newRestoredRequestModel(id string, sessionID string, message *ParsedRequest, agentID string) *RequestModel {
	r := NewRequestModel(sessionID, message, agentID)
	r.id = id
	r.response.requestID = id
	return r
}

func (r *RequestModel) ID() string        { return r.id }
func (r *RequestModel) SessionID() string { return r.sessionID }
func (r *RequestModel) AgentID() string   { return r.agentID }

// Request returns the raw request the parsed message was built from.
func (r *RequestModel) Request() Request { return r.message.Request }

// Message returns the parsed request.
func (r *RequestModel) Message() *ParsedRequest { return r.message }

func (r *RequestModel) Response() *ResponseModel { return r.response }

// ChangeSet returns the change set attached to this request, or nil.
func (r *RequestModel) ChangeSet() *ChangeSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changeSet
}

// SetChangeSet attaches a change set to this request, replacing any prior
// one. Updates of the attached change set are forwarded to OnDidChangeSet
// observers; a replaced change set stops being forwarded.
func (r *RequestModel) SetChangeSet(cs *ChangeSet) {
	r.mu.Lock()
	if r.changeSetUnsub != nil {
		r.changeSetUnsub()
		r.changeSetUnsub = nil
	}
	r.changeSet = cs
	if cs != nil {
		r.changeSetUnsub = cs.OnDidChange(func(event UpdateChangeSetEvent) {
			r.onDidChangeSet.fire(event)
		})
	}
	r.mu.Unlock()
}

// OnDidChangeSet registers an observer for updates of the attached change
// set and returns its unsubscribe function.
func (r *RequestModel) OnDidChangeSet(handler func(UpdateChangeSetEvent)) func() {
	return r.onDidChangeSet.listen(handler)
}

// CapabilityOverrides returns the host-specific capability settings carried
// by this request, or nil. The model treats them as opaque data and only
// round-trips them through serialization.
func (r *RequestModel) CapabilityOverrides() json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capabilityOverrides
}

func (r *RequestModel) SetCapabilityOverrides(overrides json.RawMessage) {
	r.mu.Lock()
	r.capabilityOverrides = overrides
	r.mu.Unlock()
}

// AddData stores agent-specific scratch data under key.
func (r *RequestModel) AddData(key string, value interface{}) {
	r.mu.Lock()
	r.data[key] = value
	r.mu.Unlock()
}

func (r *RequestModel) GetData(key string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.data[key]
	return value, ok
}

func (r *RequestModel) RemoveData(key string) {
	r.mu.Lock()
	delete(r.data, key)
	r.mu.Unlock()
}

// IsStale reports whether this request was superseded by a later summary.
func (r *RequestModel) IsStale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isStale
}

func (r *RequestModel) SetStale(stale bool) {
	r.mu.Lock()
	r.isStale = stale
	r.mu.Unlock()
}

// Cancel cancels the associated response.
func (r *RequestModel) Cancel() {
	r.response.Cancel()
}
