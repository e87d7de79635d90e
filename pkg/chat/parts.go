package chat

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/toolbox"
)

// OffsetRange is a half-open [Start, EndExclusive) character range into the
// raw request text.
type OffsetRange struct {
	Start        int `json:"start"`
	EndExclusive int `json:"endExclusive"`
}

// NewOffsetRange returns an error when start lies beyond endExclusive.
func NewOffsetRange(start int, endExclusive int) (OffsetRange, error) {
	if start > endExclusive {
		return OffsetRange{}, errors.Errorf("invalid offset range: start %d > endExclusive %d", start, endExclusive)
	}
	return OffsetRange{Start: start, EndExclusive: endExclusive}, nil
}

func (r OffsetRange) Length() int {
	return r.EndExclusive - r.Start
}

type PartKind string

const (
	PartKindText     PartKind = "text"
	PartKindVariable PartKind = "var"
	PartKindFunction PartKind = "function"
	PartKindAgent    PartKind = "agent"
)

// Part is one segment of a parsed chat request.
//
// Text returns the verbatim slice of the raw request text, PromptText what is
// actually sent to the agent in its place.
type Part interface {
	Kind() PartKind
	Range() OffsetRange
	Text() string
	PromptText() string
}

type TextPart struct {
	rng  OffsetRange
	text string
}

func NewTextPart(rng OffsetRange, text string) *TextPart {
	return &TextPart{rng: rng, text: text}
}

func (p *TextPart) Kind() PartKind     { return PartKindText }
func (p *TextPart) Range() OffsetRange { return p.rng }
func (p *TextPart) Text() string       { return p.text }
func (p *TextPart) PromptText() string { return p.text }

// ResolvedVariable is the value a variable service produced for a #name[:arg]
// trigger.
type ResolvedVariable struct {
	Name  string `json:"name"`
	Arg   string `json:"arg,omitempty"`
	Value string `json:"value"`
}

// VariablePart is a #name[:arg] trigger. Resolution is nil when no variable
// service could resolve it; the verbatim trigger text is then used as prompt
// text.
type VariablePart struct {
	rng        OffsetRange
	text       string
	Name       string
	Arg        string
	Resolution *ResolvedVariable
}

func NewVariablePart(rng OffsetRange, text string, name string, arg string) *VariablePart {
	return &VariablePart{rng: rng, text: text, Name: name, Arg: arg}
}

func (p *VariablePart) Kind() PartKind     { return PartKindVariable }
func (p *VariablePart) Range() OffsetRange { return p.rng }
func (p *VariablePart) Text() string       { return p.text }

func (p *VariablePart) PromptText() string {
	if p.Resolution != nil {
		return p.Resolution.Value
	}
	return p.text
}

func (p *VariablePart) Resolve(v ResolvedVariable) {
	p.Resolution = &v
}

// FunctionPart is a ~id tool trigger. Tool is nil when the id could not be
// relinked against a toolbox after restoring a persisted session; ToolID and
// ToolName stay populated either way.
type FunctionPart struct {
	rng      OffsetRange
	text     string
	ToolID   string
	ToolName string
	Tool     *toolbox.ToolRequest
}

func NewFunctionPart(rng OffsetRange, text string, tool *toolbox.ToolRequest) *FunctionPart {
	p := &FunctionPart{rng: rng, text: text}
	if tool != nil {
		p.ToolID = tool.ID
		p.ToolName = tool.Name
		p.Tool = tool
	}
	return p
}

func (p *FunctionPart) Kind() PartKind     { return PartKindFunction }
func (p *FunctionPart) Range() OffsetRange { return p.rng }
func (p *FunctionPart) Text() string       { return p.text }
func (p *FunctionPart) PromptText() string { return p.text }

// AgentPart is an @name mention selecting the agent that handles the request.
// Mentions are stripped from the prompt text.
type AgentPart struct {
	rng       OffsetRange
	text      string
	AgentID   string
	AgentName string
}

func NewAgentPart(rng OffsetRange, text string, agentID string, agentName string) *AgentPart {
	return &AgentPart{rng: rng, text: text, AgentID: agentID, AgentName: agentName}
}

func (p *AgentPart) Kind() PartKind     { return PartKindAgent }
func (p *AgentPart) Range() OffsetRange { return p.rng }
func (p *AgentPart) Text() string       { return p.text }
func (p *AgentPart) PromptText() string { return "" }
