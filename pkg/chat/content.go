package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ContentKind string

const (
	ContentKindText          ContentKind = "text"
	ContentKindMarkdown      ContentKind = "markdownContent"
	ContentKindThinking      ContentKind = "thinking"
	ContentKindCode          ContentKind = "code"
	ContentKindToolCall      ContentKind = "toolCall"
	ContentKindError         ContentKind = "error"
	ContentKindProgress      ContentKind = "progress"
	ContentKindQuestion      ContentKind = "question"
	ContentKindSummary       ContentKind = "summary"
	ContentKindHorizontal    ContentKind = "horizontal"
	ContentKindCommand       ContentKind = "command"
	ContentKindInformational ContentKind = "informational"
)

// ResponseContent is one item in a response's ordered content list.
type ResponseContent interface {
	Kind() ContentKind
	// ToSerializable returns the kind-specific payload for persistence. The
	// serializer wraps it with the kind tag and a fallback message.
	ToSerializable() interface{}
}

// AsStringer contributes to a response's cached string representation.
// The bool reports whether the item has a string form at all; an empty
// string with ok=true is skipped from the joined representation without a
// warning.
type AsStringer interface {
	AsString() (string, bool)
}

// DisplayStringer overrides the string form used for display purposes.
type DisplayStringer interface {
	AsDisplayString() string
}

// Merger allows an item to absorb a subsequent chunk. Merge reports false
// when the incoming item cannot be absorbed and must be appended instead.
type Merger interface {
	Merge(next ResponseContent) bool
}

// TextContent is plain streamed text. Consecutive chunks concatenate.
type TextContent struct {
	Content string
}

func NewTextContent(content string) *TextContent {
	return &TextContent{Content: content}
}

func (c *TextContent) Kind() ContentKind { return ContentKindText }

func (c *TextContent) AsString() (string, bool) { return c.Content, true }

func (c *TextContent) Merge(next ResponseContent) bool {
	n, ok := next.(*TextContent)
	if !ok {
		return false
	}
	c.Content += n.Content
	return true
}

func (c *TextContent) ToSerializable() interface{} {
	return textContentData{Content: c.Content}
}

type textContentData struct {
	Content string `json:"content"`
}

// MarkdownContent is streamed markdown. Same merge behavior as text.
type MarkdownContent struct {
	Content string
}

func NewMarkdownContent(content string) *MarkdownContent {
	return &MarkdownContent{Content: content}
}

func (c *MarkdownContent) Kind() ContentKind { return ContentKindMarkdown }

func (c *MarkdownContent) AsString() (string, bool) { return c.Content, true }

func (c *MarkdownContent) Merge(next ResponseContent) bool {
	n, ok := next.(*MarkdownContent)
	if !ok {
		return false
	}
	c.Content += n.Content
	return true
}

func (c *MarkdownContent) ToSerializable() interface{} {
	return textContentData{Content: c.Content}
}

// ThinkingContent carries a model's reasoning stream alongside its
// signature.
type ThinkingContent struct {
	Content   string
	Signature string
}

func NewThinkingContent(content string, signature string) *ThinkingContent {
	return &ThinkingContent{Content: content, Signature: signature}
}

func (c *ThinkingContent) Kind() ContentKind { return ContentKindThinking }

func (c *ThinkingContent) AsString() (string, bool) {
	b, err := json.Marshal(map[string]string{
		"type":      "thinking",
		"thinking":  c.Content,
		"signature": c.Signature,
	})
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (c *ThinkingContent) AsDisplayString() string {
	return "<Thinking>" + c.Content + "</Thinking>"
}

func (c *ThinkingContent) Merge(next ResponseContent) bool {
	n, ok := next.(*ThinkingContent)
	if !ok {
		return false
	}
	c.Content += n.Content
	c.Signature += n.Signature
	return true
}

func (c *ThinkingContent) ToSerializable() interface{} {
	return thinkingContentData{Content: c.Content, Signature: c.Signature}
}

type thinkingContentData struct {
	Content   string `json:"content"`
	Signature string `json:"signature,omitempty"`
}

// CodeLocation points into a source file.
type CodeLocation struct {
	URI       string `json:"uri"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
}

// CodeContent is a streamed code block. Merging appends code only, keeping
// the initial language and location.
type CodeContent struct {
	Code     string
	Language string
	Location *CodeLocation
}

func NewCodeContent(code string, language string) *CodeContent {
	return &CodeContent{Code: code, Language: language}
}

func (c *CodeContent) Kind() ContentKind { return ContentKindCode }

func (c *CodeContent) AsString() (string, bool) {
	return "```" + c.Language + "\n" + c.Code + "\n```", true
}

func (c *CodeContent) Merge(next ResponseContent) bool {
	n, ok := next.(*CodeContent)
	if !ok {
		return false
	}
	c.Code += n.Code
	return true
}

func (c *CodeContent) ToSerializable() interface{} {
	return codeContentData{Code: c.Code, Language: c.Language, Location: c.Location}
}

type codeContentData struct {
	Code     string        `json:"code"`
	Language string        `json:"language,omitempty"`
	Location *CodeLocation `json:"location,omitempty"`
}

// ToolCallContent tracks one tool invocation streamed by an agent. The
// arguments arrive as string deltas; Finished and Result land once the tool
// ran, possibly after unrelated content was appended in between.
type ToolCallContent struct {
	ID        string
	Name      string
	Arguments string
	Finished  bool
	Result    interface{}
}

func NewToolCallContent(id string, name string, arguments string) *ToolCallContent {
	return &ToolCallContent{ID: id, Name: name, Arguments: arguments}
}

func (c *ToolCallContent) Kind() ContentKind { return ContentKindToolCall }

func (c *ToolCallContent) AsString() (string, bool) { return "", true }

func (c *ToolCallContent) AsDisplayString() string {
	return fmt.Sprintf("Tool call: %s(%s)", c.Name, c.Arguments)
}

// Merge absorbs a chunk for the same tool call. A chunk with a matching id
// replaces the finished flag and result and takes the incoming arguments
// when non-empty. A chunk with a different id only merges when it is a bare
// argument delta (no name), in which case the delta is concatenated.
func (c *ToolCallContent) Merge(next ResponseContent) bool {
	n, ok := next.(*ToolCallContent)
	if !ok {
		return false
	}
	if n.ID == c.ID {
		c.Finished = n.Finished
		c.Result = n.Result
		if n.Arguments != "" {
			c.Arguments = n.Arguments
		}
		return true
	}
	if n.Name != "" {
		return false
	}
	if n.Arguments == "" {
		return false
	}
	c.Arguments += n.Arguments
	return true
}

func (c *ToolCallContent) ToSerializable() interface{} {
	return toolCallContentData{
		ID:        c.ID,
		Name:      c.Name,
		Arguments: c.Arguments,
		Finished:  c.Finished,
		Result:    c.Result,
	}
}

type toolCallContentData struct {
	ID        string      `json:"id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Arguments string      `json:"arguments,omitempty"`
	Finished  bool        `json:"finished,omitempty"`
	Result    interface{} `json:"result,omitempty"`
}

// ErrorContent records a failure inside the response stream. It has no
// string form and never merges.
type ErrorContent struct {
	Err error
}

func NewErrorContent(err error) *ErrorContent {
	return &ErrorContent{Err: err}
}

func (c *ErrorContent) Kind() ContentKind { return ContentKindError }

func (c *ErrorContent) AsString() (string, bool) { return "", false }

func (c *ErrorContent) ToSerializable() interface{} {
	message := ""
	if c.Err != nil {
		message = c.Err.Error()
	}
	return errorContentData{Message: message}
}

type errorContentData struct {
	Message string `json:"message"`
}

// ProgressContent is a transient status line. Merging replaces the message.
type ProgressContent struct {
	Message string
}

func NewProgressContent(message string) *ProgressContent {
	return &ProgressContent{Message: message}
}

func (c *ProgressContent) Kind() ContentKind { return ContentKindProgress }

func (c *ProgressContent) AsString() (string, bool) {
	b, err := json.Marshal(map[string]string{
		"type":    "progress",
		"message": c.Message,
	})
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (c *ProgressContent) AsDisplayString() string {
	return "<Progress>" + c.Message + "</Progress>"
}

func (c *ProgressContent) Merge(next ResponseContent) bool {
	n, ok := next.(*ProgressContent)
	if !ok {
		return false
	}
	c.Message = n.Message
	return true
}

func (c *ProgressContent) ToSerializable() interface{} {
	return progressContentData{Message: c.Message}
}

type progressContentData struct {
	Message string `json:"message"`
}

// QuestionOption is one selectable answer of a QuestionContent.
type QuestionOption struct {
	Text  string `json:"text"`
	Value string `json:"value,omitempty"`
}

// QuestionContent asks the user to pick an option before the agent can
// continue. The handler is invoked with the selection and is not persisted.
type QuestionContent struct {
	Question       string
	Options        []QuestionOption
	SelectedOption *QuestionOption
	Handler        func(option QuestionOption)
}

func NewQuestionContent(question string, options []QuestionOption, handler func(option QuestionOption)) *QuestionContent {
	return &QuestionContent{Question: question, Options: options, Handler: handler}
}

func (c *QuestionContent) Kind() ContentKind { return ContentKindQuestion }

func (c *QuestionContent) AsString() (string, bool) {
	answer := "No answer"
	if c.SelectedOption != nil {
		answer = "Answer: " + c.SelectedOption.Text
	}
	return "Question: " + c.Question + "\n" + answer, true
}

// SelectOption records the user's choice and invokes the handler.
func (c *QuestionContent) SelectOption(option QuestionOption) {
	c.SelectedOption = &option
	if c.Handler != nil {
		c.Handler(option)
	}
}

func (c *QuestionContent) Merge(ResponseContent) bool { return false }

func (c *QuestionContent) ToSerializable() interface{} {
	return questionContentData{
		Question:       c.Question,
		Options:        c.Options,
		SelectedOption: c.SelectedOption,
	}
}

type questionContentData struct {
	Question       string           `json:"question"`
	Options        []QuestionOption `json:"options,omitempty"`
	SelectedOption *QuestionOption  `json:"selectedOption,omitempty"`
}

// SummaryContent holds a condensed transcript of prior requests.
type SummaryContent struct {
	Content string
}

func NewSummaryContent(content string) *SummaryContent {
	return &SummaryContent{Content: content}
}

func (c *SummaryContent) Kind() ContentKind { return ContentKindSummary }

func (c *SummaryContent) AsString() (string, bool) { return c.Content, true }

func (c *SummaryContent) Merge(next ResponseContent) bool {
	n, ok := next.(*SummaryContent)
	if !ok {
		return false
	}
	c.Content += n.Content
	return true
}

func (c *SummaryContent) ToSerializable() interface{} {
	return textContentData{Content: c.Content}
}

// HorizontalContent lays out child items side by side. Merging a horizontal
// item flattens its children into this one; any other item is adopted as a
// new child.
type HorizontalContent struct {
	Children []ResponseContent
}

func NewHorizontalContent(children ...ResponseContent) *HorizontalContent {
	return &HorizontalContent{Children: children}
}

func (c *HorizontalContent) Kind() ContentKind { return ContentKindHorizontal }

func (c *HorizontalContent) AsString() (string, bool) {
	parts := make([]string, 0, len(c.Children))
	for _, child := range c.Children {
		if stringer, ok := child.(AsStringer); ok {
			if s, ok := stringer.AsString(); ok {
				parts = append(parts, s)
				continue
			}
		}
		parts = append(parts, "")
	}
	return strings.Join(parts, " "), true
}

func (c *HorizontalContent) Merge(next ResponseContent) bool {
	if n, ok := next.(*HorizontalContent); ok {
		c.Children = append(c.Children, n.Children...)
		return true
	}
	c.Children = append(c.Children, next)
	return true
}

func (c *HorizontalContent) ToSerializable() interface{} {
	children := make([]SerializedContent, 0, len(c.Children))
	for _, child := range c.Children {
		children = append(children, serializeContent(child))
	}
	return horizontalContentData{Children: children}
}

type horizontalContentData struct {
	Children []SerializedContent `json:"children"`
}

// CommandContent offers an executable command to the user. The callback is
// not persisted.
type CommandContent struct {
	CommandID string
	Label     string
	Arguments []interface{}
	Callback  func() error
}

func NewCommandContent(commandID string, label string) *CommandContent {
	return &CommandContent{CommandID: commandID, Label: label}
}

func (c *CommandContent) Kind() ContentKind { return ContentKindCommand }

func (c *CommandContent) AsString() (string, bool) {
	if c.CommandID != "" {
		return c.CommandID, true
	}
	if c.Label != "" {
		return c.Label, true
	}
	return "command", true
}

func (c *CommandContent) ToSerializable() interface{} {
	return commandContentData{CommandID: c.CommandID, Label: c.Label, Arguments: c.Arguments}
}

type commandContentData struct {
	CommandID string        `json:"commandId,omitempty"`
	Label     string        `json:"label,omitempty"`
	Arguments []interface{} `json:"arguments,omitempty"`
}

// InformationalContent renders to the user but contributes nothing to the
// prompt-facing string form.
type InformationalContent struct {
	Content string
}

func NewInformationalContent(content string) *InformationalContent {
	return &InformationalContent{Content: content}
}

func (c *InformationalContent) Kind() ContentKind { return ContentKindInformational }

func (c *InformationalContent) AsString() (string, bool) { return "", false }

func (c *InformationalContent) AsDisplayString() string { return c.Content }

func (c *InformationalContent) Merge(next ResponseContent) bool {
	n, ok := next.(*InformationalContent)
	if !ok {
		return false
	}
	c.Content += n.Content
	return true
}

func (c *InformationalContent) ToSerializable() interface{} {
	return textContentData{Content: c.Content}
}

// UnknownContent preserves a persisted content item whose kind has no
// registered deserializer. The original kind and raw payload survive a
// re-serialization unchanged.
type UnknownContent struct {
	UnknownKind     ContentKind
	FallbackMessage string
	Data            json.RawMessage
}

func NewUnknownContent(kind ContentKind, fallbackMessage string, data json.RawMessage) *UnknownContent {
	return &UnknownContent{UnknownKind: kind, FallbackMessage: fallbackMessage, Data: data}
}

func (c *UnknownContent) Kind() ContentKind { return c.UnknownKind }

func (c *UnknownContent) AsString() (string, bool) { return c.FallbackMessage, true }

func (c *UnknownContent) ToSerializable() interface{} {
	if len(c.Data) == 0 {
		return nil
	}
	return c.Data
}

var (
	_ Merger = (*TextContent)(nil)
	_ Merger = (*MarkdownContent)(nil)
	_ Merger = (*ThinkingContent)(nil)
	_ Merger = (*CodeContent)(nil)
	_ Merger = (*ToolCallContent)(nil)
	_ Merger = (*ProgressContent)(nil)
	_ Merger = (*QuestionContent)(nil)
	_ Merger = (*SummaryContent)(nil)
	_ Merger = (*HorizontalContent)(nil)
	_ Merger = (*InformationalContent)(nil)

	_ AsStringer = (*TextContent)(nil)
	_ AsStringer = (*ErrorContent)(nil)
	_ AsStringer = (*UnknownContent)(nil)

	_ DisplayStringer = (*ThinkingContent)(nil)
	_ DisplayStringer = (*ToolCallContent)(nil)
	_ DisplayStringer = (*ProgressContent)(nil)
	_ DisplayStringer = (*InformationalContent)(nil)
)
