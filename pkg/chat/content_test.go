package chat

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestTextContentMerge(t *testing.T) {
	content := NewTextContent("Hello")
	require.True(t, content.Merge(NewTextContent(" world")))
	require.Equal(t, "Hello world", content.Content)

	require.False(t, content.Merge(NewMarkdownContent("!")))
	require.Equal(t, "Hello world", content.Content)
}

func TestThinkingContent(t *testing.T) {
	content := NewThinkingContent("step one", "sig-a")
	require.True(t, content.Merge(NewThinkingContent(", step two", "sig-b")))
	require.Equal(t, "step one, step two", content.Content)
	require.Equal(t, "sig-asig-b", content.Signature)

	s, ok := content.AsString()
	require.True(t, ok)
	decoded := map[string]string{}
	require.NoError(t, json.Unmarshal([]byte(s), &decoded))
	require.Equal(t, "thinking", decoded["type"])
	require.Equal(t, "step one, step two", decoded["thinking"])

	require.Equal(t, "<Thinking>step one, step two</Thinking>", content.AsDisplayString())
}

func TestCodeContentMergeAppendsCodeOnly(t *testing.T) {
	content := NewCodeContent("func main() {", "go")
	incoming := NewCodeContent("}", "python")
	require.True(t, content.Merge(incoming))
	require.Equal(t, "func main() {}", content.Code)
	require.Equal(t, "go", content.Language)

	s, ok := content.AsString()
	require.True(t, ok)
	require.Equal(t, "```go\nfunc main() {}\n```", s)
}

func TestToolCallContentMergeSameID(t *testing.T) {
	content := NewToolCallContent("call-1", "search", `{"query":`)

	finish := NewToolCallContent("call-1", "search", "")
	finish.Finished = true
	finish.Result = "3 results"
	require.True(t, content.Merge(finish))
	require.True(t, content.Finished)
	require.Equal(t, "3 results", content.Result)
	require.Equal(t, `{"query":`, content.Arguments)

	replacement := NewToolCallContent("call-1", "search", `{"query":"go"}`)
	require.True(t, content.Merge(replacement))
	require.Equal(t, `{"query":"go"}`, content.Arguments)
}

func TestToolCallContentMergeDifferentID(t *testing.T) {
	content := NewToolCallContent("call-1", "search", `{"qu`)

	named := NewToolCallContent("call-2", "other", "x")
	require.False(t, content.Merge(named))

	empty := NewToolCallContent("call-2", "", "")
	require.False(t, content.Merge(empty))

	delta := NewToolCallContent("", "", `ery":"go"}`)
	require.True(t, content.Merge(delta))
	require.Equal(t, `{"query":"go"}`, content.Arguments)
}

func TestToolCallContentStringForms(t *testing.T) {
	content := NewToolCallContent("call-1", "search", `{"query":"go"}`)
	s, ok := content.AsString()
	require.True(t, ok)
	require.Equal(t, "", s)
	require.Equal(t, `Tool call: search({"query":"go"})`, content.AsDisplayString())
}

func TestProgressContentMergeReplaces(t *testing.T) {
	content := NewProgressContent("reading files")
	require.True(t, content.Merge(NewProgressContent("running tests")))
	require.Equal(t, "running tests", content.Message)
	require.Equal(t, "<Progress>running tests</Progress>", content.AsDisplayString())
}

func TestQuestionContent(t *testing.T) {
	var selected QuestionOption
	content := NewQuestionContent("Proceed?", []QuestionOption{{Text: "Yes"}, {Text: "No"}}, func(option QuestionOption) {
		selected = option
	})

	require.False(t, content.Merge(NewQuestionContent("Proceed?", nil, nil)))

	s, ok := content.AsString()
	require.True(t, ok)
	require.Equal(t, "Question: Proceed?\nNo answer", s)

	content.SelectOption(QuestionOption{Text: "Yes"})
	require.Equal(t, "Yes", selected.Text)
	s, _ = content.AsString()
	require.Equal(t, "Question: Proceed?\nAnswer: Yes", s)
}

func TestHorizontalContentMerge(t *testing.T) {
	content := NewHorizontalContent(NewTextContent("left"))

	require.True(t, content.Merge(NewHorizontalContent(NewTextContent("middle"))))
	require.True(t, content.Merge(NewTextContent("right")))
	require.Len(t, content.Children, 3)

	s, ok := content.AsString()
	require.True(t, ok)
	require.Equal(t, "left middle right", s)
}

func TestCommandContentAsString(t *testing.T) {
	content := NewCommandContent("editor.open", "Open editor")
	s, _ := content.AsString()
	require.Equal(t, "editor.open", s)

	content = NewCommandContent("", "Open editor")
	s, _ = content.AsString()
	require.Equal(t, "Open editor", s)

	content = NewCommandContent("", "")
	s, _ = content.AsString()
	require.Equal(t, "command", s)
}

func TestErrorContentHasNoStringForm(t *testing.T) {
	content := NewErrorContent(errors.New("model unavailable"))
	_, ok := content.AsString()
	require.False(t, ok)

	payload, ok := content.ToSerializable().(errorContentData)
	require.True(t, ok)
	require.Equal(t, "model unavailable", payload.Message)
}

func TestUnknownContentPreservesKindAndData(t *testing.T) {
	data := json.RawMessage(`{"shape":"star"}`)
	content := NewUnknownContent("never-registered", "X", data)

	require.Equal(t, ContentKind("never-registered"), content.Kind())
	s, ok := content.AsString()
	require.True(t, ok)
	require.Equal(t, "X", s)

	serialized := serializeContent(content)
	require.Equal(t, ContentKind("never-registered"), serialized.Kind)
	require.JSONEq(t, `{"shape":"star"}`, string(serialized.Data))
}
