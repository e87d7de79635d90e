package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/toolbox"
)

func TestSerializeEditAlternative(t *testing.T) {
	model := NewModel(LocationPanel)
	original := addTextRequest(t, model, "Original")
	original.Response().AddContent(NewTextContent("the answer"))
	original.Response().Complete()

	parsed := NewParsedText("Edited")
	parsed.Request.ReferencedRequestID = original.ID()
	edited, err := model.AddRequest(parsed, "agent-1")
	require.NoError(t, err)

	serialized := model.ToSerializable()
	require.Len(t, serialized.Requests, 2)

	root, ok := serialized.Hierarchy.Branches[serialized.Hierarchy.RootBranchID]
	require.True(t, ok)
	require.Len(t, root.Items, 2)
	require.Equal(t, original.ID(), root.Items[0].RequestID)
	require.Equal(t, edited.ID(), root.Items[1].RequestID)
	require.Equal(t, 1, root.ActiveBranchIndex)
}

func TestSerializeRoundTrip(t *testing.T) {
	model := NewModel(LocationPanel)
	addTextRequest(t, model, "First")
	second := addTextRequest(t, model, "Second")
	third := addTextRequest(t, model, "Third")
	third.Response().AddContent(NewTextContent("done"))
	third.Response().Complete()

	parsed := NewParsedText("Second edited")
	parsed.Request.ReferencedRequestID = second.ID()
	_, err := model.AddRequest(parsed, "agent-1")
	require.NoError(t, err)

	serialized := model.ToSerializable()
	restored, err := RestoreModel(serialized, RestoreOptions{})
	require.NoError(t, err)

	require.Equal(t, model.ID(), restored.ID())
	require.Equal(t, model.Location(), restored.Location())
	require.Len(t, restored.GetAllRequests(), 4)
	require.Equal(t, []string{"First", "Second edited"}, activeTexts(restored))

	restoredBranch := restored.GetBranch(second.ID())
	require.NotNil(t, restoredBranch)
	require.Len(t, restoredBranch.Items(), 2)
	require.Equal(t, 1, restoredBranch.ActiveIndex())

	restoredThird := restored.FindRequest(third.ID())
	require.NotNil(t, restoredThird)
	require.True(t, restoredThird.Response().IsComplete())
	require.Equal(t, "done", restoredThird.Response().AsString())
}

func TestSerializeAttachesFallbackMessage(t *testing.T) {
	model := NewModel(LocationPanel)
	request := addTextRequest(t, model, "question")
	request.Response().AddContent(NewTextContent("plain answer"))
	request.Response().AddContent(NewThinkingContent("mulling it over", "sig"))

	serialized := model.ToSerializable()
	require.Len(t, serialized.Responses, 1)
	content := serialized.Responses[0].Content
	require.Len(t, content, 2)
	require.Equal(t, "plain answer", content[0].FallbackMessage)
	require.NotEmpty(t, content[1].FallbackMessage)
}

func TestSerializeResponseError(t *testing.T) {
	model := NewModel(LocationPanel)
	request := addTextRequest(t, model, "question")
	request.Response().Error(errors.New("model unavailable"))

	serialized := model.ToSerializable()
	require.True(t, serialized.Responses[0].IsError)
	require.Equal(t, "model unavailable", serialized.Responses[0].ErrorMessage)

	restored, err := RestoreModel(serialized, RestoreOptions{})
	require.NoError(t, err)
	response := restored.GetAllRequests()[0].Response()
	require.True(t, response.IsError())
	require.EqualError(t, response.ErrorObject(), "model unavailable")
}

func TestUnknownContentKindFallback(t *testing.T) {
	registry := DefaultContentRegistry()
	item := registry.Deserialize(SerializedContent{
		Kind:            "never-registered",
		FallbackMessage: "X",
		Data:            json.RawMessage(`{}`),
	})

	unknown, ok := item.(*UnknownContent)
	require.True(t, ok)
	require.Equal(t, ContentKind("never-registered"), unknown.Kind())
	s, ok := unknown.AsString()
	require.True(t, ok)
	require.Equal(t, "X", s)
}

func TestContentRegistryRoundTripsAllKinds(t *testing.T) {
	registry := DefaultContentRegistry()
	items := []ResponseContent{
		NewTextContent("plain"),
		NewMarkdownContent("**bold**"),
		NewThinkingContent("hmm", "sig"),
		NewCodeContent("x := 1", "go"),
		NewToolCallContent("call-1", "search", `{"q":"go"}`),
		NewProgressContent("working"),
		NewSummaryContent("so far"),
		NewHorizontalContent(NewTextContent("left"), NewTextContent("right")),
		NewInformationalContent("fyi"),
	}

	for _, item := range items {
		restored := registry.Deserialize(serializeContent(item))
		require.Equal(t, item.Kind(), restored.Kind(), "kind %s", item.Kind())
		_, isUnknown := restored.(*UnknownContent)
		require.False(t, isUnknown, "kind %s fell back to unknown content", item.Kind())
	}
}

func TestRestoreRelinksToolHandlers(t *testing.T) {
	tools := toolbox.NewToolbox()
	require.NoError(t, tools.RegisterFunc("echo", "echoes its input", nil, func(context.Context, json.RawMessage) (interface{}, error) {
		return "echo", nil
	}))

	serialized := SerializedModel{
		SessionID: "session-1",
		Location:  LocationPanel,
		Requests: []SerializedRequest{{
			ID:   "request-1",
			Text: "run ~echo and ~gone",
			ParsedRequest: &SerializedParsedRequest{
				Parts: []SerializedPart{
					{Kind: PartKindText, Range: OffsetRange{Start: 0, EndExclusive: 4}, Text: "run "},
					{Kind: PartKindFunction, Range: OffsetRange{Start: 4, EndExclusive: 9}, Text: "~echo", ToolID: "echo", ToolName: "echo"},
					{Kind: PartKindText, Range: OffsetRange{Start: 9, EndExclusive: 14}, Text: " and "},
					{Kind: PartKindFunction, Range: OffsetRange{Start: 14, EndExclusive: 19}, Text: "~gone", ToolID: "gone", ToolName: "Gone"},
				},
				ToolRequestIDs: []string{"echo", "gone"},
			},
		}},
	}

	model, err := RestoreModel(serialized, RestoreOptions{Tools: tools})
	require.NoError(t, err)

	request := model.GetAllRequests()[0]
	parts := request.Message().Parts
	require.Len(t, parts, 4)

	linked, ok := parts[1].(*FunctionPart)
	require.True(t, ok)
	require.NotNil(t, linked.Tool)
	require.NotNil(t, linked.Tool.Handler)

	unlinked, ok := parts[3].(*FunctionPart)
	require.True(t, ok)
	require.Equal(t, "gone", unlinked.ToolID)
	require.Equal(t, "Gone", unlinked.ToolName)
	require.NotNil(t, unlinked.Tool)
	require.Nil(t, unlinked.Tool.Handler)

	require.NotNil(t, request.Message().ToolRequests["echo"].Handler)
	require.Nil(t, request.Message().ToolRequests["gone"].Handler)
}

func TestRestoreFromHandWrittenDocument(t *testing.T) {
	document := `{
		"version": 1,
		"title": "pizza talk",
		"saveDate": 1700000000000,
		"model": {
			"sessionId": "session-1",
			"location": "panel",
			"hierarchy": {
				"rootBranchId": "branch-root",
				"branches": {
					"branch-root": {
						"id": "branch-root",
						"items": [{"requestId": "request-1"}],
						"activeBranchIndex": 0
					}
				}
			},
			"requests": [{"id": "request-1", "text": "hello"}],
			"responses": [{
				"id": "response-1",
				"requestId": "request-1",
				"isComplete": true,
				"isError": false,
				"content": [{"kind": "text", "data": {"content": "hi there"}}]
			}]
		}
	}`

	data := SerializedChatData{}
	require.NoError(t, json.Unmarshal([]byte(document), &data))
	require.Equal(t, ChatDataVersion, data.Version)

	model, err := RestoreModel(data.Model, RestoreOptions{})
	require.NoError(t, err)

	require.Equal(t, "session-1", model.ID())
	requests := model.GetRequests()
	require.Len(t, requests, 1)
	require.Equal(t, "request-1", requests[0].ID())
	require.Equal(t, "hello", requests[0].Request().Text)

	response := requests[0].Response()
	require.Equal(t, "response-1", response.ID())
	require.True(t, response.IsComplete())
	require.Equal(t, "hi there", response.AsString())
}

func TestRestoreLegacyDocumentWithoutHierarchy(t *testing.T) {
	serialized := SerializedModel{
		SessionID: "session-1",
		Location:  LocationPanel,
		Requests: []SerializedRequest{
			{ID: "request-1", Text: "first"},
			{ID: "request-2", Text: "second"},
		},
	}

	model, err := RestoreModel(serialized, RestoreOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, activeTexts(model))
	require.Len(t, model.GetBranches(), 2)
}

func TestRestoreSkipsUnknownRequestIDs(t *testing.T) {
	serialized := SerializedModel{
		SessionID: "session-1",
		Location:  LocationPanel,
		Hierarchy: SerializedHierarchy{
			RootBranchID: "branch-root",
			Branches: map[string]SerializedBranch{
				"branch-root": {
					ID: "branch-root",
					Items: []SerializedBranchItem{
						{RequestID: "request-1"},
						{RequestID: "request-ghost"},
					},
					ActiveBranchIndex: 1,
				},
			},
		},
		Requests: []SerializedRequest{{ID: "request-1", Text: "kept"}},
	}

	model, err := RestoreModel(serialized, RestoreOptions{})
	require.NoError(t, err)

	root := model.GetBranches()[0]
	require.Len(t, root.Items(), 1)
	// The active index is clamped onto the surviving items.
	require.Equal(t, 0, root.ActiveIndex())
}

func TestRestoreFailsWithoutRootBranch(t *testing.T) {
	serialized := SerializedModel{
		SessionID: "session-1",
		Location:  LocationPanel,
		Hierarchy: SerializedHierarchy{
			RootBranchID: "branch-missing",
			Branches:     map[string]SerializedBranch{},
		},
	}

	_, err := RestoreModel(serialized, RestoreOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "root branch")
}

func TestSerializeRoundTripsCapabilityOverrides(t *testing.T) {
	model := NewModel(LocationPanel)
	request := addTextRequest(t, model, "hello")
	request.SetCapabilityOverrides(json.RawMessage(`{"editFile":false}`))

	data := model.ToSerializable()
	require.JSONEq(t, `{"editFile":false}`, string(data.Requests[0].CapabilityOverrides))

	restored, err := RestoreModel(data, RestoreOptions{})
	require.NoError(t, err)
	require.JSONEq(t, `{"editFile":false}`, string(restored.GetAllRequests()[0].CapabilityOverrides()))
}

func TestSerializePreservesStaleFlag(t *testing.T) {
	model := NewModel(LocationPanel)
	request := addTextRequest(t, model, "old news")
	request.SetStale(true)

	restored, err := RestoreModel(model.ToSerializable(), RestoreOptions{})
	require.NoError(t, err)
	require.True(t, restored.GetAllRequests()[0].IsStale())
}
