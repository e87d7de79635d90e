package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChangeSetAddElementsReplacesByURI(t *testing.T) {
	cs := NewChangeSet()
	cs.AddElements(&FileElement{FileURI: "file:///a.go", SuggestedContent: "v1"})
	cs.AddElements(
		&FileElement{FileURI: "file:///a.go", SuggestedContent: "v2"},
		&FileElement{FileURI: "file:///b.go", SuggestedContent: "new"},
	)

	require.Len(t, cs.Elements(), 2)
	element, ok := cs.GetElementByURI("file:///a.go").(*FileElement)
	require.True(t, ok)
	require.Equal(t, "v2", element.SuggestedContent)
}

func TestChangeSetRemoveElements(t *testing.T) {
	cs := NewChangeSet()
	cs.AddElements(
		&FileElement{FileURI: "file:///a.go"},
		&FileElement{FileURI: "file:///b.go"},
	)

	require.True(t, cs.RemoveElements("file:///a.go"))
	require.False(t, cs.RemoveElements("file:///a.go"))
	require.Len(t, cs.Elements(), 1)
	require.Nil(t, cs.GetElementByURI("file:///a.go"))
}

func TestChangeSetNotifiesOnMutation(t *testing.T) {
	cs := NewChangeSet()

	var events []UpdateChangeSetEvent
	unsubscribe := cs.OnDidChange(func(event UpdateChangeSetEvent) { events = append(events, event) })
	defer unsubscribe()

	cs.SetTitle("proposed changes")
	cs.AddElements(&FileElement{FileURI: "file:///a.go"})

	require.Len(t, events, 2)
	require.Equal(t, "proposed changes", events[1].Title)
	require.Len(t, events[1].Elements, 1)
}

func TestElementRegistryFileRoundTrip(t *testing.T) {
	registry := DefaultElementRegistry()
	original := &FileElement{
		FileURI:          "file:///a.go",
		ElementState:     ChangeSetElementStatePending,
		SuggestedContent: "package main",
	}
	payload, err := json.Marshal(original.ToSerializable())
	require.NoError(t, err)

	restored := registry.Deserialize(
		ElementContext{SessionID: "session-1", RequestID: "request-1"},
		SerializedChangeSetElement{Kind: "file", Data: payload},
	)

	element, ok := restored.(*FileElement)
	require.True(t, ok)
	require.Equal(t, original.FileURI, element.FileURI)
	require.Equal(t, original.SuggestedContent, element.SuggestedContent)
}

func TestElementRegistryUnknownKindFallback(t *testing.T) {
	registry := DefaultElementRegistry()
	data := json.RawMessage(`{"url":"https://example.com"}`)

	restored := registry.Deserialize(
		ElementContext{SessionID: "session-1", RequestID: "request-1"},
		SerializedChangeSetElement{Kind: "web-preview", FallbackMessage: "preview", Data: data},
	)

	generic, ok := restored.(*GenericElement)
	require.True(t, ok)
	require.Equal(t, "web-preview", generic.ElementKind())
	require.Equal(t, "preview", generic.FallbackMessage)
	require.JSONEq(t, string(data), string(generic.Data))
}

func TestChangeSetSurvivesSerialization(t *testing.T) {
	model := NewModel(LocationPanel)
	request := addTextRequest(t, model, "apply this change")

	cs := NewChangeSet()
	cs.SetTitle("rename everything")
	cs.AddElements(&FileElement{
		FileURI:          "file:///a.go",
		ElementState:     ChangeSetElementStatePending,
		OriginalContent:  "package a",
		SuggestedContent: "package b",
	})
	request.SetChangeSet(cs)

	restored, err := RestoreModel(model.ToSerializable(), RestoreOptions{})
	require.NoError(t, err)

	restoredSet := restored.GetAllRequests()[0].ChangeSet()
	require.NotNil(t, restoredSet)
	require.Equal(t, "rename everything", restoredSet.Title())

	element, ok := restoredSet.GetElementByURI("file:///a.go").(*FileElement)
	require.True(t, ok)
	require.Equal(t, "package b", element.SuggestedContent)
	require.Equal(t, ChangeSetElementStatePending, element.State())

	// mutating the restored change set still reaches the restored model's
	// observers
	updates := 0
	restored.OnDidChange(func(event ChangeEvent) {
		if _, ok := event.(UpdateChangeSetEvent); ok {
			updates++
		}
	})
	restoredSet.AddElements(&FileElement{FileURI: "file:///c.go"})
	require.Equal(t, 1, updates)
}
