package chat

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/toolbox"
)

// ContentDeserializer rebuilds one response content item from its persisted
// payload.
type ContentDeserializer func(data json.RawMessage) (ResponseContent, error)

// ContentRegistry maps content kinds to deserializers. Unknown kinds fall
// back to an UnknownContent that preserves the fallback message and raw
// payload, so nothing is silently dropped.
type ContentRegistry struct {
	mu            sync.RWMutex
	deserializers map[ContentKind]ContentDeserializer
}

func NewContentRegistry() *ContentRegistry {
	return &ContentRegistry{deserializers: map[ContentKind]ContentDeserializer{}}
}

func (r *ContentRegistry) Register(kind ContentKind, deserializer ContentDeserializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deserializers[kind] = deserializer
}

func (r *ContentRegistry) KnownKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.deserializers))
	for kind := range r.deserializers {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	return kinds
}

// Deserialize rebuilds a content item. A kind without a registered
// deserializer, or a deserializer failure, degrades to an UnknownContent
// and logs a warning naming the kind and the known kinds; it never fails.
func (r *ContentRegistry) Deserialize(serialized SerializedContent) ResponseContent {
	r.mu.RLock()
	deserializer, ok := r.deserializers[serialized.Kind]
	r.mu.RUnlock()

	if ok {
		item, err := deserializer(serialized.Data)
		if err == nil {
			return item
		}
		log.Warn().Err(err).
			Str("kind", string(serialized.Kind)).
			Strs("known_kinds", r.KnownKinds()).
			Msg("content deserializer failed, keeping unknown content")
	} else {
		log.Warn().
			Str("kind", string(serialized.Kind)).
			Strs("known_kinds", r.KnownKinds()).
			Msg("unknown content kind, keeping unknown content")
	}

	return NewUnknownContent(serialized.Kind, serialized.FallbackMessage, serialized.Data)
}

// DefaultContentRegistry returns a registry with all built-in content kinds
// registered.
func DefaultContentRegistry() *ContentRegistry {
	r := NewContentRegistry()

	r.Register(ContentKindText, func(data json.RawMessage) (ResponseContent, error) {
		payload := textContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return NewTextContent(payload.Content), nil
	})

	r.Register(ContentKindMarkdown, func(data json.RawMessage) (ResponseContent, error) {
		payload := textContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return NewMarkdownContent(payload.Content), nil
	})

	r.Register(ContentKindThinking, func(data json.RawMessage) (ResponseContent, error) {
		payload := thinkingContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return NewThinkingContent(payload.Content, payload.Signature), nil
	})

	r.Register(ContentKindCode, func(data json.RawMessage) (ResponseContent, error) {
		payload := codeContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		content := NewCodeContent(payload.Code, payload.Language)
		content.Location = payload.Location
		return content, nil
	})

	r.Register(ContentKindToolCall, func(data json.RawMessage) (ResponseContent, error) {
		payload := toolCallContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		content := NewToolCallContent(payload.ID, payload.Name, payload.Arguments)
		content.Finished = payload.Finished
		content.Result = payload.Result
		return content, nil
	})

	r.Register(ContentKindError, func(data json.RawMessage) (ResponseContent, error) {
		payload := errorContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return NewErrorContent(errors.New(payload.Message)), nil
	})

	r.Register(ContentKindProgress, func(data json.RawMessage) (ResponseContent, error) {
		payload := progressContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return NewProgressContent(payload.Message), nil
	})

	r.Register(ContentKindQuestion, func(data json.RawMessage) (ResponseContent, error) {
		payload := questionContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		content := NewQuestionContent(payload.Question, payload.Options, nil)
		content.SelectedOption = payload.SelectedOption
		return content, nil
	})

	r.Register(ContentKindSummary, func(data json.RawMessage) (ResponseContent, error) {
		payload := textContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return NewSummaryContent(payload.Content), nil
	})

	r.Register(ContentKindHorizontal, func(data json.RawMessage) (ResponseContent, error) {
		payload := horizontalContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		children := make([]ResponseContent, 0, len(payload.Children))
		for _, child := range payload.Children {
			children = append(children, r.Deserialize(child))
		}
		return NewHorizontalContent(children...), nil
	})

	r.Register(ContentKindCommand, func(data json.RawMessage) (ResponseContent, error) {
		payload := commandContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		content := NewCommandContent(payload.CommandID, payload.Label)
		content.Arguments = payload.Arguments
		return content, nil
	})

	r.Register(ContentKindInformational, func(data json.RawMessage) (ResponseContent, error) {
		payload := textContentData{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return NewInformationalContent(payload.Content), nil
	})

	return r
}

// RestoreOptions carries the registries used to relink persisted data with
// live implementations. Nil fields fall back to the defaults; a nil Tools
// leaves function parts without handlers.
type RestoreOptions struct {
	Contents *ContentRegistry
	Elements *ElementRegistry
	Tools    *toolbox.Toolbox
}

// RestoreModel rebuilds a chat model from its persisted form. Branch and
// request linkage is re-associated by plain id lookups; items referring to
// unknown request ids are skipped with a warning.
func RestoreModel(data SerializedModel, options RestoreOptions) (*Model, error) {
	if options.Contents == nil {
		options.Contents = DefaultContentRegistry()
	}
	if options.Elements == nil {
		options.Elements = DefaultElementRegistry()
	}

	model := NewModel(data.Location, WithModelID(data.SessionID))

	requests := map[string]*RequestModel{}
	order := make([]*RequestModel, 0, len(data.Requests))
	for _, serialized := range data.Requests {
		request := restoreRequest(data.SessionID, serialized, options)
		model.watchRequest(request)
		requests[request.ID()] = request
		order = append(order, request)
	}

	for _, serialized := range data.Responses {
		request, ok := requests[serialized.RequestID]
		if !ok {
			log.Debug().Str("response_id", serialized.ID).Str("request_id", serialized.RequestID).
				Msg("skipping response for unknown request")
			continue
		}
		request.Response().restore(serialized, options.Contents)
	}

	if data.Hierarchy.RootBranchID == "" {
		// Legacy documents without a hierarchy: rebuild a linear chain in
		// request order.
		for _, request := range order {
			if _, err := model.hierarchy.Append(request); err != nil {
				return nil, err
			}
		}
		return model, nil
	}

	branches := map[string]*Branch{}
	for id := range data.Hierarchy.Branches {
		branch := newBranch(model.hierarchy, nil)
		branch.id = id
		branches[id] = branch
	}

	for id, serialized := range data.Hierarchy.Branches {
		branch := branches[id]
		for _, item := range serialized.Items {
			request, ok := requests[item.RequestID]
			if !ok {
				log.Warn().Str("branch_id", id).Str("request_id", item.RequestID).
					Msg("skipping branch item for unknown request")
				continue
			}
			branchItem := &BranchItem{Request: request}
			if item.NextBranchID != "" {
				next, ok := branches[item.NextBranchID]
				if !ok {
					log.Warn().Str("branch_id", id).Str("next_branch_id", item.NextBranchID).
						Msg("skipping link to unknown branch")
				} else {
					next.previous = branch
					branchItem.Next = next
				}
			}
			branch.items = append(branch.items, branchItem)
		}
		branch.activeIndex = clampIndex(serialized.ActiveBranchIndex, len(branch.items))
	}

	root, ok := branches[data.Hierarchy.RootBranchID]
	if !ok {
		return nil, errors.Errorf("root branch %s not found in serialized hierarchy", data.Hierarchy.RootBranchID)
	}
	model.hierarchy.root = root

	return model, nil
}

func clampIndex(index int, length int) int {
	if length == 0 || index < 0 {
		return -1
	}
	if index >= length {
		return length - 1
	}
	return index
}

func restoreRequest(sessionID string, serialized SerializedRequest, options RestoreOptions) *RequestModel {
	parsed := &ParsedRequest{
		Request: Request{
			Text:        serialized.Text,
			DisplayText: serialized.DisplayText,
			Kind:        serialized.Kind,
		},
		ToolRequests: map[string]*toolbox.ToolRequest{},
	}

	if serialized.ParsedRequest != nil {
		parsed.Variables = serialized.ParsedRequest.Variables
		for _, part := range serialized.ParsedRequest.Parts {
			parsed.Parts = append(parsed.Parts, restorePart(part, options.Tools))
		}
		for _, toolID := range serialized.ParsedRequest.ToolRequestIDs {
			parsed.ToolRequests[toolID] = relinkTool(toolID, "", options.Tools)
		}
	} else {
		rng := OffsetRange{Start: 0, EndExclusive: len(serialized.Text)}
		parsed.Parts = []Part{NewTextPart(rng, serialized.Text)}
	}

	request := newRestoredRequestModel(serialized.ID, sessionID, parsed, serialized.AgentID)
	request.SetStale(serialized.IsStale)
	request.SetCapabilityOverrides(serialized.CapabilityOverrides)

	if serialized.ChangeSet != nil {
		cs := NewChangeSet()
		cs.SetTitle(serialized.ChangeSet.Title)
		elements := make([]ChangeSetElement, 0, len(serialized.ChangeSet.Elements))
		ctx := ElementContext{SessionID: sessionID, RequestID: serialized.ID}
		for _, element := range serialized.ChangeSet.Elements {
			elements = append(elements, options.Elements.Deserialize(ctx, element))
		}
		cs.SetElements(elements...)
		request.SetChangeSet(cs)
	}

	return request
}

func restorePart(serialized SerializedPart, tools *toolbox.Toolbox) Part {
	switch serialized.Kind {
	case PartKindVariable:
		return NewVariablePart(serialized.Range, serialized.Text, serialized.VariableName, serialized.VariableArg)
	case PartKindFunction:
		part := NewFunctionPart(serialized.Range, serialized.Text, relinkTool(serialized.ToolID, serialized.ToolName, tools))
		part.ToolID = serialized.ToolID
		if serialized.ToolName != "" {
			part.ToolName = serialized.ToolName
		}
		return part
	case PartKindAgent:
		return NewAgentPart(serialized.Range, serialized.Text, serialized.AgentID, serialized.AgentName)
	default:
		return NewTextPart(serialized.Range, serialized.Text)
	}
}

// relinkTool resolves a persisted tool id against the injected toolbox so
// the handler function is wired back in. Unknown ids keep id and name but
// no handler.
func relinkTool(toolID string, toolName string, tools *toolbox.Toolbox) *toolbox.ToolRequest {
	if tools != nil {
		if tr, ok := tools.Get(toolID); ok {
			return tr
		}
	}
	if toolID == "" {
		return nil
	}
	if toolName == "" {
		toolName = toolID
	}
	log.Debug().Str("tool_id", toolID).Msg("tool id not found in toolbox, restoring without handler")
	return &toolbox.ToolRequest{ID: toolID, Name: toolName}
}

// restore overwrites the response with its persisted state.
func (r *ResponseModel) restore(serialized SerializedResponse, contents *ContentRegistry) {
	r.mu.Lock()
	if serialized.ID != "" {
		r.id = serialized.ID
	}
	if serialized.AgentID != "" {
		r.agentID = serialized.AgentID
	}
	r.delegates = append([]string{}, serialized.Delegates...)
	r.isComplete = serialized.IsComplete
	r.isCanceled = serialized.IsCanceled
	r.isError = serialized.IsError
	if serialized.ErrorMessage != "" {
		r.errorObject = errors.New(serialized.ErrorMessage)
	}
	r.content = nil
	for _, item := range serialized.Content {
		r.content = append(r.content, contents.Deserialize(item))
	}
	r.updateRepresentation()
	r.mu.Unlock()
}
