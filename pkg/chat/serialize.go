package chat

import (
	"encoding/json"
	"sort"

	"github.com/rs/zerolog/log"
)

// ChatDataVersion tags the persisted document schema. Consumers must check
// it before interpreting the hierarchy.
const ChatDataVersion = 1

// SerializedChatData wraps a serialized model with persistence metadata.
type SerializedChatData struct {
	Version       int             `json:"version"`
	PinnedAgentID string          `json:"pinnedAgentId,omitempty"`
	Title         string          `json:"title,omitempty"`
	SaveDate      int64           `json:"saveDate"`
	Model         SerializedModel `json:"model"`
}

type SerializedModel struct {
	SessionID string               `json:"sessionId"`
	Location  Location             `json:"location"`
	Hierarchy SerializedHierarchy  `json:"hierarchy"`
	Requests  []SerializedRequest  `json:"requests"`
	Responses []SerializedResponse `json:"responses"`
}

type SerializedHierarchy struct {
	RootBranchID string                      `json:"rootBranchId"`
	Branches     map[string]SerializedBranch `json:"branches"`
}

type SerializedBranch struct {
	ID                string                 `json:"id"`
	Items             []SerializedBranchItem `json:"items"`
	ActiveBranchIndex int                    `json:"activeBranchIndex"`
}

type SerializedBranchItem struct {
	RequestID    string `json:"requestId"`
	NextBranchID string `json:"nextBranchId,omitempty"`
}

type SerializedRequest struct {
	ID            string                   `json:"id"`
	Text          string                   `json:"text"`
	DisplayText   string                   `json:"displayText,omitempty"`
	Kind          RequestKind              `json:"kind,omitempty"`
	AgentID       string                   `json:"agentId,omitempty"`
	IsStale       bool                     `json:"isStale,omitempty"`
	ParsedRequest *SerializedParsedRequest `json:"parsedRequest,omitempty"`
	ChangeSet     *SerializedChangeSet     `json:"changeSet,omitempty"`
	// CapabilityOverrides is opaque host data carried through unchanged.
	CapabilityOverrides json.RawMessage `json:"capabilityOverrides,omitempty"`
}

type SerializedParsedRequest struct {
	Parts          []SerializedPart   `json:"parts"`
	Variables      []ResolvedVariable `json:"variables,omitempty"`
	ToolRequestIDs []string           `json:"toolRequestIds,omitempty"`
}

type SerializedPart struct {
	Kind  PartKind    `json:"kind"`
	Range OffsetRange `json:"range"`
	Text  string      `json:"text"`

	// Variable parts.
	VariableName string `json:"variableName,omitempty"`
	VariableArg  string `json:"variableArg,omitempty"`

	// Function parts.
	ToolID   string `json:"toolId,omitempty"`
	ToolName string `json:"toolName,omitempty"`

	// Agent parts.
	AgentID   string `json:"agentId,omitempty"`
	AgentName string `json:"agentName,omitempty"`
}

type SerializedResponse struct {
	ID           string              `json:"id"`
	RequestID    string              `json:"requestId"`
	AgentID      string              `json:"agentId,omitempty"`
	Delegates    []string            `json:"delegates,omitempty"`
	IsComplete   bool                `json:"isComplete"`
	IsCanceled   bool                `json:"isCanceled,omitempty"`
	IsError      bool                `json:"isError"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	Content      []SerializedContent `json:"content"`
}

type SerializedContent struct {
	Kind            ContentKind     `json:"kind"`
	FallbackMessage string          `json:"fallbackMessage,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

type SerializedChangeSet struct {
	Title    string                       `json:"title,omitempty"`
	Elements []SerializedChangeSetElement `json:"elements"`
}

type SerializedChangeSetElement struct {
	Kind            string          `json:"kind"`
	FallbackMessage string          `json:"fallbackMessage,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// ToSerializable walks the full hierarchy, not just the active path, and
// flattens it into the persisted document shape: a branches map keyed by
// branch id, plus flat request and response arrays deduplicated by id.
func (m *Model) ToSerializable() SerializedModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	branches := map[string]SerializedBranch{}
	var collectBranch func(branch *Branch)
	collectBranch = func(branch *Branch) {
		items := make([]SerializedBranchItem, 0, len(branch.items))
		for _, item := range branch.items {
			serializedItem := SerializedBranchItem{RequestID: item.Request.ID()}
			if item.Next != nil {
				serializedItem.NextBranchID = item.Next.ID()
			}
			items = append(items, serializedItem)
		}
		branches[branch.ID()] = SerializedBranch{
			ID:                branch.ID(),
			Items:             items,
			ActiveBranchIndex: branch.ActiveIndex(),
		}
		for _, item := range branch.items {
			if item.Next != nil {
				collectBranch(item.Next)
			}
		}
	}
	collectBranch(m.hierarchy.root)

	requests := m.hierarchy.AllRequests()
	serializedRequests := make([]SerializedRequest, 0, len(requests))
	serializedResponses := make([]SerializedResponse, 0, len(requests))
	for _, request := range requests {
		serializedRequests = append(serializedRequests, serializeRequest(request))
		serializedResponses = append(serializedResponses, serializeResponse(request.Response()))
	}

	return SerializedModel{
		SessionID: m.id,
		Location:  m.location,
		Hierarchy: SerializedHierarchy{
			RootBranchID: m.hierarchy.root.ID(),
			Branches:     branches,
		},
		Requests:  serializedRequests,
		Responses: serializedResponses,
	}
}

func serializeRequest(request *RequestModel) SerializedRequest {
	raw := request.Request()
	serialized := SerializedRequest{
		ID:                  request.ID(),
		Text:                raw.Text,
		DisplayText:         raw.DisplayText,
		Kind:                raw.Kind,
		AgentID:             request.AgentID(),
		IsStale:             request.IsStale(),
		CapabilityOverrides: request.CapabilityOverrides(),
	}

	if message := request.Message(); message != nil {
		serialized.ParsedRequest = serializeParsedRequest(message)
	}
	if cs := request.ChangeSet(); cs != nil {
		serialized.ChangeSet = serializeChangeSet(cs)
	}
	return serialized
}

func serializeParsedRequest(parsed *ParsedRequest) *SerializedParsedRequest {
	serialized := &SerializedParsedRequest{
		Variables: parsed.Variables,
	}
	for _, part := range parsed.Parts {
		serialized.Parts = append(serialized.Parts, serializePart(part))
	}
	for id := range parsed.ToolRequests {
		serialized.ToolRequestIDs = append(serialized.ToolRequestIDs, id)
	}
	sort.Strings(serialized.ToolRequestIDs)
	return serialized
}

func serializePart(part Part) SerializedPart {
	serialized := SerializedPart{
		Kind:  part.Kind(),
		Range: part.Range(),
		Text:  part.Text(),
	}
	switch p := part.(type) {
	case *VariablePart:
		serialized.VariableName = p.Name
		serialized.VariableArg = p.Arg
	case *FunctionPart:
		serialized.ToolID = p.ToolID
		serialized.ToolName = p.ToolName
	case *AgentPart:
		serialized.AgentID = p.AgentID
		serialized.AgentName = p.AgentName
	}
	return serialized
}

func serializeResponse(response *ResponseModel) SerializedResponse {
	serialized := SerializedResponse{
		ID:         response.ID(),
		RequestID:  response.RequestID(),
		AgentID:    response.AgentID(),
		Delegates:  response.Delegates(),
		IsComplete: response.IsComplete(),
		IsCanceled: response.IsCanceled(),
		IsError:    response.IsError(),
		Content:    []SerializedContent{},
	}
	if err := response.ErrorObject(); err != nil {
		serialized.ErrorMessage = err.Error()
	}
	for _, item := range response.Content() {
		serialized.Content = append(serialized.Content, serializeContent(item))
	}
	return serialized
}

// serializeContent wraps a content item's payload with its kind tag and a
// fallback message derived from the live item's string form, so a future
// deserializer lacking the kind can still render something.
func serializeContent(item ResponseContent) SerializedContent {
	serialized := SerializedContent{Kind: item.Kind()}

	if stringer, ok := item.(AsStringer); ok {
		if s, ok := stringer.AsString(); ok {
			serialized.FallbackMessage = s
		}
	}
	if serialized.FallbackMessage == "" {
		if displayStringer, ok := item.(DisplayStringer); ok {
			serialized.FallbackMessage = displayStringer.AsDisplayString()
		}
	}

	payload := item.ToSerializable()
	switch data := payload.(type) {
	case nil:
	case json.RawMessage:
		serialized.Data = data
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("kind", string(item.Kind())).Msg("failed to marshal response content payload")
		} else {
			serialized.Data = raw
		}
	}
	return serialized
}

func serializeChangeSet(cs *ChangeSet) *SerializedChangeSet {
	serialized := &SerializedChangeSet{
		Title:    cs.Title(),
		Elements: []SerializedChangeSetElement{},
	}
	for _, element := range cs.Elements() {
		serializedElement := SerializedChangeSetElement{Kind: element.ElementKind()}
		if generic, ok := element.(*GenericElement); ok {
			serializedElement.FallbackMessage = generic.FallbackMessage
		} else {
			serializedElement.FallbackMessage = element.URI()
		}

		payload := element.ToSerializable()
		switch data := payload.(type) {
		case nil:
		case json.RawMessage:
			serializedElement.Data = data
		default:
			raw, err := json.Marshal(payload)
			if err != nil {
				log.Error().Err(err).Str("kind", element.ElementKind()).Msg("failed to marshal change set element payload")
			} else {
				serializedElement.Data = raw
			}
		}
		serialized.Elements = append(serialized.Elements, serializedElement)
	}
	return serialized
}
