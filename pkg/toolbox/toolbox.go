package toolbox

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ToolHandler executes a tool invocation. Arguments arrive as the raw JSON
// the model produced; the handler is responsible for decoding them.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (interface{}, error)

// ToolRequest describes a tool that can be referenced from a chat request
// with a ~id trigger. Parameters holds the JSON schema of the handler's
// arguments. Handler may be nil for tools restored from persisted sessions
// whose implementation is no longer registered.
type ToolRequest struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Handler     ToolHandler            `json:"-"`
}

// Toolbox is a registry of tool requests keyed by id.
type Toolbox struct {
	mu        sync.RWMutex
	tools     map[string]*ToolRequest
	reflector *jsonschema.Reflector
}

func NewToolbox() *Toolbox {
	return &Toolbox{
		tools: map[string]*ToolRequest{},
		reflector: &jsonschema.Reflector{
			Anonymous:      true,
			DoNotReference: true,
		},
	}
}

// Register adds a tool request to the toolbox. Re-registering an id replaces
// the previous entry.
func (tb *Toolbox) Register(tr *ToolRequest) error {
	if tr == nil || tr.ID == "" {
		return errors.New("tool request needs an id")
	}
	if tr.Name == "" {
		tr.Name = tr.ID
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()
	if _, ok := tb.tools[tr.ID]; ok {
		log.Debug().Str("tool_id", tr.ID).Msg("replacing registered tool")
	}
	tb.tools[tr.ID] = tr
	return nil
}

// RegisterFunc registers a tool whose parameter schema is derived from the
// paramsPrototype struct via reflection.
func (tb *Toolbox) RegisterFunc(id string, description string, paramsPrototype interface{}, handler ToolHandler) error {
	params, err := tb.schemaFor(paramsPrototype)
	if err != nil {
		return errors.Wrapf(err, "failed to generate schema for tool %s", id)
	}

	return tb.Register(&ToolRequest{
		ID:          id,
		Name:        id,
		Description: description,
		Parameters:  params,
		Handler:     handler,
	})
}

func (tb *Toolbox) schemaFor(prototype interface{}) (map[string]interface{}, error) {
	if prototype == nil {
		return nil, nil
	}

	schema := tb.reflector.Reflect(prototype)

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal schema")
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schemaBytes, &schemaMap); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal schema")
	}

	return schemaMap, nil
}

// Get returns the tool request registered under id.
func (tb *Toolbox) Get(id string) (*ToolRequest, bool) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	tr, ok := tb.tools[id]
	return tr, ok
}

func (tb *Toolbox) Has(id string) bool {
	_, ok := tb.Get(id)
	return ok
}

// Names returns the registered tool ids in sorted order.
func (tb *Toolbox) Names() []string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	names := make([]string, 0, len(tb.tools))
	for id := range tb.tools {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// All returns all registered tool requests sorted by id.
func (tb *Toolbox) All() []*ToolRequest {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	tools := make([]*ToolRequest, 0, len(tb.tools))
	for _, tr := range tb.tools {
		tools = append(tools, tr)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID < tools[j].ID })
	return tools
}

// Execute runs the tool registered under id with the given raw arguments.
func (tb *Toolbox) Execute(ctx context.Context, id string, arguments json.RawMessage) (interface{}, error) {
	tr, ok := tb.Get(id)
	if !ok {
		return nil, errors.Errorf("tool %q not found", id)
	}
	if tr.Handler == nil {
		return nil, errors.Errorf("tool %q has no handler", id)
	}

	result, err := tr.Handler(ctx, arguments)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to execute tool %s", id)
	}
	return result, nil
}
