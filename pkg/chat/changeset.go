package chat

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

type ChangeSetElementState string

const (
	ChangeSetElementStatePending ChangeSetElementState = "pending"
	ChangeSetElementStateApplied ChangeSetElementState = "applied"
	ChangeSetElementStateStale   ChangeSetElementState = "stale"
)

// ChangeSetElement is one proposed change, keyed by the URI it applies to.
type ChangeSetElement interface {
	ElementKind() string
	URI() string
	State() ChangeSetElementState
	// ToSerializable returns the kind-specific payload for persistence.
	ToSerializable() interface{}
}

// FileElement is a proposed change to one file.
type FileElement struct {
	FileURI          string                `json:"uri"`
	ElementState     ChangeSetElementState `json:"state,omitempty"`
	OriginalContent  string                `json:"originalContent,omitempty"`
	SuggestedContent string                `json:"suggestedContent,omitempty"`
}

func (e *FileElement) ElementKind() string          { return "file" }
func (e *FileElement) URI() string                  { return e.FileURI }
func (e *FileElement) State() ChangeSetElementState { return e.ElementState }
func (e *FileElement) ToSerializable() interface{}  { return e }

// GenericElement preserves a persisted element whose kind has no registered
// deserializer.
type GenericElement struct {
	UnknownKind     string
	FallbackMessage string
	ElementURI      string
	Data            json.RawMessage
}

func (e *GenericElement) ElementKind() string          { return e.UnknownKind }
func (e *GenericElement) URI() string                  { return e.ElementURI }
func (e *GenericElement) State() ChangeSetElementState { return ChangeSetElementStateStale }

func (e *GenericElement) ToSerializable() interface{} {
	if len(e.Data) == 0 {
		return nil
	}
	return e.Data
}

// ChangeSet collects the changes an agent proposes alongside a response.
type ChangeSet struct {
	mu       sync.Mutex
	title    string
	elements []ChangeSetElement

	onDidChange emitter[UpdateChangeSetEvent]
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{}
}

func (cs *ChangeSet) OnDidChange(handler func(UpdateChangeSetEvent)) func() {
	return cs.onDidChange.listen(handler)
}

func (cs *ChangeSet) Title() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.title
}

func (cs *ChangeSet) SetTitle(title string) {
	cs.mu.Lock()
	cs.title = title
	cs.mu.Unlock()
	cs.notify()
}

func (cs *ChangeSet) Elements() []ChangeSetElement {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	elements := make([]ChangeSetElement, len(cs.elements))
	copy(elements, cs.elements)
	return elements
}

// GetElementByURI returns the element for the given URI, or nil.
func (cs *ChangeSet) GetElementByURI(uri string) ChangeSetElement {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, element := range cs.elements {
		if element.URI() == uri {
			return element
		}
	}
	return nil
}

// AddElements appends elements, replacing existing ones with the same URI.
func (cs *ChangeSet) AddElements(elements ...ChangeSetElement) {
	cs.mu.Lock()
	for _, element := range elements {
		replaced := false
		for i, existing := range cs.elements {
			if existing.URI() == element.URI() {
				cs.elements[i] = element
				replaced = true
				break
			}
		}
		if !replaced {
			cs.elements = append(cs.elements, element)
		}
	}
	cs.mu.Unlock()
	cs.notify()
}

// SetElements replaces the whole element list.
func (cs *ChangeSet) SetElements(elements ...ChangeSetElement) {
	cs.mu.Lock()
	cs.elements = elements
	cs.mu.Unlock()
	cs.notify()
}

// RemoveElements deletes the elements with the given URIs and reports
// whether anything was removed.
func (cs *ChangeSet) RemoveElements(uris ...string) bool {
	cs.mu.Lock()
	removed := false
	for _, uri := range uris {
		for i, element := range cs.elements {
			if element.URI() == uri {
				cs.elements = append(cs.elements[:i], cs.elements[i+1:]...)
				removed = true
				break
			}
		}
	}
	cs.mu.Unlock()
	if removed {
		cs.notify()
	}
	return removed
}

func (cs *ChangeSet) notify() {
	cs.onDidChange.fire(UpdateChangeSetEvent{Title: cs.Title(), Elements: cs.Elements()})
}

// ElementContext tells an element deserializer which session and request a
// persisted element belonged to.
type ElementContext struct {
	SessionID string
	RequestID string
}

// ElementDeserializer rebuilds one change-set element from its persisted
// payload.
type ElementDeserializer func(ctx ElementContext, data json.RawMessage) (ChangeSetElement, error)

// ElementRegistry maps element kinds to deserializers. Unknown kinds fall
// back to a GenericElement instead of failing.
type ElementRegistry struct {
	mu            sync.RWMutex
	deserializers map[string]ElementDeserializer
}

func NewElementRegistry() *ElementRegistry {
	return &ElementRegistry{deserializers: map[string]ElementDeserializer{}}
}

// DefaultElementRegistry returns a registry with the built-in element kinds
// registered.
func DefaultElementRegistry() *ElementRegistry {
	r := NewElementRegistry()
	r.Register("file", func(_ ElementContext, data json.RawMessage) (ChangeSetElement, error) {
		element := &FileElement{}
		if err := json.Unmarshal(data, element); err != nil {
			return nil, err
		}
		return element, nil
	})
	return r
}

func (r *ElementRegistry) Register(kind string, deserializer ElementDeserializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deserializers[kind] = deserializer
}

func (r *ElementRegistry) KnownKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.deserializers))
	for kind := range r.deserializers {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Deserialize rebuilds an element, degrading to a GenericElement that
// preserves the raw payload when the kind is unknown or its deserializer
// fails.
func (r *ElementRegistry) Deserialize(ctx ElementContext, serialized SerializedChangeSetElement) ChangeSetElement {
	r.mu.RLock()
	deserializer, ok := r.deserializers[serialized.Kind]
	r.mu.RUnlock()

	if ok {
		element, err := deserializer(ctx, serialized.Data)
		if err == nil {
			return element
		}
		log.Warn().Err(err).
			Str("kind", serialized.Kind).
			Str("session_id", ctx.SessionID).
			Str("request_id", ctx.RequestID).
			Msg("change set element deserializer failed, keeping generic element")
	} else {
		log.Warn().
			Str("kind", serialized.Kind).
			Strs("known_kinds", r.KnownKinds()).
			Msg("unknown change set element kind, keeping generic element")
	}

	return &GenericElement{
		UnknownKind:     serialized.Kind,
		FallbackMessage: serialized.FallbackMessage,
		Data:            serialized.Data,
	}
}
