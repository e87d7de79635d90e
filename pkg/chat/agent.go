package chat

import "context"

// Agent produces the response for a request. Invoke must drive the
// request's response to a terminal state before returning, or return an
// error, in which case the caller records the failure into the response.
type Agent interface {
	ID() string
	Name() string
	Description() string
	// Locations lists the surfaces the agent supports; empty means all.
	Locations() []Location
	Invoke(ctx context.Context, request *RequestModel) error
}

// AgentSupportsLocation reports whether the agent can serve the given
// location.
func AgentSupportsLocation(agent Agent, location Location) bool {
	locations := agent.Locations()
	if len(locations) == 0 {
		return true
	}
	for _, candidate := range locations {
		if candidate == location {
			return true
		}
	}
	return false
}

// AgentLookup resolves @mentions during parsing.
type AgentLookup interface {
	// FindAgent resolves an agent by id or name.
	FindAgent(nameOrID string) Agent
	GetAgents() []Agent
}

// VariableService resolves #name[:arg] triggers during parsing.
type VariableService interface {
	// Resolve produces the variable's value. The bool is false when
	// resolution failed; the part then keeps its verbatim trigger text.
	Resolve(ctx context.Context, name string, arg string) (ResolvedVariable, bool)
}
