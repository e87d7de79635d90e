package chat

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/toolbox"
)

// Trigger names are word characters and hyphens. Variable arguments run to
// the next whitespace so path arguments with slashes, backslashes, and drive
// colons survive intact.
var (
	variableTriggerRe = regexp.MustCompile(`^#([\w-]+)(?::(\S+))?`)
	agentTriggerRe    = regexp.MustCompile(`^@([\w-]+)`)
	functionTriggerRe = regexp.MustCompile(`^~([\w-]+)`)
	commandTriggerRe  = regexp.MustCompile(`^/([\w-]+)`)

	// Tool references inside resolved variable values come in a bare and a
	// braced form.
	toolReferenceRe = regexp.MustCompile(`~(?:\{([\w-]+)\}|([\w-]+))`)
)

// Parser splits raw request text into parts, resolving @agent mentions,
// #variable triggers, and ~tool references against its collaborators. All
// collaborators are optional; without them the corresponding triggers parse
// as plain text.
type Parser struct {
	agents    AgentLookup
	variables VariableService
	tools     *toolbox.Toolbox
}

type ParserOption func(*Parser)

func WithAgentLookup(agents AgentLookup) ParserOption {
	return func(p *Parser) { p.agents = agents }
}

func WithVariableService(variables VariableService) ParserOption {
	return func(p *Parser) { p.variables = variables }
}

func WithToolbox(tools *toolbox.Toolbox) ParserOption {
	return func(p *Parser) { p.tools = tools }
}

func NewParser(options ...ParserOption) *Parser {
	p := &Parser{}
	for _, option := range options {
		option(p)
	}
	return p
}

// Parse produces the ordered, non-overlapping part list covering the whole
// request text. Triggers are only recognized at the start of the text or
// after whitespace; anything unmatched becomes a text part. A leading /name
// turns the whole request into a prompt variable carrying the command and
// its argument string.
func (p *Parser) Parse(ctx context.Context, request Request, location Location) *ParsedRequest {
	parsed := &ParsedRequest{
		Request:      request,
		ToolRequests: map[string]*toolbox.ToolRequest{},
	}
	text := request.Text

	if part, ok := p.parseCommand(ctx, text); ok {
		parsed.Parts = []Part{part}
		p.collectResolutions(parsed)
		return parsed
	}

	var parts []Part
	textStart := 0
	i := 0
	for i < len(text) {
		c := text[i]
		if (c == '#' || c == '@' || c == '~') && (i == 0 || isTriggerBoundary(text[i-1])) {
			var part Part
			switch c {
			case '#':
				part = p.parseVariable(ctx, text, i)
			case '@':
				part = p.parseAgent(text, i, location)
			case '~':
				part = p.parseFunction(text, i)
			}
			if part != nil {
				if i > textStart {
					parts = append(parts, NewTextPart(OffsetRange{Start: textStart, EndExclusive: i}, text[textStart:i]))
				}
				parts = append(parts, part)
				i = part.Range().EndExclusive
				textStart = i
				continue
			}
		}
		i++
	}
	if textStart < len(text) || len(parts) == 0 {
		parts = append(parts, NewTextPart(OffsetRange{Start: textStart, EndExclusive: len(text)}, text[textStart:]))
	}

	parsed.Parts = parts
	p.collectResolutions(parsed)
	return parsed
}

// parseCommand handles /name [arguments] requests. The whole text becomes
// one variable part named prompt whose argument is the command name joined
// with the verbatim remainder by a pipe.
func (p *Parser) parseCommand(ctx context.Context, text string) (Part, bool) {
	match := commandTriggerRe.FindStringSubmatch(text)
	if match == nil {
		return nil, false
	}
	arg := match[1]
	rest := strings.TrimPrefix(text[len(match[0]):], " ")
	if rest != "" {
		arg += "|" + rest
	}
	part := NewVariablePart(OffsetRange{Start: 0, EndExclusive: len(text)}, text, "prompt", arg)
	if p.variables != nil {
		if resolved, ok := p.variables.Resolve(ctx, part.Name, part.Arg); ok {
			part.Resolve(resolved)
		}
	}
	return part, true
}

func (p *Parser) parseVariable(ctx context.Context, text string, offset int) Part {
	match := variableTriggerRe.FindStringSubmatch(text[offset:])
	if match == nil {
		return nil
	}
	rng := OffsetRange{Start: offset, EndExclusive: offset + len(match[0])}
	part := NewVariablePart(rng, match[0], match[1], match[2])
	if p.variables != nil {
		if resolved, ok := p.variables.Resolve(ctx, part.Name, part.Arg); ok {
			part.Resolve(resolved)
		}
	}
	return part
}

// parseAgent accepts a mention only as the very first token: no prior
// non-whitespace text and no other mention. Mentions of unknown agents and
// of agents that do not serve the current location stay plain text.
func (p *Parser) parseAgent(text string, offset int, location Location) Part {
	if p.agents == nil {
		return nil
	}
	match := agentTriggerRe.FindStringSubmatch(text[offset:])
	if match == nil {
		return nil
	}
	if strings.TrimSpace(text[:offset]) != "" {
		return nil
	}
	agent := p.agents.FindAgent(match[1])
	if agent == nil {
		return nil
	}
	if !AgentSupportsLocation(agent, location) {
		log.Debug().
			Str("agent", match[1]).
			Str("location", string(location)).
			Msg("mentioned agent does not support location, treating mention as text")
		return nil
	}
	rng := OffsetRange{Start: offset, EndExclusive: offset + len(match[0])}
	return NewAgentPart(rng, match[0], agent.ID(), agent.Name())
}

func (p *Parser) parseFunction(text string, offset int) Part {
	if p.tools == nil {
		return nil
	}
	match := functionTriggerRe.FindStringSubmatch(text[offset:])
	if match == nil {
		return nil
	}
	tool, ok := p.tools.Get(match[1])
	if !ok {
		return nil
	}
	rng := OffsetRange{Start: offset, EndExclusive: offset + len(match[0])}
	return NewFunctionPart(rng, match[0], tool)
}

// collectResolutions gathers resolved variables and referenced tools from
// the part list. Resolved variable values are scanned for ~id and ~{id}
// tool references so tools a variable pulls in are available to the agent.
func (p *Parser) collectResolutions(parsed *ParsedRequest) {
	for _, part := range parsed.Parts {
		switch typed := part.(type) {
		case *VariablePart:
			if typed.Resolution != nil {
				parsed.Variables = append(parsed.Variables, *typed.Resolution)
				p.collectToolReferences(parsed, typed.Resolution.Value)
			}
		case *FunctionPart:
			if typed.Tool != nil {
				parsed.ToolRequests[typed.Tool.ID] = typed.Tool
			}
		}
	}
}

func (p *Parser) collectToolReferences(parsed *ParsedRequest, value string) {
	if p.tools == nil {
		return
	}
	for _, match := range toolReferenceRe.FindAllStringSubmatch(value, -1) {
		id := match[1]
		if id == "" {
			id = match[2]
		}
		if _, ok := parsed.ToolRequests[id]; ok {
			continue
		}
		tool, ok := p.tools.Get(id)
		if !ok {
			log.Debug().Str("tool_id", id).Msg("variable value references unknown tool")
			continue
		}
		parsed.ToolRequests[id] = tool
	}
}

func isTriggerBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
