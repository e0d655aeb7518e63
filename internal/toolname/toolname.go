// Package toolname implements the canonical tool-naming scheme the agent
// loop and tool registry share: a closed tagged union over built-in tools,
// MCP tools, and sub-agents, plus the pattern language used in an agent's
// configured tool allow-list.
package toolname

import (
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates the variants of Name.
type Kind int

const (
	// BuiltInKind names a tool implemented in-process (file read/write, exec, ...).
	BuiltInKind Kind = iota
	// MCPKind names a tool exposed by a running MCP server.
	MCPKind
	// AgentKind names a sub-agent invocable as a tool.
	AgentKind
)

func (k Kind) String() string {
	switch k {
	case BuiltInKind:
		return "builtin"
	case MCPKind:
		return "mcp"
	case AgentKind:
		return "agent"
	default:
		return "unknown"
	}
}

// Name is the canonical, hashable identity of a tool: a tagged union over
// BuiltIn(name) | Mcp{server, tool} | Agent(name). Two Names are equal iff
// they describe the same tool, so Name is safe to use as a map key.
type Name struct {
	Kind   Kind
	Server string // set only for MCPKind
	Tool   string // builtin/agent name, or the MCP tool name within Server
}

// BuiltIn constructs the canonical name of a built-in tool.
func BuiltIn(name string) Name { return Name{Kind: BuiltInKind, Tool: name} }

// MCP constructs the canonical name of an MCP tool on the given server.
func MCP(server, tool string) Name { return Name{Kind: MCPKind, Server: server, Tool: tool} }

// Agent constructs the canonical name of a sub-agent invoked as a tool.
func Agent(name string) Name { return Name{Kind: AgentKind, Tool: name} }

// FullName renders the printable form of a Name: "name" for a built-in,
// "@server/tool" for an MCP tool, "#agent" for a sub-agent.
func (n Name) FullName() string {
	switch n.Kind {
	case MCPKind:
		return "@" + n.Server + "/" + n.Tool
	case AgentKind:
		return "#" + n.Tool
	default:
		return n.Tool
	}
}

// String implements fmt.Stringer as FullName, so a Name prints legibly in
// logs and error messages without an explicit FullName() call.
func (n Name) String() string { return n.FullName() }

// ErrNotFullName is returned by ParseFullName when the input cannot be a
// literal full name (it contains a glob metacharacter, or an MCP/agent
// form is missing its name part).
var ErrNotFullName = errors.New("toolname: not a literal full name")

// ParseFullName parses the printable form of a Name back into a Name. It is
// the left inverse of FullName: for every Name n, ParseFullName(n.FullName())
// returns n, nil.
func ParseFullName(s string) (Name, error) {
	switch {
	case strings.HasPrefix(s, "@"):
		rest := s[1:]
		server, tool, ok := strings.Cut(rest, "/")
		if !ok || server == "" || tool == "" || strings.ContainsAny(rest, "*") {
			return Name{}, fmt.Errorf("%w: %q", ErrNotFullName, s)
		}
		return MCP(server, tool), nil
	case strings.HasPrefix(s, "#"):
		name := s[1:]
		if name == "" || strings.ContainsAny(name, "*") {
			return Name{}, fmt.Errorf("%w: %q", ErrNotFullName, s)
		}
		return Agent(name), nil
	default:
		if s == "" || s == "*" || strings.ContainsAny(s, "*") {
			return Name{}, fmt.Errorf("%w: %q", ErrNotFullName, s)
		}
		return BuiltIn(s), nil
	}
}

// PatternKind discriminates the variants a tool-allow-list entry can parse
// to.
type PatternKind int

const (
	// PatternAll matches every tool ("*").
	PatternAll PatternKind = iota
	// PatternAllBuiltIn matches every built-in tool ("@builtin").
	PatternAllBuiltIn
	// PatternMCPServer matches every tool of one MCP server ("@server").
	PatternMCPServer
	// PatternMCPExact matches one exact MCP tool ("@server/tool").
	PatternMCPExact
	// PatternMCPGlob glob-matches tools of one MCP server ("@server/pat*tern").
	PatternMCPGlob
	// PatternAgentExact matches one exact sub-agent ("#agent").
	PatternAgentExact
	// PatternAgentGlob glob-matches sub-agent names ("#pat*tern").
	PatternAgentGlob
	// PatternBuiltInExact matches one exact built-in tool ("name").
	PatternBuiltInExact
	// PatternBuiltInGlob glob-matches built-in tool names ("pat*tern").
	PatternBuiltInGlob
)

// Pattern is a parsed tool-allow-list entry.
type Pattern struct {
	Kind   PatternKind
	Server string // set for the @server and @server/... kinds
	Glob   string // the name/tool part, possibly containing '*'
	raw    string
}

// String returns the original pattern text.
func (p Pattern) String() string { return p.raw }

// ParsePattern parses one entry of an agent configuration's tool allow-list
// into a Pattern. It is a total function over non-empty strings: every
// non-empty input parses to some Pattern without error. Only the empty
// string is rejected.
func ParsePattern(s string) (Pattern, error) {
	if s == "" {
		return Pattern{}, errors.New("toolname: empty tool pattern")
	}
	if s == "*" {
		return Pattern{Kind: PatternAll, raw: s}, nil
	}
	if s == "@builtin" {
		return Pattern{Kind: PatternAllBuiltIn, raw: s}, nil
	}
	if strings.HasPrefix(s, "@") {
		rest := s[1:]
		server, tool, hasSlash := strings.Cut(rest, "/")
		if server == "" {
			return Pattern{}, fmt.Errorf("toolname: invalid pattern %q: empty server name", s)
		}
		if !hasSlash {
			return Pattern{Kind: PatternMCPServer, Server: server, raw: s}, nil
		}
		if tool == "" {
			return Pattern{}, fmt.Errorf("toolname: invalid pattern %q: empty tool name", s)
		}
		if strings.Contains(tool, "*") {
			return Pattern{Kind: PatternMCPGlob, Server: server, Glob: tool, raw: s}, nil
		}
		return Pattern{Kind: PatternMCPExact, Server: server, Glob: tool, raw: s}, nil
	}
	if strings.HasPrefix(s, "#") {
		name := s[1:]
		if name == "" {
			return Pattern{}, fmt.Errorf("toolname: invalid pattern %q: empty agent name", s)
		}
		if strings.Contains(name, "*") {
			return Pattern{Kind: PatternAgentGlob, Glob: name, raw: s}, nil
		}
		return Pattern{Kind: PatternAgentExact, Glob: name, raw: s}, nil
	}
	if strings.Contains(s, "*") {
		return Pattern{Kind: PatternBuiltInGlob, Glob: s, raw: s}, nil
	}
	return Pattern{Kind: PatternBuiltInExact, Glob: s, raw: s}, nil
}

// Matches reports whether the pattern selects the given canonical Name.
func (p Pattern) Matches(n Name) bool {
	switch p.Kind {
	case PatternAll:
		return true
	case PatternAllBuiltIn:
		return n.Kind == BuiltInKind
	case PatternMCPServer:
		return n.Kind == MCPKind && n.Server == p.Server
	case PatternMCPExact:
		return n.Kind == MCPKind && n.Server == p.Server && n.Tool == p.Glob
	case PatternMCPGlob:
		return n.Kind == MCPKind && n.Server == p.Server && globMatch(p.Glob, n.Tool)
	case PatternAgentExact:
		return n.Kind == AgentKind && n.Tool == p.Glob
	case PatternAgentGlob:
		return n.Kind == AgentKind && globMatch(p.Glob, n.Tool)
	case PatternBuiltInExact:
		return n.Kind == BuiltInKind && n.Tool == p.Glob
	case PatternBuiltInGlob:
		return n.Kind == BuiltInKind && globMatch(p.Glob, n.Tool)
	default:
		return false
	}
}

// globMatch implements the single-'*'-as-wildcard matching the pattern
// table uses (e.g. "pat*tern"); '*' may appear anywhere, including more
// than once, and matches any run of characters including none.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	if !strings.HasSuffix(s, parts[len(parts)-1]) {
		return false
	}
	s = s[:len(s)-len(parts[len(parts)-1])]
	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return true
}

// NameDoesNotExistError is returned by Resolve when a pattern, or an exact
// name it names, does not match any tool the Catalog knows about.
type NameDoesNotExistError struct {
	Pattern string
}

func (e *NameDoesNotExistError) Error() string {
	return fmt.Sprintf("toolname: %q does not exist", e.Pattern)
}

// AmbiguousToolNameError is returned by Resolve when a bare display name
// collides across more than one source (e.g. a built-in and an MCP tool
// both expose the same display alias to the model).
type AmbiguousToolNameError struct {
	DisplayName string
	Candidates  []Name
}

func (e *AmbiguousToolNameError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.FullName()
	}
	return fmt.Sprintf("toolname: %q is ambiguous among %s", e.DisplayName, strings.Join(names, ", "))
}

// Catalog is the set of tools actually available to resolve patterns
// against: the built-in registry plus whatever the MCP manager has
// discovered and whatever sub-agents are configured.
type Catalog struct {
	BuiltIns []string
	// MCPTools maps server name to the tool names it currently exposes.
	MCPTools map[string][]string
	Agents   []string
}

// Resolve expands a list of configured tool patterns into the concrete set
// of canonical Names they select, validated against the Catalog. Unknown
// literal names/tools surface NameDoesNotExistError; glob patterns that
// match nothing are not an error (an agent's config may list a pattern for
// a server that hasn't launched yet).
func (c Catalog) Resolve(patterns []string) ([]Name, error) {
	seen := make(map[Name]bool)
	var out []Name
	add := func(n Name) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}

	for _, raw := range patterns {
		p, err := ParsePattern(raw)
		if err != nil {
			return nil, err
		}
		switch p.Kind {
		case PatternAll:
			for _, b := range c.BuiltIns {
				add(BuiltIn(b))
			}
			for server, tools := range c.MCPTools {
				for _, t := range tools {
					add(MCP(server, t))
				}
			}
			for _, a := range c.Agents {
				add(Agent(a))
			}
		case PatternAllBuiltIn:
			for _, b := range c.BuiltIns {
				add(BuiltIn(b))
			}
		case PatternMCPServer:
			tools, ok := c.MCPTools[p.Server]
			if !ok {
				return nil, &NameDoesNotExistError{Pattern: raw}
			}
			for _, t := range tools {
				add(MCP(p.Server, t))
			}
		case PatternMCPExact:
			tools, ok := c.MCPTools[p.Server]
			if !ok || !containsString(tools, p.Glob) {
				return nil, &NameDoesNotExistError{Pattern: raw}
			}
			add(MCP(p.Server, p.Glob))
		case PatternMCPGlob:
			tools := c.MCPTools[p.Server]
			for _, t := range tools {
				if globMatch(p.Glob, t) {
					add(MCP(p.Server, t))
				}
			}
		case PatternAgentExact:
			if !containsString(c.Agents, p.Glob) {
				return nil, &NameDoesNotExistError{Pattern: raw}
			}
			add(Agent(p.Glob))
		case PatternAgentGlob:
			for _, a := range c.Agents {
				if globMatch(p.Glob, a) {
					add(Agent(a))
				}
			}
		case PatternBuiltInExact:
			if !containsString(c.BuiltIns, p.Glob) {
				return nil, &NameDoesNotExistError{Pattern: raw}
			}
			add(BuiltIn(p.Glob))
		case PatternBuiltInGlob:
			for _, b := range c.BuiltIns {
				if globMatch(p.Glob, b) {
					add(BuiltIn(b))
				}
			}
		}
	}
	return out, nil
}

// ResolveOne resolves a single model-facing display name to the Name it
// denotes, the first step of the tool-use parsing pipeline. A display
// name is either a literal full name
// ("@server/tool", "#agent") or a bare built-in name; bare names that
// collide between the built-in registry and an MCP tool sharing the same
// display alias surface AmbiguousToolNameError.
func (c Catalog) ResolveOne(display string) (Name, error) {
	if n, err := ParseFullName(display); err == nil {
		switch n.Kind {
		case MCPKind:
			if tools, ok := c.MCPTools[n.Server]; ok && containsString(tools, n.Tool) {
				return n, nil
			}
			return Name{}, &NameDoesNotExistError{Pattern: display}
		case AgentKind:
			if containsString(c.Agents, n.Tool) {
				return n, nil
			}
			return Name{}, &NameDoesNotExistError{Pattern: display}
		}
	}

	var candidates []Name
	if containsString(c.BuiltIns, display) {
		candidates = append(candidates, BuiltIn(display))
	}
	for server, tools := range c.MCPTools {
		if containsString(tools, display) {
			candidates = append(candidates, MCP(server, display))
		}
	}
	switch len(candidates) {
	case 0:
		return Name{}, &NameDoesNotExistError{Pattern: display}
	case 1:
		return candidates[0], nil
	default:
		return Name{}, &AmbiguousToolNameError{DisplayName: display, Candidates: candidates}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
