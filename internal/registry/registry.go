// Package registry implements tool name→definition lookup with
// case-insensitive repair, glob allow/deny filtering, and lazy MCP proxy
// synthesis (spec §4.2).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/agentrt/internal/mcp"
)

// ToolOutput is the result of executing a tool.
type ToolOutput struct {
	Content string
	IsError bool
}

// ExecuteFunc runs a tool. ctx carries cancellation; the engine does not
// attach the session id to it.
type ExecuteFunc func(ctx context.Context, input json.RawMessage) (ToolOutput, error)

// Definition is a tool as registered with the engine (spec §3 ToolDefinition).
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Execute     ExecuteFunc
}

// mcpNamePattern matches the mcp__{server}__{tool} namespacing of spec §4.2/§6.
var mcpNamePattern = regexp.MustCompile(`^mcp__([^_]+(?:_[^_]+)*)__(.+)$`)

// maxUnknownToolNames bounds how many available tool names are listed in an
// unknown-tool error (spec §4.2).
const maxUnknownToolNames = 10

// Filter configures the allow/deny tool filter (spec §4.2). Allow is either
// used alone (allow-only list) or combined with Deny.
type Filter struct {
	Allow []string
	Deny  []string
}

// Registry holds a session's resolved tool set: an exact name map and a
// lowercase→canonical map for repair, plus an optional MCP proxy for lazy
// mcp__ tool synthesis.
type Registry struct {
	exact     map[string]Definition
	lowerToCanon map[string]string
	proxy     *mcp.Proxy
}

// New builds a Registry from tool definitions, applying filter once (after
// any caller-side injections, e.g. the Skill tool — see spec §9's open
// question: injection happens before filtering, so a deny pattern can strip
// even an auto-injected tool; this is deliberate, see DESIGN.md).
func New(defs []Definition, filter *Filter, proxy *mcp.Proxy) (*Registry, error) {
	r := &Registry{
		exact:        make(map[string]Definition, len(defs)),
		lowerToCanon: make(map[string]string, len(defs)),
		proxy:        proxy,
	}
	for _, d := range defs {
		if err := validateSchema(d.InputSchema); err != nil {
			return nil, fmt.Errorf("registry: tool %q: %w", d.Name, err)
		}
		r.exact[d.Name] = d
		r.lowerToCanon[strings.ToLower(d.Name)] = d.Name
	}
	if filter != nil {
		r.applyFilter(*filter)
	}
	return r, nil
}

func (r *Registry) applyFilter(f Filter) {
	allow := compileGlobs(f.Allow)
	deny := compileGlobs(f.Deny)

	kept := make(map[string]Definition, len(r.exact))
	for name, def := range r.exact {
		if matchesAny(deny, name) {
			continue
		}
		if len(allow) > 0 && !matchesAny(allow, name) {
			continue
		}
		kept[name] = def
	}
	r.exact = kept
	r.lowerToCanon = make(map[string]string, len(kept))
	for name := range kept {
		r.lowerToCanon[strings.ToLower(name)] = name
	}
}

func compileGlobs(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, globToRegexp(p))
	}
	return out
}

// globToRegexp translates a glob pattern (`*` matches any run of characters,
// everything else is literal) into an anchored regexp.
func globToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, part := range strings.Split(pattern, "*") {
		b.WriteString(regexp.QuoteMeta(part))
		b.WriteString(".*")
	}
	s := b.String()
	s = strings.TrimSuffix(s, ".*") + "$"
	if !strings.HasSuffix(s, "$") {
		s += "$"
	}
	return regexp.MustCompile(s)
}

func matchesAny(patterns []*regexp.Regexp, name string) bool {
	for _, p := range patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// Names returns the registry's current tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.exact))
	for n := range r.exact {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the registry's current tool definitions, for
// presenting to a provider adapter.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.exact))
	for _, d := range r.exact {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve maps a model-emitted tool name to a Definition, applying repair:
// exact match, then case-insensitive canonical lookup, then (if the name
// matches mcp__{server}__{tool}) a lazily synthesized MCP proxy tool.
// ok is false if no definition could be resolved.
func (r *Registry) Resolve(name string) (Definition, bool) {
	if d, ok := r.exact[name]; ok {
		return d, true
	}
	if canon, ok := r.lowerToCanon[strings.ToLower(name)]; ok {
		log.Debug().Str("emitted", name).Str("canonical", canon).Msg("tool name repaired")
		return r.exact[canon], true
	}
	if r.proxy != nil && mcpNamePattern.MatchString(name) {
		return r.mcpProxyTool(name), true
	}
	return Definition{}, false
}

// mcpProxyTool synthesizes a Definition that dispatches through the MCP
// proxy under its namespaced name (spec §4.2, §6).
func (r *Registry) mcpProxyTool(name string) Definition {
	return Definition{
		Name: name,
		Execute: func(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
			res, err := r.proxy.CallTool(ctx, name, input)
			if err != nil {
				return ToolOutput{}, err
			}
			var text string
			for _, b := range res.Content {
				if b.Type == "text" {
					text += b.Text
				}
			}
			return ToolOutput{Content: text, IsError: res.IsError}, nil
		},
	}
}

// UnknownToolError builds the tool_result content for a dispatch to a name
// that could not be resolved: up to maxUnknownToolNames available names plus
// an overflow count (spec §4.2).
func (r *Registry) UnknownToolError(name string) string {
	names := r.Names()
	shown := names
	overflow := 0
	if len(shown) > maxUnknownToolNames {
		overflow = len(shown) - maxUnknownToolNames
		shown = shown[:maxUnknownToolNames]
	}
	msg := fmt.Sprintf("Unknown tool %q. Available tools: %s", name, strings.Join(shown, ", "))
	if overflow > 0 {
		msg += fmt.Sprintf(" (and %d more)", overflow)
	}
	return msg
}
