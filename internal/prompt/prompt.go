// Package prompt assembles the system prompt sent with each provider
// request (spec §4.8, C8): a preset template plus prepend/append strings
// plus loaded project-context files, or a plain string used verbatim.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Preset selects a built-in template.
type Preset string

const (
	PresetClaudeCode Preset = "claude_code"
	PresetDefault    Preset = "default"
	PresetMinimal    Preset = "minimal"
)

const claudeCodePreset = `You are an interactive CLI agent. You have access to tools for reading and
modifying files, running commands, and searching code. Use them to complete
the user's request directly rather than describing what you would do.

Available tools: {{tools}}
Working directory: {{cwd}}
Platform: {{platform}}
Current time: {{time}}`

const defaultPreset = `You are a helpful assistant with access to tools. Use the available tools
when they help answer the user's request.

Available tools: {{tools}}`

const minimalPreset = `You are a helpful assistant.`

var presets = map[Preset]string{
	PresetClaudeCode: claudeCodePreset,
	PresetDefault:    defaultPreset,
	PresetMinimal:    minimalPreset,
}

// Context contributes template substitutions drawn from the runtime
// environment (spec §4.8's `context` option).
type Context struct {
	ToolNames []string
	CWD       string
	Platform  string
	Now       time.Time
	ShellEnv  map[string]string
}

// Config is the structured form of a system-prompt input (spec §4.8's
// option table). An empty Config with only Custom set bypasses presets.
type Config struct {
	Preset  Preset
	Prepend string
	Append  string
	Context *Context

	// SettingSources are scanned in order for project-context markdown
	// files (e.g. CLAUDE.md); their contents are merged with blank-line
	// separators and concatenated after the built prompt.
	SettingSources []string

	// Custom bypasses presets entirely; used verbatim in place of the
	// built template.
	Custom string
}

// Build assembles the final system prompt from cfg. The result is "" iff
// every contributing section is empty (spec §4.8: "the final prompt is
// undefined iff all inputs are empty").
func Build(cfg Config) string {
	var sections []string

	if strings.TrimSpace(cfg.Prepend) != "" {
		sections = append(sections, strings.TrimSpace(cfg.Prepend))
	}

	base := cfg.Custom
	if base == "" {
		base = presets[cfg.Preset]
		if base == "" && cfg.Preset != "" {
			// Unknown (but non-empty) preset name: fall back to default
			// rather than emitting an empty section.
			base = presets[PresetDefault]
		}
		base = substitute(base, cfg.Context)
	}
	if strings.TrimSpace(base) != "" {
		sections = append(sections, strings.TrimSpace(base))
	}

	if strings.TrimSpace(cfg.Append) != "" {
		sections = append(sections, strings.TrimSpace(cfg.Append))
	}

	if projectCtx := loadSettingSources(cfg.SettingSources); projectCtx != "" {
		sections = append(sections, projectCtx)
	}

	return strings.Join(sections, "\n\n---\n\n")
}

// BuildVerbatim returns s unchanged (spec §4.8: "a plain string, used
// verbatim").
func BuildVerbatim(s string) string { return s }

func substitute(tmpl string, c *Context) string {
	if c == nil {
		c = &Context{}
	}
	replacer := strings.NewReplacer(
		"{{tools}}", strings.Join(c.ToolNames, ", "),
		"{{cwd}}", c.CWD,
		"{{platform}}", orDefault(c.Platform, runtime.GOOS),
		"{{time}}", formatTime(c.Now),
	)
	return replacer.Replace(tmpl)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// loadSettingSources reads project-context markdown files (e.g. CLAUDE.md)
// from each directory in order, merging their contents with blank-line
// separators (spec §4.8's `settingSources` option).
func loadSettingSources(dirs []string) string {
	var parts []string
	for _, dir := range dirs {
		for _, name := range []string{"CLAUDE.md", "AGENTS.md"} {
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			content := strings.TrimSpace(string(data))
			if content == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("Instructions from: %s\n%s", path, content))
		}
	}
	return strings.Join(parts, "\n\n")
}
