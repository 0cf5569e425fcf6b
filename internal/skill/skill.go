// Package skill defines the skill-loader collaborator interface (spec §6).
// The skill-file parser and its frontmatter YAML subset are explicitly out
// of scope for the engine (spec §1); this package only declares the shape
// the Session Engine depends on to synthesize a Skill tool (spec §4.2).
package skill

import "context"

// Skill is a named, trigger-activated block of supplementary system-prompt
// content loaded from a directory of markdown files (see GLOSSARY).
type Skill struct {
	Name        string
	Description string
	Content     string
	Path        string
}

// DiscoverOptions configures a skill discovery pass.
type DiscoverOptions struct {
	Directories    []string
	IncludeUser    bool
	IncludeProject bool
	MaxDepth       int
}

// ActivationContext carries per-turn context a loader may use to decide
// whether a skill should activate for the current user message.
type ActivationContext struct {
	SessionID string
	CWD       string
}

// Activation is the result of checking whether any skills should engage for
// a given message.
type Activation struct {
	ShouldActivate       bool
	Skills               []Skill
	SystemPromptAddition string
}

// Loader discovers, searches, and activates skills. The concrete
// implementation (markdown + frontmatter parsing) lives outside this
// module; the engine only depends on this interface.
type Loader interface {
	Discover(ctx context.Context, opts DiscoverOptions) ([]Skill, error)
	Search(ctx context.Context, query string) ([]Skill, error)
	CheckActivation(ctx context.Context, message string, actx ActivationContext) (Activation, error)
}

// NopLoader is a Loader that discovers nothing and never activates. It is
// the loader cmd/agentctl hands to the Skill tool, and is useful as a test
// double.
type NopLoader struct{}

func (NopLoader) Discover(context.Context, DiscoverOptions) ([]Skill, error) { return nil, nil }
func (NopLoader) Search(context.Context, string) ([]Skill, error)            { return nil, nil }
func (NopLoader) CheckActivation(context.Context, string, ActivationContext) (Activation, error) {
	return Activation{}, nil
}
