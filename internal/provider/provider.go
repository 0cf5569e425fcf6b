// Package provider defines the LLM provider interface and implementations.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/agentrt/internal/stream"
)

// ErrProviderNotFound is returned when a requested provider doesn't exist.
var ErrProviderNotFound = errors.New("provider not found")

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in the conversation history. Content is either a
// plain string (the user shortcut) or an ordered sequence of content blocks;
// exactly one of the two is populated.
type Message struct {
	ID         string
	Role       Role
	Text       string                `json:",omitempty"`
	Blocks     []stream.ContentBlock `json:",omitempty"`
	StopReason string                `json:",omitempty"`
	Usage      *stream.Usage         `json:",omitempty"`
	CreatedAt  time.Time
}

// HasBlocks reports whether the message carries structured content blocks
// rather than a plain text shortcut.
func (m Message) HasBlocks() bool {
	return len(m.Blocks) > 0
}

// ToolUses returns the tool_use blocks in m, in order.
func (m Message) ToolUses() []stream.ContentBlock {
	var out []stream.ContentBlock
	for _, b := range m.Blocks {
		if b.Kind == stream.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// Tool is a tool/function definition as presented to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  []byte // JSON Schema
}

// Model describes a model available from a provider.
type Model struct {
	Name       string
	Size       int64
	Digest     string
	ModifiedAt time.Time
	Family     string
}

// Request bundles everything a provider adapter needs to start a streamed
// turn (spec §6's external-interface shape).
type Request struct {
	Messages     []Message
	Tools        []Tool
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Provider defines the interface for LLM providers. ChatStream returns a
// channel of canonical stream events; the channel is closed when the
// provider's response is exhausted or an error terminates it early.
type Provider interface {
	Name() string
	ChatStream(ctx context.Context, req Request) (<-chan stream.Event, error)
	ListModels(ctx context.Context) ([]Model, error)
	Close() error
}

// Options holds provider generation settings.
type Options struct {
	Temperature float64
	APIKey      string
	BaseURL     string
}

// Factory constructs a Provider for a given model.
type Factory interface {
	Name() string
	Create(model string, opts Options) Provider
}

// Registry holds available provider factories, keyed by name.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) RegisterFactory(name string, f Factory) {
	r.factories[name] = f
}

func (r *Registry) Create(name, model string, opts Options) (Provider, error) {
	f, ok := r.factories[name]
	if !ok {
		log.Error().Str("name", name).Str("model", model).Msg("provider factory not found")
		return nil, ErrProviderNotFound
	}
	return f.Create(model, opts), nil
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// TaggedModel pairs a provider config name with a model.
type TaggedModel struct {
	ProviderName string
	Model        Model
}

// ListAllModels concurrently fetches models from every registered provider.
// Errors from individual providers are logged and skipped so a single
// unavailable provider does not block the rest.
func (r *Registry) ListAllModels(ctx context.Context, opts Options) []TaggedModel {
	type result struct {
		name   string
		models []Model
	}
	ch := make(chan result, len(r.factories))
	for name := range r.factories {
		name := name
		go func() {
			prov := r.factories[name].Create("", opts)
			models, err := prov.ListModels(ctx)
			prov.Close()
			if err != nil {
				log.Warn().Str("provider", name).Err(err).Msg("ListAllModels: provider error")
				ch <- result{name: name}
				return
			}
			ch <- result{name: name, models: models}
		}()
	}
	var all []TaggedModel
	for range r.factories {
		res := <-ch
		for _, m := range res.models {
			all = append(all, TaggedModel{ProviderName: res.name, Model: m})
		}
	}
	return all
}
