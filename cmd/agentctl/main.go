// Command agentctl is a minimal terminal wiring example for the Session
// Engine: config → registry → provider → mcp proxy → session manager →
// engine, reading user turns from stdin and streaming events to stdout.
// It exists to exercise the module end-to-end, not as a product CLI
// (interactive CLI surfaces are explicitly out of scope, see SPEC_FULL.md).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/agentrt/internal/config"
	"github.com/xonecas/agentrt/internal/hooks"
	"github.com/xonecas/agentrt/internal/mcp"
	"github.com/xonecas/agentrt/internal/prompt"
	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/registry"
	"github.com/xonecas/agentrt/internal/session"
	"github.com/xonecas/agentrt/internal/sessionstore"
	"github.com/xonecas/agentrt/internal/skill"
	"github.com/xonecas/agentrt/internal/subagent"
	"github.com/xonecas/agentrt/internal/truncate"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flagResume := flag.String("resume", "", "resume a session by id")
	flagFork := flag.String("fork", "", "fork a session by id")
	flagConfig := flag.String("config", "config.toml", "path to config.toml")
	flagListModels := flag.Bool("list-models", false, "list models available across every configured provider, then exit")
	flag.Parse()

	config.LoadDotEnv("")

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading credentials: %v\n", err)
		os.Exit(1)
	}

	if *flagListModels {
		listModels(cfg, creds)
		return
	}

	providerName, providerCfg := resolveProvider(cfg)
	prov := buildProvider(providerName, providerCfg, creds)
	defer prov.Close()

	dataDir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error preparing data dir: %v\n", err)
		os.Exit(1)
	}
	storage := sessionstore.NewFileStorage(filepath.Join(dataDir, "sessions"))
	mgr := sessionstore.NewManager(storage)

	ctx := context.Background()
	sess, err := mgr.Create(ctx, sessionstore.CreateConfig{Resume: *flagResume, Fork: *flagFork})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening session: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close(ctx, sess.ID())

	proxy := buildProxy(cfg, sess.ID())
	defer proxy.Close()
	if err := proxy.Initialize(context.Background()); err != nil {
		log.Warn().Err(err).Msg("mcp proxy initialize failed")
	}

	reg, err := buildRegistry(proxy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building registry: %v\n", err)
		os.Exit(1)
	}
	reg, err = withSubAgentTool(reg, prov, proxy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error wiring sub-agent tool: %v\n", err)
		os.Exit(1)
	}

	sysPrompt := prompt.Build(prompt.Config{
		Preset:  prompt.PresetDefault,
		Context: &prompt.Context{ToolNames: reg.Names()},
	})

	eng := session.NewEngine(sess, session.EngineOptions{
		Provider:     prov,
		Registry:     reg,
		Hooks:        hooks.NewRegistry(),
		Truncate:     truncate.NewGuard(),
		SystemPrompt: sysPrompt,
		Temperature:  providerCfg.Temperature,
	})

	fmt.Printf("session %s ready (provider=%s model=%s)\n", sess.ID(), providerName, providerCfg.Model)
	repl(ctx, eng)
}

func repl(ctx context.Context, eng *session.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := eng.Send(line); err != nil {
			fmt.Fprintf(os.Stderr, "send error: %v\n", err)
			continue
		}
		if err := drainTurn(ctx, eng); err != nil {
			fmt.Fprintf(os.Stderr, "turn error: %v\n", err)
		}
	}
}

func drainTurn(ctx context.Context, eng *session.Engine) error {
	ch, err := eng.Receive(ctx, session.ReceiveOptions{})
	if err != nil {
		return err
	}
	for ev := range ch {
		switch ev.Kind {
		case session.EventText:
			fmt.Print(ev.Text)
		case session.EventToolUse:
			fmt.Printf("\n[tool] %s %s\n", ev.ToolName, string(ev.ToolInput))
		case session.EventToolResult:
			fmt.Printf("[result] %s\n", ev.ToolResultContent)
		case session.EventStop:
			fmt.Printf("\n-- %s (tokens in=%d out=%d) --\n", ev.StopReason, ev.Usage.InputTokens, ev.Usage.OutputTokens)
		case session.EventError:
			return ev.Err
		}
	}
	return nil
}

func resolveProvider(cfg *config.Config) (string, config.ProviderConfig) {
	name := cfg.DefaultProvider
	if name == "" {
		for n := range cfg.Providers {
			name = n
			break
		}
	}
	return name, cfg.Providers[name]
}

func buildProvider(name string, pcfg config.ProviderConfig, creds *config.Credentials) provider.Provider {
	reg := provider.NewRegistry()
	reg.RegisterFactory(name, newFactory(name, pcfg.Type))
	p, err := reg.Create(name, pcfg.Model, provider.Options{
		Temperature: pcfg.Temperature,
		APIKey:      creds.GetAPIKey(name),
		BaseURL:     pcfg.Endpoint,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating provider: %v\n", err)
		os.Exit(1)
	}
	return p
}

// listModels registers every configured provider's factory and prints the
// concurrently fetched model list, exercising provider.Registry.ListAllModels
// (teacher's bubbletea TUI model picker called this; agentctl exposes the
// same call behind -list-models instead).
func listModels(cfg *config.Config, creds *config.Credentials) {
	reg := provider.NewRegistry()
	for name, pcfg := range cfg.Providers {
		reg.RegisterFactory(name, newFactory(name, pcfg.Type))
	}
	for _, tm := range reg.ListAllModels(context.Background(), provider.Options{}) {
		fmt.Printf("%s\t%s\n", tm.ProviderName, tm.Model.Name)
	}
}

func newFactory(name, kind string) provider.Factory {
	if kind == "openai" {
		return provider.NewOpenAIFactory(name)
	}
	return provider.NewAnthropicFactory(name)
}

func buildProxy(cfg *config.Config, sessionID string) *mcp.Proxy {
	var upstream mcp.UpstreamClient
	if cfg.MCP.Upstream != "" {
		upstream = mcp.NewClient(cfg.MCP.Upstream)
	}
	proxy := mcp.NewProxy(upstream)
	store := &memCredentialStore{}
	proxy.RegisterTool(mcp.NewSaveCredentialsTool(), mcp.MakeSaveCredentialsHandler(store, sessionID))
	proxy.RegisterTool(mcp.NewGetCredentialsTool(), mcp.MakeGetCredentialsHandler(store, sessionID))
	return proxy
}

// memCredentialStore is a process-local mcp.CredentialStore, wiring the
// worked credential-tool example to something that actually runs end-to-end.
type memCredentialStore struct {
	username, password map[string]string
}

func (s *memCredentialStore) SaveCredentials(sessionID, username, password string) error {
	if s.username == nil {
		s.username = map[string]string{}
		s.password = map[string]string{}
	}
	s.username[sessionID] = username
	s.password[sessionID] = password
	return nil
}

func (s *memCredentialStore) GetCredentials(sessionID string) (string, string, error) {
	return s.username[sessionID], s.password[sessionID], nil
}

func buildRegistry(proxy *mcp.Proxy) (*registry.Registry, error) {
	tools, err := proxy.ListTools(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("failed to list mcp tools")
		tools = nil
	}

	defs := make([]registry.Definition, 0, len(tools)+1)
	for _, t := range tools {
		defs = append(defs, localToolDefinition(proxy, t))
	}
	defs = append(defs, skill.Tool(skill.NopLoader{}))

	return registry.New(defs, nil, proxy)
}

// withSubAgentTool rebuilds reg with the SubAgent tool added, giving it a
// copy of reg's own definitions (minus itself) to run against.
func withSubAgentTool(reg *registry.Registry, prov provider.Provider, proxy *mcp.Proxy) (*registry.Registry, error) {
	defs := append(reg.Definitions(), subagent.Tool(subagent.ToolOptions{
		Provider: prov,
		Registry: reg,
		Depth:    0,
	}))
	return registry.New(defs, nil, proxy)
}

func localToolDefinition(proxy *mcp.Proxy, t mcp.Tool) registry.Definition {
	return registry.Definition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
		Execute: func(ctx context.Context, input json.RawMessage) (registry.ToolOutput, error) {
			res, err := proxy.CallTool(ctx, t.Name, input)
			if err != nil {
				return registry.ToolOutput{}, err
			}
			var text string
			for _, b := range res.Content {
				if b.Type == "text" {
					text += b.Text
				}
			}
			return registry.ToolOutput{Content: text, IsError: res.IsError}, nil
		},
	}
}
