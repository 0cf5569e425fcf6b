package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/agentrt/internal/retry"
	"github.com/xonecas/agentrt/internal/stream"
)

const defaultAnthropicBaseURL = "https://api.anthropic.com"

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	temp    float64
}

// NewAnthropic creates a Provider backed by the Anthropic Messages API.
func NewAnthropic(name, model string, opts Options) *AnthropicProvider {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicProvider{
		name:    name,
		model:   model,
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		client:  &http.Client{},
		temp:    opts.Temperature,
	}
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]Model, error) {
	return nil, nil
}

// Anthropic Messages API request types.

type anthropicRequest struct {
	Model       string                `json:"model"`
	Messages    []anthropicMessage    `json:"messages"`
	System      []anthropicCacheBlock `json:"system,omitempty"`
	MaxTokens   int                   `json:"max_tokens"`
	Temperature float64               `json:"temperature,omitempty"`
	Stream      bool                  `json:"stream"`
	Tools       []anthropicTool       `json:"tools,omitempty"`
}

// anthropicCacheControl marks a block for prompt caching.
type anthropicCacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

// anthropicCacheBlock is a system prompt content block with optional cache_control.
type anthropicCacheBlock struct {
	Type         string                 `json:"type"` // "text"
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []interface{} of blocks
}

type anthropicTextBlock struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"` // "tool_use"
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"` // "tool_result"
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	InputSchema  json.RawMessage        `json:"input_schema"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

// Anthropic SSE streaming response types.

type anthropicMessageStart struct {
	Message struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type anthropicMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicContentBlockStart struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"` // "text" or "tool_use"
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block"`
}

type anthropicContentBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"` // "text_delta", "input_json_delta"
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

// toAnthropicMessages converts the canonical Message/ContentBlock model to
// Anthropic Messages API shapes. Returns (system blocks, messages); the last
// system block is marked for prompt caching.
func toAnthropicMessages(messages []Message) ([]anthropicCacheBlock, []anthropicMessage) {
	var systemParts []string
	var result []anthropicMessage

	for _, m := range messages {
		if m.Role == RoleSystem {
			systemParts = append(systemParts, m.Text)
			continue
		}

		if !m.HasBlocks() {
			result = append(result, anthropicMessage{Role: string(m.Role), Content: m.Text})
			continue
		}

		var blocks []interface{}
		for _, b := range m.Blocks {
			switch b.Kind {
			case stream.BlockText:
				blocks = append(blocks, anthropicTextBlock{Type: "text", Text: b.Text})
			case stream.BlockToolUse:
				input := b.ToolInput
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropicToolUseBlock{
					Type: "tool_use", ID: b.ToolUseID, Name: b.ToolName, Input: input,
				})
			case stream.BlockToolResult:
				blocks = append(blocks, anthropicToolResultBlock{
					Type: "tool_result", ToolUseID: b.ToolResultForID,
					Content: b.ToolResultText, IsError: b.IsError,
				})
			}
		}
		result = append(result, anthropicMessage{Role: string(m.Role), Content: blocks})
	}

	var system []anthropicCacheBlock
	if len(systemParts) > 0 {
		system = make([]anthropicCacheBlock, len(systemParts))
		for i, part := range systemParts {
			system[i] = anthropicCacheBlock{Type: "text", Text: part}
		}
		system[len(system)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	}
	return system, result
}

// toAnthropicTools converts provider-agnostic tools to Anthropic tool format.
// InputSchema is passed through as json.RawMessage to preserve deterministic
// serialization order (important for KV-cache hit rate).
func toAnthropicTools(tools []Tool) []anthropicTool {
	if tools == nil {
		return nil
	}
	emptySchema := json.RawMessage(`{"type":"object","properties":{}}`)
	result := make([]anthropicTool, len(tools))
	for i, t := range tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = emptySchema
		}
		result[i] = anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema}
	}
	if len(result) > 0 {
		result[len(result)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	}
	return result
}

// ChatStream sends req to the Anthropic Messages API and returns a channel
// of canonical stream events.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req Request) (<-chan stream.Event, error) {
	system, messages := toAnthropicMessages(req.Messages)
	if req.SystemPrompt != "" {
		system = append([]anthropicCacheBlock{{Type: "text", Text: req.SystemPrompt}}, system...)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	body := anthropicRequest{
		Model:       p.model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
		Tools:       toAnthropicTools(req.Tools),
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	resp, err := dialSSEWithRetry(ctx, p.client, http.MethodPost, p.baseURL+"/v1/messages", raw, map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
		"content-type":      "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	ch := make(chan stream.Event)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		parseAnthropicSSEStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// dialSSEWithRetry opens an SSE connection, retrying transient transport
// failures (5xx/429/timeout/connection-reset) through the shared
// internal/retry policy.
func dialSSEWithRetry(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	return retry.Do(ctx, retry.DefaultPolicy(), "anthropic.dial", func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}
		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if retry.StatusRetryable(resp.StatusCode) {
			resp.Body.Close()
			return nil, fmt.Errorf("transient status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
		}
		return resp, nil
	})
}

// anthropicBlockTracker maps Anthropic content-block indices to their kind so
// deltas can be routed to the canonical event shape.
type anthropicBlockTracker struct {
	blockKind map[int]string
}

func newAnthropicBlockTracker() *anthropicBlockTracker {
	return &anthropicBlockTracker{blockKind: make(map[int]string)}
}

func parseAnthropicSSEStream(ctx context.Context, reader io.Reader, ch chan<- stream.Event) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	bt := newAnthropicBlockTracker()
	var currentEventType string

	send := func(ev stream.Event) bool {
		select {
		case <-ctx.Done():
			return false
		case ch <- ev:
			return true
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			currentEventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEventType {
		case "message_start":
			var ms anthropicMessageStart
			if err := json.Unmarshal([]byte(data), &ms); err == nil {
				if !send(stream.Event{Type: stream.EventMessageStart, InputTokens: ms.Message.Usage.InputTokens}) {
					return
				}
			}
		case "content_block_start":
			var evt anthropicContentBlockStart
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				log.Warn().Err(err).Msg("anthropic: failed to parse content_block_start")
				continue
			}
			kind := stream.BlockText
			if evt.ContentBlock.Type == "tool_use" {
				kind = stream.BlockToolUse
			}
			bt.blockKind[evt.Index] = string(kind)
			if !send(stream.Event{
				Type: stream.EventContentBlockStart, Index: evt.Index, BlockKind: kind,
				ToolUseID: evt.ContentBlock.ID, ToolName: evt.ContentBlock.Name,
			}) {
				return
			}
		case "content_block_delta":
			var evt anthropicContentBlockDelta
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				log.Warn().Err(err).Msg("anthropic: failed to parse content_block_delta")
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				if !send(stream.Event{Type: stream.EventContentBlockDelta, Index: evt.Index, DeltaKind: stream.DeltaText, TextDelta: evt.Delta.Text}) {
					return
				}
			case "input_json_delta":
				if !send(stream.Event{Type: stream.EventContentBlockDelta, Index: evt.Index, DeltaKind: stream.DeltaJSON, PartialJSON: evt.Delta.PartialJSON}) {
					return
				}
			}
		case "content_block_stop":
			var evt struct {
				Index int `json:"index"`
			}
			json.Unmarshal([]byte(data), &evt)
			if !send(stream.Event{Type: stream.EventContentBlockStop, Index: evt.Index}) {
				return
			}
		case "message_delta":
			var md anthropicMessageDelta
			if err := json.Unmarshal([]byte(data), &md); err == nil {
				if !send(stream.Event{Type: stream.EventMessageDelta, StopReason: md.Delta.StopReason, OutputTokens: md.Usage.OutputTokens}) {
					return
				}
			}
		case "message_stop":
			send(stream.Event{Type: stream.EventMessageStop})
			return
		case "ping":
			// ignored
		}

		currentEventType = ""
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("anthropic: SSE scan error")
	}
	send(stream.Event{Type: stream.EventMessageStop})
}
