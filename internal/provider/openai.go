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
	openai "github.com/sashabaranov/go-openai"

	"github.com/xonecas/agentrt/internal/retry"
	"github.com/xonecas/agentrt/internal/stream"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIProvider talks to an OpenAI-style Chat Completions endpoint (OpenAI
// itself, or any gateway that speaks the same wire format).
type OpenAIProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	temp    float64
}

// NewOpenAI creates a Provider backed by the Chat Completions streaming API.
func NewOpenAI(name, model string, opts Options) *OpenAIProvider {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		name:    name,
		model:   model,
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		client:  &http.Client{},
		temp:    opts.Temperature,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]Model, error) {
	return nil, nil
}

// chatCompletionStreamResponse is one SSE chunk of the Chat Completions
// streaming format. Unlike Anthropic, OpenAI carries no explicit
// content_block_start/stop framing; block boundaries are inferred from the
// first appearance of a given tool-call index (see openaiBlockTracker.emitDelta).
type chatCompletionStreamResponse struct {
	Choices []chatCompletionStreamChoice `json:"choices"`
	Usage   *chatCompletionUsage         `json:"usage,omitempty"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatCompletionStreamChoice struct {
	Delta        chatCompletionStreamDelta `json:"delta"`
	FinishReason *string                   `json:"finish_reason"`
}

type chatCompletionStreamDelta struct {
	Role      string                   `json:"role,omitempty"`
	Content   string                   `json:"content,omitempty"`
	ToolCalls []chatCompletionToolCall `json:"tool_calls,omitempty"`
}

type chatCompletionToolCall struct {
	Index    int                    `json:"index"`
	ID       string                 `json:"id"`
	Function chatCompletionFunction `json:"function"`
}

type chatCompletionFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// toOpenAIMessages converts the canonical Message/ContentBlock model to the
// go-openai SDK's flat message shape.
func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	for _, m := range messages {
		if !m.HasBlocks() {
			result = append(result, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Text})
			continue
		}

		var toolCalls []openai.ToolCall
		var text strings.Builder
		for _, b := range m.Blocks {
			switch b.Kind {
			case stream.BlockText:
				text.WriteString(b.Text)
			case stream.BlockToolUse:
				input := b.ToolInput
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					ID: b.ToolUseID, Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: b.ToolName, Arguments: string(input)},
				})
			case stream.BlockToolResult:
				result = append(result, openai.ChatCompletionMessage{
					Role: "tool", Content: b.ToolResultText, ToolCallID: b.ToolResultForID,
				})
			}
		}
		if toolCalls != nil || text.Len() > 0 {
			result = append(result, openai.ChatCompletionMessage{
				Role: string(m.Role), Content: text.String(), ToolCalls: toolCalls,
			})
		}
	}
	return result
}

// mergeSystemMessages folds every system message into a single leading one,
// preserving conversation order of the rest.
func mergeSystemMessages(messages []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	if len(messages) == 0 {
		return messages
	}
	var systemParts []string
	var rest []openai.ChatCompletionMessage
	for _, m := range messages {
		if m.Role == string(RoleSystem) {
			systemParts = append(systemParts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	if len(systemParts) == 0 {
		return rest
	}
	merged := append([]openai.ChatCompletionMessage{{
		Role:    string(RoleSystem),
		Content: strings.Join(systemParts, "\n\n"),
	}}, rest...)
	return merged
}

// toOpenAITools converts provider-agnostic tools to OpenAI SDK tool format.
// Parameters is passed through as json.RawMessage to preserve deterministic
// serialization order (important for KV-cache hit rate).
func toOpenAITools(tools []Tool) []openai.Tool {
	if tools == nil {
		return nil
	}
	emptyParams := json.RawMessage(`{"type":"object","properties":{}}`)
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = emptyParams
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name: t.Name, Description: t.Description, Parameters: params,
			},
		}
	}
	return result
}

// ChatStream sends req to the Chat Completions endpoint and returns a
// channel of canonical stream events.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req Request) (<-chan stream.Event, error) {
	messages := toOpenAIMessages(req.Messages)
	if req.SystemPrompt != "" {
		messages = append([]openai.ChatCompletionMessage{{Role: string(RoleSystem), Content: req.SystemPrompt}}, messages...)
	}
	messages = mergeSystemMessages(messages)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	body := struct {
		Model       string                         `json:"model"`
		Messages    []openai.ChatCompletionMessage `json:"messages"`
		MaxTokens   int                            `json:"max_tokens"`
		Temperature float64                        `json:"temperature,omitempty"`
		Stream      bool                           `json:"stream"`
		Tools       []openai.Tool                  `json:"tools,omitempty"`
		StreamOpts  struct {
			IncludeUsage bool `json:"include_usage"`
		} `json:"stream_options"`
	}{
		Model: p.model, Messages: messages, MaxTokens: maxTokens,
		Temperature: req.Temperature, Stream: true, Tools: toOpenAITools(req.Tools),
	}
	body.StreamOpts.IncludeUsage = true

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	resp, err := dialSSEWithRetryOpenAI(ctx, p.client, p.baseURL+"/v1/chat/completions", raw, map[string]string{
		"Authorization": "Bearer " + p.apiKey,
		"Content-Type":  "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	ch := make(chan stream.Event)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		parseOpenAISSEStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// dialSSEWithRetryOpenAI opens an SSE connection, retrying transient
// transport failures through the shared internal/retry policy.
func dialSSEWithRetryOpenAI(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	return retry.Do(ctx, retry.DefaultPolicy(), "openai.dial", func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Accept", "text/event-stream")
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

// openaiBlockTracker assigns a canonical content-block index the first time
// a given OpenAI tool-call index appears, since the wire format carries no
// explicit content_block_start framing of its own.
type openaiBlockTracker struct {
	textStarted  bool
	toolStarted  map[int]bool
	nextIndex    int
	toolBlockIdx map[int]int
}

func newOpenAIBlockTracker() *openaiBlockTracker {
	return &openaiBlockTracker{toolStarted: make(map[int]bool), toolBlockIdx: make(map[int]int)}
}

func parseOpenAISSEStream(ctx context.Context, reader io.Reader, ch chan<- stream.Event) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	bt := newOpenAIBlockTracker()
	send := func(ev stream.Event) bool {
		select {
		case <-ctx.Done():
			return false
		case ch <- ev:
			return true
		}
	}
	send(stream.Event{Type: stream.EventMessageStart})

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			send(stream.Event{Type: stream.EventMessageStop})
			return
		}

		var chunk chatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Err(err).Str("data", data).Msg("openai: failed to parse SSE chunk")
			continue
		}
		if chunk.Usage != nil {
			if !send(stream.Event{Type: stream.EventMessageDelta, OutputTokens: chunk.Usage.CompletionTokens}) {
				return
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if !bt.emitDelta(send, chunk.Choices[0].Delta) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("openai: SSE scan error")
	}
	send(stream.Event{Type: stream.EventMessageStop})
}

func (bt *openaiBlockTracker) emitDelta(send func(stream.Event) bool, delta chatCompletionStreamDelta) bool {
	if delta.Content != "" {
		if !bt.textStarted {
			bt.textStarted = true
			if !send(stream.Event{Type: stream.EventContentBlockStart, Index: 0, BlockKind: stream.BlockText}) {
				return false
			}
		}
		if !send(stream.Event{Type: stream.EventContentBlockDelta, Index: 0, DeltaKind: stream.DeltaText, TextDelta: delta.Content}) {
			return false
		}
	}
	for _, tc := range delta.ToolCalls {
		if !bt.toolStarted[tc.Index] {
			bt.toolStarted[tc.Index] = true
			blockIdx := bt.nextIndex + 1
			bt.toolBlockIdx[tc.Index] = blockIdx
			bt.nextIndex++
			if !send(stream.Event{
				Type: stream.EventContentBlockStart, Index: blockIdx, BlockKind: stream.BlockToolUse,
				ToolUseID: tc.ID, ToolName: tc.Function.Name,
			}) {
				return false
			}
		}
		if tc.Function.Arguments != "" {
			if !send(stream.Event{
				Type: stream.EventContentBlockDelta, Index: bt.toolBlockIdx[tc.Index],
				DeltaKind: stream.DeltaJSON, PartialJSON: tc.Function.Arguments,
			}) {
				return false
			}
		}
	}
	return true
}
