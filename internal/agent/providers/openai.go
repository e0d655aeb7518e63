package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/pkg/models"
)

// OpenAIProvider implements agent.LLMProvider over any chat-completions
// compatible endpoint. OpenAI itself, Azure OpenAI, Ollama, OpenRouter,
// and the GitHub Copilot proxy all speak this wire format; the variant
// constructors below differ only in client configuration and the name
// reported for metrics and failover.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	models       []agent.Model
}

// NewOpenAIProvider creates a provider against api.openai.com.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{
		name:         "openai",
		defaultModel: "gpt-4o",
		maxRetries:   3,
		retryDelay:   time.Second,
		models: []agent.Model{
			{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
			{ID: "o3-mini", Name: "o3-mini", ContextSize: 200000},
		},
	}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

// NewAzureProvider creates a provider against an Azure OpenAI deployment.
func NewAzureProvider(apiKey, endpoint string) *OpenAIProvider {
	p := NewOpenAIProvider("")
	p.name = "azure"
	if apiKey != "" && endpoint != "" {
		p.client = openai.NewClientWithConfig(openai.DefaultAzureConfig(apiKey, endpoint))
	}
	return p
}

// NewOllamaProvider creates a provider against a local Ollama server's
// OpenAI-compatible endpoint.
func NewOllamaProvider(baseURL, defaultModel string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = baseURL

	p := NewOpenAIProvider("")
	p.name = "ollama"
	p.client = openai.NewClientWithConfig(cfg)
	if defaultModel != "" {
		p.defaultModel = defaultModel
	}
	return p
}

// NewOpenRouterProvider creates a provider against openrouter.ai.
func NewOpenRouterProvider(apiKey string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = "https://openrouter.ai/api/v1"

	p := NewOpenAIProvider("")
	p.name = "openrouter"
	if apiKey != "" {
		p.client = openai.NewClientWithConfig(cfg)
	}
	return p
}

// NewCopilotProvider creates a provider against a GitHub Copilot
// chat-completions proxy.
func NewCopilotProvider(token, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(token)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	p := NewOpenAIProvider("")
	p.name = "copilot"
	if token != "" {
		p.client = openai.NewClientWithConfig(cfg)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []agent.Model { return p.models }

// Complete sends a streaming chat-completions request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.client == nil {
		return nil, fmt.Errorf("%s: API key not configured", p.name)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var err error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err == nil {
			break
		}
		if !IsRetryable(WrapError(p.name, model, err)) {
			return nil, WrapError(p.name, model, err)
		}
	}
	if err != nil {
		return nil, WrapError(p.name, model, err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

// processStream decodes deltas. Tool-call arguments stream incrementally,
// keyed by index; completed calls are flushed on the tool_calls finish
// reason or at end of stream.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	flush := func() {
		for _, tc := range toolCalls {
			if tc.ID != "" && tc.Name != "" {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &agent.CompletionChunk{Done: true}
				return
			}
			chunks <- &agent.CompletionChunk{Error: WrapError(p.name, model, err), Done: true}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = json.RawMessage(string(toolCalls[index].Input) + tc.Function.Arguments)
			}
		}
		if choice.FinishReason == "tool_calls" {
			flush()
		}
	}
}

// convertOpenAIMessages builds the chat-completions message list from each
// message's content blocks. Tool-use blocks become the assistant message's
// tool_calls; tool-result blocks each become their own role:"tool" message
// referencing the call id, which is how this wire format pairs them.
func convertOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		current := openai.ChatCompletionMessage{Role: openAIRole(msg.Role)}
		var parts []openai.ChatMessagePart
		var toolMessages []openai.ChatCompletionMessage

		for _, block := range msg.Blocks() {
			switch block.Kind {
			case models.BlockText:
				current.Content = block.Text
			case models.BlockImage:
				parts = append(parts, openAIImagePart(block.Image))
			case models.BlockToolUse:
				current.ToolCalls = append(current.ToolCalls, openai.ToolCall{
					ID:   block.ToolUse.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      block.ToolUse.Name,
						Arguments: string(block.ToolUse.Input),
					},
				})
			case models.BlockToolResult:
				toolMessages = append(toolMessages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.ToolResult.Content,
					ToolCallID: block.ToolResult.ToolUseID,
				})
			}
		}

		if len(parts) > 0 {
			// Vision input uses the multi-part form; text moves into the
			// first part alongside the images.
			if current.Content != "" {
				parts = append([]openai.ChatMessagePart{{
					Type: openai.ChatMessagePartTypeText,
					Text: current.Content,
				}}, parts...)
				current.Content = ""
			}
			current.MultiContent = parts
		}

		if current.Content != "" || len(current.MultiContent) > 0 || len(current.ToolCalls) > 0 {
			result = append(result, current)
		}
		result = append(result, toolMessages...)
	}
	return result
}

func openAIRole(role models.Role) string {
	switch role {
	case models.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case models.RoleSystem:
		return openai.ChatMessageRoleSystem
	case models.RoleTool:
		// Tool-result blocks carry their own role:"tool" messages; any
		// residual text on a tool message travels as user content.
		return openai.ChatMessageRoleUser
	default:
		return openai.ChatMessageRoleUser
	}
}

func openAIImagePart(img *models.ImageBlock) openai.ChatMessagePart {
	url := img.URL
	if url == "" && len(img.Data) > 0 {
		url = fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
	}
	return openai.ChatMessagePart{
		Type:     openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
	}
}

func convertOpenAITools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schema,
			},
		}
	}
	return result
}
