package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/pkg/models"
)

// GoogleConfig configures the Gemini provider.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
}

// GoogleProvider implements agent.LLMProvider against the Gemini API.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
}

// NewGoogleProvider creates a Gemini provider.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleProvider{client: client, defaultModel: cfg.DefaultModel}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) SupportsTools() bool { return true }

func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1048576, SupportsVision: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2097152, SupportsVision: true},
	}
}

// Complete sends a streaming generate-content request.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	contents, err := convertGeminiContents(req.Messages)
	if err != nil {
		return nil, WrapError(p.Name(), model, err)
	}
	config := p.buildConfig(req)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			select {
			case <-ctx.Done():
				chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
				return
			default:
			}
			if err != nil {
				chunks <- &agent.CompletionChunk{Error: WrapError(p.Name(), model, err), Done: true}
				return
			}
			if resp == nil {
				continue
			}
			p.emitCandidates(resp, chunks)
		}
		chunks <- &agent.CompletionChunk{Done: true}
	}()
	return chunks, nil
}

func (p *GoogleProvider) emitCandidates(resp *genai.GenerateContentResponse, chunks chan<- *agent.CompletionChunk) {
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				chunks <- &agent.CompletionChunk{Text: part.Text}
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}
				chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
					ID:    geminiCallID(part.FunctionCall.Name),
					Name:  part.FunctionCall.Name,
					Input: args,
				}}
			}
		}
	}
}

// convertGeminiContents renders each message's content blocks as Gemini
// parts, in order. Gemini pairs function responses by name rather than
// call id, so tool-result blocks look the tool name up from the preceding
// tool-use blocks.
func convertGeminiContents(messages []models.Message) ([]*genai.Content, error) {
	nameByCallID := make(map[string]string)
	var result []*genai.Content

	for _, msg := range messages {
		content := &genai.Content{Role: geminiRole(msg.Role)}

		for _, block := range msg.Blocks() {
			switch block.Kind {
			case models.BlockText:
				content.Parts = append(content.Parts, &genai.Part{Text: block.Text})

			case models.BlockImage:
				if part := geminiImagePart(block.Image); part != nil {
					content.Parts = append(content.Parts, part)
				}

			case models.BlockToolUse:
				var args map[string]any
				if err := json.Unmarshal(block.ToolUse.Input, &args); err != nil {
					args = map[string]any{}
				}
				nameByCallID[block.ToolUse.ID] = block.ToolUse.Name
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: block.ToolUse.Name, Args: args},
				})

			case models.BlockToolResult:
				var response map[string]any
				if err := json.Unmarshal([]byte(block.ToolResult.Content), &response); err != nil {
					response = map[string]any{
						"result": block.ToolResult.Content,
						"error":  block.ToolResult.IsError,
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     nameByCallID[block.ToolResult.ToolUseID],
						Response: response,
					},
				})
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func geminiRole(role models.Role) string {
	if role == models.RoleAssistant {
		return genai.RoleModel
	}
	// User, system (spliced summaries), and tool results are all user-side.
	return genai.RoleUser
}

func geminiImagePart(img *models.ImageBlock) *genai.Part {
	if img == nil {
		return nil
	}
	if len(img.Data) > 0 {
		return &genai.Part{InlineData: &genai.Blob{MIMEType: img.MimeType, Data: img.Data}}
	}
	if img.URL != "" {
		return &genai.Part{FileData: &genai.FileData{MIMEType: img.MimeType, FileURI: img.URL}}
	}
	return nil
}

func (p *GoogleProvider) buildConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGeminiTools(req.Tools)
	}
	return config
}

func convertGeminiTools(tools []agent.Tool) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema converts a JSON Schema map into Gemini's typed Schema.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}

// geminiCallID synthesizes a correlation id for a function call; the
// Gemini API has no native tool-call ids.
var geminiCallSeq atomic.Int64

func geminiCallID(name string) string {
	return fmt.Sprintf("call_%s_%d_%d", name, time.Now().UnixNano(), geminiCallSeq.Add(1))
}
