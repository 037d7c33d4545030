package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Google implements Provider for the Gemini API.
//
// Gemini does not assign IDs to function calls, so the adapter synthesizes
// them; the orchestrator correlates results by the IDs it sees here.
type Google struct {
	client *genai.Client
	base
}

// GoogleConfig configures the Gemini adapter.
type GoogleConfig struct {
	// APIKey is the Gemini API key (required).
	APIKey string

	// MaxRetries caps retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base delay between retries. Default 1s.
	RetryDelay time.Duration
}

// NewGoogle creates a Gemini adapter.
func NewGoogle(config GoogleConfig) (*Google, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &Google{
		client: client,
		base:   newBase(config.MaxRetries, config.RetryDelay),
	}, nil
}

func (p *Google) Name() string {
	return "google"
}

func (p *Google) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)

	go func() {
		defer close(chunks)

		contents, err := p.convertMessages(req.Messages)
		if err != nil {
			chunks <- &Chunk{Error: WrapError(p.Name(), req.Model, err)}
			return
		}
		config := p.buildConfig(req)

		err = p.retry(ctx, IsRetryable, func() error {
			streamIter := p.client.Models.GenerateContentStream(ctx, req.Model, contents, config)
			if err := p.processStream(ctx, streamIter, chunks); err != nil {
				return WrapError(p.Name(), req.Model, err)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				chunks <- &Chunk{Error: ctx.Err()}
				return
			}
			chunks <- &Chunk{Error: err}
			return
		}

		chunks <- &Chunk{Done: true}
	}()

	return chunks, nil
}

func (p *Google) processStream(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *Chunk) error {
	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					chunks <- &Chunk{Text: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					chunks <- &Chunk{ToolCall: &ToolCall{
						ID:    generateToolCallID(part.FunctionCall.Name),
						Name:  part.FunctionCall.Name,
						Input: argsJSON,
					}}
				}
			}
		}
	}
	return nil
}

// convertMessages translates engine messages into Gemini content. System
// messages are skipped; they are carried via SystemInstruction in the
// generation config.
func (p *Google) convertMessages(messages []Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case "assistant":
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, att := range msg.Attachments {
			if att.Type != "image" {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FileData: &genai.FileData{FileURI: att.URL, MIMEType: guessMimeType(att.URL)},
			})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}

		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil {
				response = map[string]any{"result": tr.Content, "error": tr.IsError}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     toolNameFromID(tr.ToolCallID, messages),
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

func (p *Google) buildConfig(req *Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = p.convertTools(req.Tools)
	}

	return config
}

func (p *Google) convertTools(tools []ToolDef) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON Schema map to Gemini's Schema type.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
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
				schema.Properties[name] = toGeminiSchema(propMap)
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
		schema.Items = toGeminiSchema(items)
	}

	return schema
}

func generateToolCallID(name string) string {
	return name + "-" + uuid.NewString()[:8]
}

// toolNameFromID recovers the tool name for a result by scanning earlier
// tool calls, since Gemini correlates function responses by name rather
// than ID.
func toolNameFromID(toolCallID string, messages []Message) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	if i := strings.LastIndex(toolCallID, "-"); i > 0 {
		return toolCallID[:i]
	}
	return toolCallID
}

func guessMimeType(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
