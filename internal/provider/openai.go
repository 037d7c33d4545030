package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI implements Provider for the OpenAI Chat Completions API.
type OpenAI struct {
	client *openai.Client
	base
}

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL overrides the API base URL.
	BaseURL string

	// MaxRetries caps retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base delay between retries. Default 1s.
	RetryDelay time.Duration
}

// NewOpenAI creates an OpenAI adapter.
func NewOpenAI(config OpenAIConfig) (*OpenAI, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		base:   newBase(config.MaxRetries, config.RetryDelay),
	}, nil
}

func (p *OpenAI) Name() string {
	return "openai"
}

func (p *OpenAI) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	messages, err := p.convertMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err = p.retry(ctx, IsRetryable, func() error {
		var serr error
		stream, serr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if serr != nil {
			return WrapError(p.Name(), req.Model, serr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *Chunk)
	go p.processStream(ctx, stream, chunks, req.Model)
	return chunks, nil
}

// processStream converts the OpenAI stream into chunks. OpenAI streams tool
// calls incrementally: the first delta carries the ID and function name,
// later deltas carry argument fragments, and FinishReason "tool_calls"
// signals completion. Calls are tracked by index since several can be in
// flight in one turn.
func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*ToolCall)
	emitted := make(map[int]bool)

	emitPending := func() {
		for index, tc := range toolCalls {
			if !emitted[index] && tc.ID != "" && tc.Name != "" {
				if len(tc.Input) == 0 {
					tc.Input = json.RawMessage("{}")
				}
				chunks <- &Chunk{ToolCall: tc}
				emitted[index] = true
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				emitPending()
				chunks <- &Chunk{Done: true}
				return
			}
			chunks <- &Chunk{Error: WrapError(p.Name(), model, err), Done: true}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &Chunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = append(toolCalls[index].Input, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			emitPending()
		}
	}
}

// convertMessages translates engine messages into the OpenAI format. The
// system prompt becomes the first message; each tool result becomes a
// separate message with role "tool".
func (p *OpenAI) convertMessages(messages []Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}

		if msg.Role == "user" && len(msg.Attachments) > 0 {
			contentParts := make([]openai.ChatMessagePart, 0, len(msg.Attachments)+1)
			if msg.Content != "" {
				contentParts = append(contentParts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: msg.Content,
				})
			}
			for _, att := range msg.Attachments {
				if att.Type != "image" {
					continue
				}
				contentParts = append(contentParts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    att.URL,
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
			if len(contentParts) > 0 {
				oaiMsg.Content = ""
				oaiMsg.MultiContent = contentParts
			}
		}

		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				}
			}
		}

		result = append(result, oaiMsg)

		for _, tr := range msg.ToolResults {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
	}

	return result, nil
}

func (p *OpenAI) convertTools(tools []ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema,
			},
		}
	}
	return result
}
