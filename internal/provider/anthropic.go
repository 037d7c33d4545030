package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// Anthropic implements Provider for the Anthropic Messages API.
//
// Responsibilities:
//   - Converting between the engine message format and Anthropic content blocks
//   - Processing streaming SSE events into chunks
//   - Retrying transient failures with backoff
//   - Accumulating tool input JSON across delta events
type Anthropic struct {
	client anthropic.Client
	base
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL overrides the API base URL. Tests point this at a local server.
	BaseURL string

	// MaxRetries caps retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base delay between retries. Default 1s.
	RetryDelay time.Duration
}

// NewAnthropic creates an Anthropic adapter.
func NewAnthropic(config AnthropicConfig) (*Anthropic, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(options...),
		base:   newBase(config.MaxRetries, config.RetryDelay),
	}, nil
}

func (p *Anthropic) Name() string {
	return "anthropic"
}

// Complete sends one turn and streams the response. Creation errors
// (malformed messages or tool schemas) are delivered through the channel so
// callers have a single error path.
func (p *Anthropic) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := p.retry(ctx, IsRetryable, func() error {
			var serr error
			stream, serr = p.createStream(ctx, req)
			if serr != nil {
				return WrapError(p.Name(), req.Model, serr)
			}
			return nil
		})
		if err != nil {
			chunks <- &Chunk{Error: err}
			return
		}

		p.processStream(stream, chunks, req.Model)
	}()

	return chunks, nil
}

func (p *Anthropic) createStream(ctx context.Context, req *Request) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	if req.EnableThinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(10000)
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// maxEmptyStreamEvents bounds consecutive events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// processStream converts Anthropic SSE events into chunks.
//
// Tool calls arrive across multiple events: content_block_start carries the
// ID and name, input_json_delta events carry argument fragments, and
// content_block_stop finalizes the call. The complete tool call is emitted
// as one chunk.
func (p *Anthropic) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk, model string) {
	var currentToolCall *ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0
	inThinkingBlock := false

	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			switch contentBlock.Type {
			case "thinking":
				inThinkingBlock = true
				chunks <- &Chunk{ThinkingStart: true}
				eventProcessed = true
			case "tool_use":
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &Chunk{Text: delta.Text}
					eventProcessed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- &Chunk{Thinking: delta.Thinking}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if inThinkingBlock {
				chunks <- &Chunk{ThinkingEnd: true}
				inThinkingBlock = false
				eventProcessed = true
			} else if currentToolCall != nil {
				input := currentToolInput.String()
				if input == "" {
					input = "{}"
				}
				currentToolCall.Input = json.RawMessage(input)
				chunks <- &Chunk{ToolCall: currentToolCall}
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			chunks <- &Chunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return

		case "error":
			chunks <- &Chunk{Error: WrapError(p.Name(), model, errors.New("anthropic stream error"))}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- &Chunk{Error: WrapError(p.Name(), model,
					fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount))}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &Chunk{Error: WrapError(p.Name(), model, err)}
	}
}

// convertMessages translates engine messages into Anthropic content blocks.
// System messages are skipped; they are carried separately in params.System.
// User and tool roles both map to user messages in the Anthropic API.
func (p *Anthropic) convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.ToolCallID,
				toolResult.Content,
				toolResult.IsError,
			))
		}

		for _, toolCall := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(toolCall.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(toolCall.ID, input, toolCall.Name))
		}

		if len(content) == 0 {
			continue
		}

		var message anthropic.MessageParam
		if msg.Role == "assistant" {
			message = anthropic.NewAssistantMessage(content...)
		} else {
			message = anthropic.NewUserMessage(content...)
		}
		result = append(result, message)
	}

	return result, nil
}

func (p *Anthropic) convertTools(tools []ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}

	return result, nil
}
