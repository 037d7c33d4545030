// Package tools implements the tool registry and the built-in tools the
// model can call during generation: web search, page reading, and image
// generation.
//
// Tool parameter schemas are derived from typed params structs, and incoming
// arguments are validated against those schemas before execution. Invalid
// arguments surface ErrInvalidArguments so the orchestrator can ask the
// model to repair the call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/relay/pkg/models"
)

// ErrInvalidArguments indicates tool arguments that do not satisfy the
// tool's parameter schema.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// Tool is an executable capability exposed to the model.
type Tool interface {
	// Name returns the tool name for function calling.
	Name() string

	// Description tells the model what the tool does and when to use it.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Arguments have already been validated against
	// Schema. Execution failures that the model can react to are returned
	// as a Result with IsError set, not as an error.
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is the outcome of a tool execution.
type Result struct {
	// Content is the tool output fed back to the model.
	Content string `json:"content"`

	// IsError marks the result as a failure the model should handle.
	IsError bool `json:"is_error,omitempty"`

	// Attachments carries files produced by the tool, such as generated
	// images, for the final message.
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// errorResult builds a failure Result from a format string.
func errorResult(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// deriveSchema reflects a JSON Schema from a typed params struct. Schemas
// are inlined (no $ref) since provider APIs expect self-contained schemas.
func deriveSchema(params any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(params)
	schema.Version = ""

	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// validateArgs checks raw arguments against a tool's schema. Violations are
// wrapped in ErrInvalidArguments with the validator's explanation so the
// repair prompt can quote it.
func validateArgs(schema json.RawMessage, args json.RawMessage) error {
	compiler := schemavalidate.NewCompiler()
	if err := compiler.AddResource("params.json", strings.NewReader(string(schema))); err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}
	compiled, err := compiler.Compile("params.json")
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("%w: arguments are not valid JSON: %v", ErrInvalidArguments, err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
