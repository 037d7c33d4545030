package tools

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/pkg/models"
)

// ImageGenParams are the model-facing parameters for generate_image.
type ImageGenParams struct {
	Prompt string `json:"prompt" jsonschema:"description=Description of the image to generate"`
	Size   string `json:"size,omitempty" jsonschema:"enum=1024x1024,enum=1792x1024,enum=1024x1792,description=Image dimensions (default 1024x1024)"`
}

// ImageGen implements the generate_image tool on the OpenAI images API.
// The generated image is returned as an attachment; the content tells the
// model generation succeeded so it can reference the image in its reply.
type ImageGen struct {
	client *openai.Client
	model  string
	schema json.RawMessage
}

// ImageGenConfig configures the image generation tool.
type ImageGenConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL overrides the API base URL.
	BaseURL string

	// Model is the image model. Default "dall-e-3".
	Model string
}

// NewImageGen creates the generate_image tool.
func NewImageGen(config ImageGenConfig) *ImageGen {
	if config.Model == "" {
		config.Model = "dall-e-3"
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &ImageGen{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
		schema: deriveSchema(&ImageGenParams{}),
	}
}

func (t *ImageGen) Name() string {
	return "generate_image"
}

func (t *ImageGen) Description() string {
	return "Generate an image from a text description. The image is attached to the response."
}

func (t *ImageGen) Schema() json.RawMessage {
	return t.schema
}

func (t *ImageGen) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params ImageGenParams
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}
	if params.Size == "" {
		params.Size = openai.CreateImageSize1024x1024
	}

	resp, err := t.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         params.Prompt,
		Model:          t.model,
		N:              1,
		Size:           params.Size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return errorResult("image generation failed: %v", err), nil
	}
	if len(resp.Data) == 0 {
		return errorResult("image generation returned no data"), nil
	}

	image := resp.Data[0]
	content := "Image generated successfully."
	if image.RevisedPrompt != "" {
		content = fmt.Sprintf("Image generated successfully. Revised prompt: %s", image.RevisedPrompt)
	}

	return &Result{
		Content: content,
		Attachments: []models.Attachment{{
			Name: "generated-image.png",
			Type: "image",
			URL:  image.URL,
		}},
	}, nil
}
