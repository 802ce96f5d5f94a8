package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultImageModel is the Gemini model used for image generation and editing.
const DefaultImageModel = "gemini-2.5-flash-image"

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiImages generates and edits images with a Gemini image model.
type GeminiImages struct {
	models contentGenerator
	model  string
}

// NewGeminiImages wraps client.Models.
func NewGeminiImages(client *genai.Client, model string) *GeminiImages {
	return newGeminiImages(client.Models, model)
}

func newGeminiImages(models contentGenerator, model string) *GeminiImages {
	if model == "" {
		model = DefaultImageModel
	}
	return &GeminiImages{models: models, model: model}
}

// Generate implements ImageGenerator.
func (g *GeminiImages) Generate(ctx context.Context, prompt, aspectRatio string) (*Image, error) {
	cfg := &genai.GenerateContentConfig{}
	if aspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: aspectRatio}
	}
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}
	return firstInlineImage(resp), nil
}

// Edit implements ImageEditor.
func (g *GeminiImages) Edit(ctx context.Context, image Image, instruction string) (*Image, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image.Data, image.MIMEType),
			genai.NewPartFromText(instruction),
		}, genai.RoleUser),
	}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("edit image: %w", err)
	}
	return firstInlineImage(resp), nil
}

// firstInlineImage scans the first candidate for an inline image part.
func firstInlineImage(resp *genai.GenerateContentResponse) *Image {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		return &Image{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}
	}
	return nil
}
