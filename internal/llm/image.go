package llm

import (
	"context"
	"encoding/base64"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/aivsjobs/internal/models"
	"google.golang.org/genai"
)

// imageDataURIPrefix is used for every illustration; the image model's output is treated as PNG.
const imageDataURIPrefix = "data:image/png;base64,"

// Illustrator asks the image model for a square illustration.
type Illustrator struct {
	models contentGenerator
	model  string
}

// NewIllustrator returns an Illustrator that calls model through gen (usually genai.Client.Models).
func NewIllustrator(gen contentGenerator, model string) *Illustrator {
	if model == "" {
		model = "gemini-2.5-flash-image"
	}
	return &Illustrator{models: gen, model: model}
}

// GenerateImage never fails: any SDK error or a response without inline image data
// yields an Illustration with status ImageUnavailable.
func (c *Illustrator) GenerateImage(ctx context.Context, prompt string) models.Illustration {
	log.Debug().
		Str("model", c.model).
		Str("prompt", preview(prompt, 50)+"...").
		Msg("Generating image")

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
		ImageConfig:        &genai.ImageConfig{AspectRatio: "1:1"},
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		log.Error().Err(err).
			Str("model", c.model).
			Str("prompt_preview", preview(prompt, 80)).
			Msg("Image generation failed")
		return models.Illustration{Status: models.ImageUnavailable}
	}

	data, mimeType, ok := firstInlineImage(resp)
	if !ok {
		candidates := 0
		if resp != nil {
			candidates = len(resp.Candidates)
		}
		log.Warn().
			Str("model", c.model).
			Int("candidates", candidates).
			Msg("No inline image data in Gemini response")
		return models.Illustration{Status: models.ImageUnavailable}
	}

	log.Info().
		Str("caller", "GenerateImage").
		Str("gemini_response", "blob").
		Int("image_size_bytes", len(data)).
		Str("mime_type", mimeType).
		Msg("Gemini response (image blob)")

	return models.Illustration{
		Status:  models.ImageReady,
		DataURI: imageDataURIPrefix + base64.StdEncoding.EncodeToString(data),
	}
}

// firstInlineImage scans the first candidate's parts for the first one carrying inline data.
func firstInlineImage(resp *genai.GenerateContentResponse) ([]byte, string, bool) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, "", false
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return nil, "", false
	}
	for _, part := range cand.Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		return part.InlineData.Data, part.InlineData.MIMEType, true
	}
	return nil, "", false
}
