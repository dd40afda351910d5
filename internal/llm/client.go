package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// maxGeminiResponseLogBytes is the max length of a Gemini response body to log in full (to avoid huge logs).
const maxGeminiResponseLogBytes = 8192

// contentGenerator is the subset of genai.Models used here; tests substitute a fake.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGenAIClient creates the single Gemini client shared by the analysis and image clients.
// apiEndpoint: optional Gemini API base URL (e.g. http://host.docker.internal:31300/gemini).
func NewGenAIClient(ctx context.Context, apiKey, apiEndpoint string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if apiEndpoint != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: apiEndpoint}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	log.Info().
		Str("api_endpoint", apiEndpoint).
		Msg("Gemini client initialized")

	return client, nil
}

// logGeminiResponse logs Gemini response text, truncating if over maxGeminiResponseLogBytes.
func logGeminiResponse(caller, raw string) {
	if len(raw) <= maxGeminiResponseLogBytes {
		log.Info().Str("caller", caller).Str("gemini_response", raw).Msg("Gemini response")
		return
	}
	log.Info().
		Str("caller", caller).
		Str("gemini_response", preview(raw, maxGeminiResponseLogBytes)+"... [truncated]").
		Int("gemini_response_len", len(raw)).
		Msg("Gemini response")
}

// preview returns at most n grapheme clusters of s, so log lines never split a multi-byte character.
func preview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	end := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		if count == n {
			return s[:end]
		}
		_, end = gr.Positions()
		count++
	}
	return s
}
