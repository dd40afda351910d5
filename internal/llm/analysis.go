package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/aivsjobs/internal/models"
	"google.golang.org/genai"
)

var (
	// ErrNoResponse is returned when the model answers with an empty text payload.
	ErrNoResponse = errors.New("no response from model")
	// ErrParse is returned when the payload is not valid JSON.
	ErrParse = errors.New("analysis payload is not valid JSON")
	// ErrSchemaMismatch is returned when a field is missing or has the wrong type.
	ErrSchemaMismatch = errors.New("analysis payload does not match schema")
)

const analysisPromptTemplate = `Проанализируй профессию: "%s".
Может ли искусственный интеллект заменить эту профессию полностью или частично в ближайшем будущем?

Если может (полностью или значительно):
- replaceable: true
- explanation: Объясни, как именно ИИ заменит эту работу.
- imagePrompt: Описание картинки, показывающей робота или ИИ, выполняющего эту работу.

Если не может (или это очень сложно):
- replaceable: false
- explanation: Объясни, почему ИИ сложно заменить эту работу (человеческий фактор, эмпатия, креативность и т.д.).
- imagePrompt: Описание смешной картинки, где робот пытается выполнить эту работу, но у него не получается или он выглядит глупо.

Ответь ТОЛЬКО в формате JSON.`

// Analyzer asks the text model whether a profession can be replaced by AI.
type Analyzer struct {
	models contentGenerator
	model  string
}

// NewAnalyzer returns an Analyzer that calls model through gen (usually genai.Client.Models).
func NewAnalyzer(gen contentGenerator, model string) *Analyzer {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Analyzer{models: gen, model: model}
}

// AnalyzeProfession issues exactly one GenerateContent call and parses the structured verdict.
// The caller must not pass blank text.
func (a *Analyzer) AnalyzeProfession(ctx context.Context, profession string) (*models.AnalysisResult, error) {
	log.Debug().
		Str("model", a.model).
		Str("profession", preview(profession, 50)).
		Msg("Analyzing profession")

	contents := genai.Text(buildAnalysisPrompt(profession))
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   analysisResponseSchema(),
	}

	resp, err := a.models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini analysis call: %w", err)
	}
	if resp == nil {
		return nil, ErrNoResponse
	}

	raw := strings.TrimSpace(resp.Text())
	logGeminiResponse("AnalyzeProfession", raw)
	if raw == "" {
		return nil, ErrNoResponse
	}

	result, err := parseAnalysis(raw)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("caller", "AnalyzeProfession").
		Bool("replaceable", result.Replaceable).
		Int("explanation_len", len(result.Explanation)).
		Msg("Profession analysis complete")

	return result, nil
}

func buildAnalysisPrompt(profession string) string {
	return fmt.Sprintf(analysisPromptTemplate, profession)
}

// analysisResponseSchema declares {"replaceable": bool, "explanation": string, "imagePrompt": string}, all required.
func analysisResponseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"replaceable": {Type: genai.TypeBoolean},
			"explanation": {Type: genai.TypeString},
			"imagePrompt": {Type: genai.TypeString},
		},
		Required: []string{"replaceable", "explanation", "imagePrompt"},
	}
}

// parseAnalysis decodes the payload and checks every field's presence and type.
func parseAnalysis(raw string) (*models.AnalysisResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if fields == nil {
		// the payload was the literal null
		return nil, fmt.Errorf("%w: payload is null", ErrSchemaMismatch)
	}

	var result models.AnalysisResult
	if err := decodeField(fields, "replaceable", &result.Replaceable); err != nil {
		return nil, err
	}
	if err := decodeField(fields, "explanation", &result.Explanation); err != nil {
		return nil, err
	}
	if err := decodeField(fields, "imagePrompt", &result.ImagePrompt); err != nil {
		return nil, err
	}
	return &result, nil
}

func decodeField(fields map[string]json.RawMessage, name string, dst interface{}) error {
	v, ok := fields[name]
	if !ok || string(v) == "null" {
		return fmt.Errorf("%w: field %q is missing", ErrSchemaMismatch, name)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrSchemaMismatch, name, err)
	}
	return nil
}

// ErrorKind classifies an analysis error for logs and run events.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoResponse):
		return "no_response"
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "service_error"
	}
}
