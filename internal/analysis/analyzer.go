// Package analysis turns a call transcript into an end-of-call update using
// Gemini structured output.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"lettings_backend/internal/leads/domain"
	"lettings_backend/platform/config"
	"lettings_backend/platform/logger"
)

const (
	defaultModel = "gemini-2.5-flash"
	// ConfidenceThreshold is the minimum confidence for an extracted item to be applied.
	ConfidenceThreshold = 0.7
)

var ErrNotConfigured = errors.New("transcript analyzer not configured")

// generator is the model call, split out so prompts and parsing can be tested.
type generator interface {
	generate(ctx context.Context, system, prompt string) (string, error)
}

// Analyzer extracts confirmations, values and viewing details from transcripts.
type Analyzer struct {
	gen generator
	log *logger.Logger
}

// New returns nil when no API key is configured.
func New(ctx context.Context, cfg config.AnalyzerConfig, log *logger.Logger) (*Analyzer, error) {
	if !cfg.IsAnalyzerEnabled() {
		return nil, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GetGeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := strings.TrimSpace(cfg.GetGeminiModel())
	if model == "" {
		model = defaultModel
	}
	return &Analyzer{gen: &geminiGenerator{client: client, model: model}, log: log}, nil
}

// Analyze reads transcript against what is already known about lead.
func (a *Analyzer) Analyze(ctx context.Context, lead *domain.Lead, transcript string) (domain.EndOfCallUpdate, error) {
	if a == nil || a.gen == nil {
		return domain.EndOfCallUpdate{}, ErrNotConfigured
	}
	if strings.TrimSpace(transcript) == "" {
		return domain.EndOfCallUpdate{}, nil
	}

	raw, err := a.gen.generate(ctx, systemInstruction, buildPrompt(lead, transcript))
	if err != nil {
		return domain.EndOfCallUpdate{}, fmt.Errorf("analyze transcript: %w", err)
	}

	extraction, err := parseExtraction(raw)
	if err != nil {
		return domain.EndOfCallUpdate{}, err
	}
	update := extraction.toUpdate(ConfidenceThreshold)

	if a.log != nil {
		a.log.WithContext(ctx).Info("transcript analyzed",
			"lead_id", lead.ID.String(),
			"confirmations", len(update.Confirm),
			"values", len(update.Values),
			"viewing_booked", update.ViewingDate != nil && update.ViewingTime != nil,
			"call_successful", extraction.Outcome.Successful,
		)
	}
	return update, nil
}

type geminiGenerator struct {
	client *genai.Client
	model  string
}

func (g *geminiGenerator) generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.1),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    extractionSchema(),
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty model response")
	}
	return text, nil
}
