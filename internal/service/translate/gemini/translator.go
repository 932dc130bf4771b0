// Package gemini implements the secondary translator on top of the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"live-translate-service/internal/models"
	"live-translate-service/internal/service/translate"
)

// ErrNoAPIKey is returned by New without an API key.
var ErrNoAPIKey = errors.New("gemini translator requires an api key")

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("gemini returned no text")

// Translator translates with a Gemini model.
type Translator struct {
	client *genai.Client
	model  string
}

// New creates a translator for the given model.
func New(ctx context.Context, apiKey, model string) (*Translator, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Translator{client: client, model: model}, nil
}

// Translate implements translate.Translator.
func (t *Translator) Translate(ctx context.Context, req translate.Request) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.Text, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(instruction(req))},
		},
	}

	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	return textOf(resp)
}

func instruction(req translate.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the user's text from language %q to language %q.", models.Lang(req.Source), models.Lang(req.Voice))
	b.WriteString(" Reply with the translation only, without quotes or commentary.")
	if req.Platform != "" {
		fmt.Fprintf(&b, " Requested by %s.", req.Platform)
	}
	return b.String()
}

func textOf(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
		// First candidate only.
		break
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
