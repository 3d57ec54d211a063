package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"agenthive/internal/logging"
)

// GenAIProvider backs the Provider interface with Google's Gemini API.
type GenAIProvider struct {
	client *genai.Client
	model  string
}

// NewGenAIProvider creates a Gemini-backed provider.
func NewGenAIProvider(ctx context.Context, apiKey, model string) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GenAI API key is required", ErrNotConfigured)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIProvider{client: client, model: model}, nil
}

// Complete implements Provider.
func (p *GenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return p.generate(ctx, "", prompt)
}

// CompleteWithSystem implements Provider.
func (p *GenAIProvider) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return p.generate(ctx, systemPrompt, userPrompt)
}

func (p *GenAIProvider) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}

	var cfg *genai.GenerateContentConfig
	if systemPrompt != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}
	}

	timer := logging.StartTimer(logging.CategoryRuntime, "genai generate")
	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	timer.Stop()
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Name identifies the provider for diagnostics.
func (p *GenAIProvider) Name() string {
	return fmt.Sprintf("genai:%s", p.model)
}
