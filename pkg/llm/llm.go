// Package llm builds language models for plan generation and decision interpretation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/openai"
	"charm.land/fantasy/providers/openaicompat"
)

// Supported provider names.
const (
	ProviderOpenAI       = "openai"
	ProviderAnthropic    = "anthropic"
	ProviderOpenAICompat = "openaicompat"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported llm provider")
	ErrEmptyCompletion     = errors.New("llm returned an empty completion")
	ErrNoJSON              = errors.New("no JSON object in llm output")
)

type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// NewProvider creates a fantasy provider from configuration.
//
// nolint:ireturn // fantasy exposes providers as interfaces
func NewProvider(cfg Config) (fantasy.Provider, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		opts := []openai.Option{openai.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}

		return openai.New(opts...)
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}

		return anthropic.New(opts...)
	case ProviderOpenAICompat:
		return openaicompat.New(
			openaicompat.WithAPIKey(cfg.APIKey),
			openaicompat.WithBaseURL(cfg.BaseURL),
		)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

// NewLanguageModel creates a fantasy language model from configuration.
//
// nolint:ireturn // fantasy exposes models as interfaces
func NewLanguageModel(ctx context.Context, cfg Config) (fantasy.LanguageModel, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	return provider.LanguageModel(ctx, cfg.Model)
}

// Complete runs one single-turn generation and returns the text output.
func Complete(ctx context.Context, model fantasy.LanguageModel, system, prompt string) (string, error) {
	agent := fantasy.NewAgent(model, fantasy.WithSystemPrompt(system))

	result, err := agent.Generate(ctx, fantasy.AgentCall{Prompt: prompt})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(result.Response.Content.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}

	return text, nil
}

// ExtractJSON strips markdown code fences and surrounding prose from a JSON object reply.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if newline := strings.IndexByte(text, '\n'); newline >= 0 {
			text = text[newline+1:]
		}

		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')

	if start < 0 || end < start {
		return "", ErrNoJSON
	}

	return text[start : end+1], nil
}
