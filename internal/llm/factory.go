// File: internal/llm/factory.go
package llm

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
	"github.com/nv4re/tabpilot/internal/config"
)

// Default endpoints of the two OpenAI-compatible providers.
const (
	openRouterBaseURL = "https://openrouter.ai/api"
	groqBaseURL       = "https://api.groq.com/openai"
)

// NewChatClient constructs the primary planner client for the configured
// provider.
func NewChatClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.ChatClient, error) {
	switch cfg.Provider {
	case config.ProviderOpenRouter:
		return NewCompatClient(CompatConfig{
			Name:           "openrouter",
			APIKey:         cfg.APIKey,
			BaseURL:        baseURL(cfg.BaseURL, openRouterBaseURL),
			Timeout:        cfg.Timeout,
			SupportsImages: true,
			// The aggregator requires attribution headers on every request.
			BuildHeaders: func(req *http.Request) {
				req.Header.Set("HTTP-Referer", cfg.Referer)
				req.Header.Set("X-Title", cfg.AppTitle)
			},
		}, logger)
	case config.ProviderGroq:
		return NewCompatClient(CompatConfig{
			Name:    "groq",
			APIKey:  cfg.APIKey,
			BaseURL: baseURL(cfg.BaseURL, groqBaseURL),
			Timeout: cfg.Timeout,
			// The low-latency host runs text-only planner models; vision
			// goes through the handoff analyst.
			SupportsImages: false,
		}, logger)
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg.APIKey, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// NewVisionAnalyst constructs the handoff analyst, or nil when no vision
// model is configured. The analyst runs on an image-capable client: Gemini
// when Gemini is the primary provider, otherwise the Groq endpoint.
func NewVisionAnalyst(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.VisionAnalyst, error) {
	if cfg.VisionModel == "" {
		return nil, nil
	}
	var client schemas.ChatClient
	var err error
	if cfg.Provider == config.ProviderGemini {
		client, err = NewGeminiClient(ctx, cfg.APIKey, logger)
	} else {
		client, err = NewCompatClient(CompatConfig{
			Name:           "groq-vision",
			APIKey:         cfg.APIKey,
			BaseURL:        groqBaseURL,
			Timeout:        cfg.Timeout,
			SupportsImages: true,
		}, logger)
	}
	if err != nil {
		return nil, err
	}
	return NewVisionClient(client, cfg.VisionModel, logger), nil
}

// NewSearchAnalyst constructs the search analyst, or nil when search is
// disabled or unconfigured.
func NewSearchAnalyst(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.SearchAnalyst, error) {
	if !cfg.SearchEnabled || cfg.SearchModel == "" {
		return nil, nil
	}
	client, err := NewChatClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewSearchClient(client, cfg.SearchModel, logger), nil
}

func baseURL(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
