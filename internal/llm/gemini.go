// File: internal/llm/gemini.go
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/nv4re/tabpilot/api/schemas"
)

// GeminiClient is the vision-capable third provider, addressed through the
// official SDK rather than the chat-completions shape.
type GeminiClient struct {
	client *genai.Client
	logger *zap.Logger
}

// NewGeminiClient builds a Gemini client bound to the public API backend.
func NewGeminiClient(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, NewError(KindConfigMissing, "api key is empty", nil)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		logger: logger.Named("llm.gemini"),
	}, nil
}

func (c *GeminiClient) Name() string         { return "gemini" }
func (c *GeminiClient) SupportsImages() bool { return true }

// Send issues one generation with exponential backoff on transient failures.
func (c *GeminiClient) Send(ctx context.Context, req schemas.ChatRequest) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	cfg.Temperature = genai.Ptr(float32(req.Temperature))
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ForceJSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	var contents []*genai.Content
	for _, entry := range req.History {
		role := genai.Role(genai.RoleUser)
		if entry.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(entry.Content, role))
	}

	parts := []*genai.Part{genai.NewPartFromText(req.UserText)}
	if req.ImagePNG != "" {
		raw, err := base64.StdEncoding.DecodeString(req.ImagePNG)
		if err != nil {
			return "", NewError(KindMalformedJSON, "screenshot is not valid base64", err)
		}
		parts = append(parts, genai.NewPartFromBytes(raw, "image/png"))
	}
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
		if err != nil {
			return c.classify(err)
		}
		text = resp.Text()
		if text == "" {
			return backoff.Permanent(NewError(KindNoContent,
				"gemini returned no candidate text", nil))
		}
		c.logger.Debug("Generation complete",
			zap.String("model", req.Model),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

// classify maps SDK failures into the dispatcher's error taxonomy. The SDK
// surfaces HTTP status in the error text, so the mapping is by substring.
func (c *GeminiClient) classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "API key") || strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") || strings.Contains(msg, "PERMISSION_DENIED"):
		return backoff.Permanent(NewError(KindAuth, msg, err))
	case strings.Contains(msg, "404") || strings.Contains(msg, "NOT_FOUND"):
		return backoff.Permanent(NewError(KindModelMissing, msg, err))
	case strings.Contains(msg, "429") || strings.Contains(msg, "500") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "UNAVAILABLE"):
		c.logger.Warn("Transient gemini failure, retrying...", zap.Error(err))
		return NewError(KindTransport, msg, err)
	default:
		return backoff.Permanent(NewError(KindTransport, msg, err))
	}
}
