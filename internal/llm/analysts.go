// File: internal/llm/analysts.go
package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
)

// VisionClient is the two-step handoff analyst: an image-capable model
// produces free-text observations a text-only planner then consumes.
type VisionClient struct {
	client schemas.ChatClient
	model  string
	logger *zap.Logger
}

// NewVisionClient wraps an image-capable provider as a vision analyst.
func NewVisionClient(client schemas.ChatClient, model string, logger *zap.Logger) *VisionClient {
	return &VisionClient{
		client: client,
		model:  model,
		logger: logger.Named("vision"),
	}
}

// Analyze sends the screenshot and returns the model's plain-text analysis.
func (v *VisionClient) Analyze(ctx context.Context, prompt, imagePNG string) (string, error) {
	if imagePNG == "" {
		return "", NewError(KindNoContent, "no screenshot to analyze", nil)
	}
	reply, err := v.client.Send(ctx, schemas.ChatRequest{
		Model:       v.model,
		UserText:    prompt,
		ImagePNG:    imagePNG,
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// SearchClient answers a question with a search-capable model. The reply is
// plain text and buffered by the loop for the next planner call.
type SearchClient struct {
	client schemas.ChatClient
	model  string
	logger *zap.Logger
}

// NewSearchClient wraps a search-capable provider as a search analyst.
func NewSearchClient(client schemas.ChatClient, model string, logger *zap.Logger) *SearchClient {
	return &SearchClient{
		client: client,
		model:  model,
		logger: logger.Named("search"),
	}
}

// Search asks the analyst model about the current question.
func (s *SearchClient) Search(ctx context.Context, question, pageContext string) (string, error) {
	if question == "" {
		return "", NewError(KindNoContent, "no question to search for", nil)
	}
	s.logger.Debug("Search analyst invoked", zap.String("question", question))
	reply, err := s.client.Send(ctx, schemas.ChatRequest{
		Model:       s.model,
		UserText:    SearchPrompt(question, pageContext),
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}
