// File: internal/llm/openai_compat.go
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CompatConfig configures one OpenAI-chat-compatible endpoint. Providers
// differ only in base URL, image support, and extra headers.
type CompatConfig struct {
	Name           string
	APIKey         string
	BaseURL        string
	EndpointPath   string
	ModelsPath     string
	Timeout        time.Duration
	SupportsImages bool
	// BuildHeaders sets provider-specific headers. The default bearer
	// authorization is always applied first.
	BuildHeaders func(req *http.Request)
}

// CompatClient speaks the OpenAI chat-completions wire shape.
type CompatClient struct {
	cfg        CompatConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewCompatClient builds a client for one compatible endpoint.
func NewCompatClient(cfg CompatConfig, logger *zap.Logger) (*CompatClient, error) {
	if cfg.APIKey == "" {
		return nil, NewError(KindConfigMissing, "api key is empty", nil)
	}
	if cfg.BaseURL == "" {
		return nil, NewError(KindConfigMissing, "base url is empty", nil)
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsPath == "" {
		cfg.ModelsPath = "/v1/models"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &CompatClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("llm." + cfg.Name),
	}, nil
}

func (c *CompatClient) Name() string         { return c.cfg.Name }
func (c *CompatClient) SupportsImages() bool { return c.cfg.SupportsImages }

// Wire structures of the chat-completions shape.

type wireTextPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireImagePart struct {
	Type     string       `json:"type"`
	ImageURL wireImageURL `json:"image_url"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type wireResponseFormat struct {
	Type string `json:"type"`
}

type wireRequest struct {
	Model          string              `json:"model"`
	Messages       []wireMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *wireResponseFormat `json:"response_format,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type wireModels struct {
	Data []schemas.ModelInfo `json:"data"`
}

func buildMessages(req schemas.ChatRequest, withImage bool) []wireMessage {
	messages := make([]wireMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, wireMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, entry := range req.History {
		messages = append(messages, wireMessage{Role: entry.Role, Content: entry.Content})
	}
	if withImage && req.ImagePNG != "" {
		messages = append(messages, wireMessage{
			Role: "user",
			Content: []any{
				wireTextPart{Type: "text", Text: req.UserText},
				wireImagePart{
					Type: "image_url",
					ImageURL: wireImageURL{
						URL: "data:image/png;base64," + req.ImagePNG,
					},
				},
			},
		})
	} else {
		messages = append(messages, wireMessage{Role: "user", Content: req.UserText})
	}
	return messages
}

// Send issues one chat completion with exponential backoff on transient
// failures. Auth, model, and validation failures are permanent.
func (c *CompatClient) Send(ctx context.Context, req schemas.ChatRequest) (string, error) {
	payload := wireRequest{
		Model:       req.Model,
		Messages:    buildMessages(req, c.cfg.SupportsImages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.ForceJSON {
		payload.ResponseFormat = &wireResponseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var content string
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+c.cfg.EndpointPath, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		c.applyHeaders(httpReq)

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("Network error during chat request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var parsed wireResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(NewError(KindMalformedJSON,
				"failed to decode chat response", err))
		}
		if parsed.Error != nil {
			return backoff.Permanent(NewError(KindTransport, parsed.Error.Message, nil))
		}
		if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
			return backoff.Permanent(NewError(KindNoContent,
				"provider returned no choices", nil))
		}

		c.logger.Debug("Chat completion received",
			zap.String("model", req.Model),
			zap.Duration("duration", time.Since(start)),
			zap.String("finish_reason", parsed.Choices[0].FinishReason),
		)
		content = parsed.Choices[0].Message.Content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return content, nil
}

func (c *CompatClient) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.BuildHeaders != nil {
		c.cfg.BuildHeaders(req)
	}
}

func (c *CompatClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Warn("Provider returned error status",
		zap.Int("status", statusCode),
		zap.ByteString("body", body),
	)
	text := string(body)
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return backoff.Permanent(NewError(KindAuth, text, nil))
	case http.StatusNotFound:
		return backoff.Permanent(NewError(KindModelMissing, text, nil))
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable:
		// Transient, retry.
		return NewError(KindTransport, fmt.Sprintf("status %d", statusCode), nil)
	case http.StatusBadRequest:
		if isJSONValidateBody(text) {
			return backoff.Permanent(NewError(KindJSONValidate, text, nil))
		}
		return backoff.Permanent(NewError(KindTransport, text, nil))
	default:
		return backoff.Permanent(NewError(KindTransport,
			fmt.Sprintf("status %d: %s", statusCode, text), nil))
	}
}

// ListModels fetches the provider's model catalog.
func (c *CompatClient) ListModels(ctx context.Context) ([]schemas.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+c.cfg.ModelsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}
	c.applyHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewError(KindTransport, "model listing failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read models response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleAPIError(resp.StatusCode, respBody)
	}

	var parsed wireModels
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewError(KindMalformedJSON, "failed to decode model catalog", err)
	}
	return parsed.Data, nil
}
