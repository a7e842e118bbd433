package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quotelens/quotelens/internal/ailink/driver"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client implements the OpenAI driver via direct HTTP.
//
// Note: This is distinct from the xAI driver, which speaks an OpenAI-compatible
// API shape but targets x.ai.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL, apiKey string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}

	return &Client{
		BaseURL: url,
		APIKey:  strings.TrimSpace(apiKey),
	}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return "openai"
}

type chatRequest struct {
	Model          string                 `json:"model"`
	Messages       []driver.Message       `json:"messages"`
	ResponseFormat *driver.ResponseFormat `json:"response_format,omitempty"`
	Temperature    *float64               `json:"temperature,omitempty"`
	MaxTokens      *int                   `json:"max_tokens,omitempty"`
}

// Complete sends a chat completion request.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil || strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("openai: api key is required: %w", driver.ErrNotConfigured)
	}
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("request messages are required")
	}

	payload := chatRequest{
		Model:          req.Model,
		Messages:       req.Messages,
		ResponseFormat: req.ResponseFormat,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
	}

	ctx, cancel := driver.WithTimeout(ctx, c.Timeout)
	defer cancel()

	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	var parsed driver.ChatCompletion
	if err := driver.PostJSON(ctx, c.HTTPClient, c.Name(), url, c.APIKey, req.Model, payload, &parsed); err != nil {
		return nil, err
	}
	return parsed.ToResponse()
}
