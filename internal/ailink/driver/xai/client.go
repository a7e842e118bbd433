package xai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quotelens/quotelens/internal/ailink/driver"
)

const defaultBaseURL = "https://api.x.ai/v1"

// Client implements the xAI driver over the OpenAI-compatible
// /chat/completions endpoint.
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
	return "xai"
}

type searchParameters struct {
	Mode            string `json:"mode"`
	ReturnCitations bool   `json:"return_citations"`
}

type chatRequest struct {
	Model            string                 `json:"model"`
	Messages         []driver.Message       `json:"messages"`
	ResponseFormat   *driver.ResponseFormat `json:"response_format,omitempty"`
	Temperature      *float64               `json:"temperature,omitempty"`
	MaxTokens        *int                   `json:"max_tokens,omitempty"`
	SearchParameters *searchParameters      `json:"search_parameters,omitempty"`
}

// Complete sends a chat completion request. LiveSearch turns on xAI live
// search so insights can reference current news.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil || strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("xai: api key is required: %w", driver.ErrNotConfigured)
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
	if req.LiveSearch {
		payload.SearchParameters = &searchParameters{Mode: "auto"}
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
