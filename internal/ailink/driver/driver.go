package driver

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a driver without credentials.
var ErrNotConfigured = errors.New("ai provider not configured")

// Driver defines the interface for AI completion providers.
type Driver interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the driver identifier (e.g., "xai").
	Name() string
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat specifies the expected response format.
type ResponseFormat struct {
	Type string `json:"type"` // "text", "json_object"
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model          string
	Messages       []Message
	ResponseFormat *ResponseFormat
	Temperature    *float64
	MaxTokens      *int
	// LiveSearch asks drivers that support it to ground the answer in
	// current web and news results. Other drivers ignore it.
	LiveSearch bool
}

// Response is a provider-agnostic completion response.
type Response struct {
	Text         string
	FinishReason string
	Model        string
	Usage        *Usage
}
