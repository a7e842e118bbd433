package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ProviderError is a non-2xx provider response. RawResponse is the body
// as returned and never includes the API key.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Message     string
	RawResponse []byte
	// RetryAfter is parsed from the Retry-After header when it holds seconds.
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// Retryable reports whether another provider could reasonably succeed.
func (e *ProviderError) Retryable() bool {
	return e != nil && (e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500)
}

func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ChatCompletion is the OpenAI-compatible /chat/completions response shape
// shared by the openai and xai drivers.
type ChatCompletion struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// ToResponse converts the first choice into a Response.
func (c *ChatCompletion) ToResponse() (*Response, error) {
	if c == nil || len(c.Choices) == 0 {
		return nil, fmt.Errorf("empty response choices")
	}
	return &Response{
		Text:         c.Choices[0].Message.Content,
		FinishReason: c.Choices[0].FinishReason,
		Model:        c.Model,
		Usage:        c.Usage,
	}, nil
}

// PostJSON sends payload to url with bearer auth and decodes a 2xx body into
// out. Non-2xx responses become *ProviderError. Every exchange is traced.
func PostJSON(ctx context.Context, client *http.Client, provider, url, apiKey, model string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}

	entry := TraceEntry{Driver: provider, Endpoint: url, Method: http.MethodPost, Model: model, RequestBody: body}
	start := time.Now()
	resp, err := client.Do(httpReq)
	entry.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
		Trace(entry)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	entry.StatusCode = resp.StatusCode
	if json.Valid(respBody) {
		entry.Response = respBody
	}
	Trace(entry)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &ProviderError{
			Provider:    provider,
			StatusCode:  resp.StatusCode,
			Message:     strings.TrimSpace(string(respBody)),
			RawResponse: respBody,
			RetryAfter:  retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// WithTimeout bounds ctx when timeout is positive.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
