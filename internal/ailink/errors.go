package ailink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quotelens/quotelens/internal/ailink/driver"
)

// ErrNoProviders is returned when no enabled provider can serve a role.
var ErrNoProviders = errors.New("no ai providers configured")

const (
	CodeProviderAuth        = "AILINK_PROVIDER_AUTH"
	CodeProviderRateLimit   = "AILINK_PROVIDER_RATE_LIMIT"
	CodeProviderUnavailable = "AILINK_PROVIDER_UNAVAILABLE"
	CodeProviderBadRequest  = "AILINK_PROVIDER_BAD_REQUEST"
	CodeProviderTimeout     = "AILINK_PROVIDER_TIMEOUT"
	CodeProviderError       = "AILINK_PROVIDER_ERROR"
	CodeNotConfigured       = "AILINK_NOT_CONFIGURED"
	CodeInvalidResponse     = "AILINK_INVALID_RESPONSE"
)

// Error is a classified AI provider failure.
type Error struct {
	Code     string
	Message  string
	Provider string
	Details  string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "ai provider error"
	}
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Temporary reports whether the failure is likely transient.
func (e *Error) Temporary() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeProviderRateLimit, CodeProviderUnavailable, CodeProviderTimeout:
		return true
	}
	return false
}

func mapProviderError(providerID string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeProviderTimeout, Message: "provider request timed out", Provider: providerID, Err: err}
	}
	if errors.Is(err, driver.ErrNotConfigured) || errors.Is(err, ErrNoProviders) {
		return &Error{Code: CodeNotConfigured, Message: "provider not configured", Provider: providerID, Details: err.Error(), Err: err}
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		status := perr.StatusCode
		details := strings.TrimSpace(perr.Message)
		out := &Error{Provider: providerID, Details: details, Err: err}
		switch {
		case status == 401 || status == 403:
			out.Code, out.Message = CodeProviderAuth, "provider authentication failed"
		case status == 429:
			out.Code, out.Message = CodeProviderRateLimit, "provider rate limited"
			if perr.RetryAfter > 0 {
				out.Details = strings.TrimSpace(fmt.Sprintf("%s retry after %s", details, perr.RetryAfter))
			}
		case status >= 500 && status <= 599:
			out.Code, out.Message = CodeProviderUnavailable, "provider unavailable"
		case status >= 400 && status <= 499:
			out.Code, out.Message = CodeProviderBadRequest, "provider rejected request"
		default:
			out.Code, out.Message = CodeProviderError, "provider request failed"
		}
		return out
	}

	return &Error{Code: CodeProviderError, Message: "provider request failed", Provider: providerID, Details: err.Error(), Err: err}
}

// shouldFallback reports whether the next candidate provider should be tried.
func shouldFallback(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrNotConfigured) {
		return true
	}
	var perr *driver.ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}
