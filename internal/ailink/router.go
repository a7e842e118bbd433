package ailink

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/ailink/driver"
	"github.com/quotelens/quotelens/internal/metrics"
	"github.com/quotelens/quotelens/internal/observability"
)

// Router sends a request to the first provider for a role and falls back
// to the next candidate on retryable failures.
type Router struct {
	registry *Registry
	logger   observability.FieldLogger
}

// Completion is a driver response tagged with the provider that served it.
type Completion struct {
	*driver.Response
	ProviderID string
}

func NewRouter(registry *Registry, logger observability.FieldLogger) *Router {
	return &Router{registry: registry, logger: observability.OrNop(logger)}
}

// Registry returns the provider registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Available reports whether any provider can serve role.
func (r *Router) Available(role string) bool {
	if r == nil {
		return false
	}
	ids, err := r.registry.Candidates(role)
	return err == nil && len(ids) > 0
}

// Complete routes req for role. The request model is filled per provider
// and LiveSearch is kept only for providers that enable it.
func (r *Router) Complete(ctx context.Context, role string, req driver.Request) (*Completion, error) {
	if r == nil {
		return nil, mapProviderError("", ErrNoProviders)
	}
	candidates, err := r.registry.Candidates(role)
	if err != nil {
		return nil, mapProviderError("", err)
	}

	var lastErr error
	var lastProvider string
	for i, providerID := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, mapProviderError(providerID, err)
		}

		resolved, err := r.registry.Resolve(providerID, req.Model)
		if err != nil {
			r.logger.Warn("AI provider unavailable",
				zap.String("provider", providerID),
				zap.String("role", role),
				zap.Error(err))
			lastErr, lastProvider = err, providerID
			continue
		}

		attempt := req
		attempt.Model = resolved.Model
		attempt.LiveSearch = req.LiveSearch && resolved.Provider.LiveSearch

		start := time.Now()
		resp, err := resolved.Driver.Complete(ctx, &attempt)
		metrics.RecordAIRequest(providerID, role, err == nil, time.Since(start))
		if err == nil {
			if i > 0 {
				r.logger.Info("AI request served by fallback provider",
					zap.String("provider", providerID),
					zap.String("role", role),
					zap.Int("attempt", i+1))
			}
			return &Completion{Response: resp, ProviderID: providerID}, nil
		}

		lastErr, lastProvider = err, providerID
		if !shouldFallback(err) {
			return nil, mapProviderError(providerID, err)
		}
		r.logger.Warn("AI provider failed, trying next candidate",
			zap.String("provider", providerID),
			zap.String("role", role),
			zap.Error(err))
	}
	return nil, mapProviderError(lastProvider, lastErr)
}
