package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/observability"
)

// runWithRuntime builds the runtime for a one-shot command and always
// closes it, which persists the quote call log.
func runWithRuntime(cmd *cobra.Command, opts runtimeOptions, fn func(ctx context.Context, rt *appRuntime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := buildRuntime(ctx, cfg, observability.CLILogger, opts)
	if err != nil {
		return err
	}
	defer rt.close(context.WithoutCancel(ctx))

	return describeError(fn(ctx, rt))
}

// describeError adds the retry hint to rate limit failures.
func describeError(err error) error {
	var limited *engine.RateLimitError
	if errors.As(err, &limited) && limited.RetryAfter > 0 {
		return fmt.Errorf("%w (retry after %s)", err, limited.RetryAfter.Round(1e9))
	}
	return err
}

// resolveUser falls back to the configured default user.
func resolveUser(flagValue string, rt *appRuntime) string {
	if user := strings.TrimSpace(flagValue); user != "" {
		return user
	}
	return rt.cfg.Auth.DefaultUser
}
