package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	errwrap "github.com/quotelens/quotelens/internal/errors"
	"github.com/quotelens/quotelens/internal/observability"
	"github.com/quotelens/quotelens/internal/output"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Verify the application can start: version info, configuration, market
schedule, store, quote provider and AI routing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}

		checks := []output.Check{{Name: "version", OK: versionInfo.Version != "", Detail: versionInfo.Version}}

		cfg, err := loadConfig()
		if err != nil {
			checks = append(checks, output.Check{Name: "config", Detail: err.Error()})
			return reportHealth(cmd, format, checks)
		}
		checks = append(checks, output.Check{Name: "config", OK: true})

		rt, err := buildRuntime(cmd.Context(), cfg, observability.CLILogger, runtimeOptions{withStore: true})
		if err != nil {
			checks = append(checks, output.Check{Name: "runtime", Detail: err.Error()})
			return reportHealth(cmd, format, checks)
		}
		defer rt.close(context.WithoutCancel(cmd.Context()))

		session := rt.schedule.Session()
		checks = append(checks,
			output.Check{Name: "market", OK: true, Detail: fmt.Sprintf("%s %s (%d holidays)", rt.schedule.Exchange().Name, session.Status, rt.schedule.Calendar().Len())},
			output.Check{Name: "store", OK: rt.store != nil, Detail: rt.store.Driver()},
			output.Check{Name: "quote provider", OK: rt.breaker.IsConfigured(), Detail: rt.breaker.Name()},
			// AI is optional; report it without failing the check.
			output.Check{Name: "ai insights", OK: true, Detail: availability(rt.insights != nil)},
			output.Check{Name: "chat", OK: true, Detail: availability(rt.chats != nil)},
		)
		return reportHealth(cmd, format, checks)
	},
}

func availability(on bool) string {
	if on {
		return "available"
	}
	return "disabled or unconfigured"
}

func reportHealth(cmd *cobra.Command, format output.Format, checks []output.Check) error {
	text, err := output.Checks(format, checks)
	if err != nil {
		return err
	}
	if err := emit(cmd, "health", format, text); err != nil {
		return err
	}
	for _, c := range checks {
		if !c.OK {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Health check failed",
				errwrap.NewConfigInvalidError(fmt.Sprintf("%s: %s", c.Name, c.Detail)))
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
