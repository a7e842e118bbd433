package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotelens/quotelens/internal/output"
)

var marketStatusAt string

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Exchange session information",
}

var marketStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current market session",
	Long: `Show whether the exchange is open, in pre-market or after-hours, or
closed, together with the next open and close instants.

Use --at with an RFC 3339 timestamp to evaluate another instant.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}
		var at time.Time
		if value := strings.TrimSpace(marketStatusAt); value != "" {
			at, err = time.Parse(time.RFC3339, value)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
		}

		return runWithRuntime(cmd, runtimeOptions{}, func(ctx context.Context, rt *appRuntime) error {
			session := rt.schedule.Session()
			if !at.IsZero() {
				session = rt.schedule.SessionAt(at)
			}
			text, err := output.Session(format, session)
			if err != nil {
				return err
			}
			return emit(cmd, "market.status", format, text)
		})
	},
}

func init() {
	marketStatusCmd.Flags().StringVar(&marketStatusAt, "at", "", "evaluate at this RFC 3339 instant instead of now")
	addOutputTargetFlags(marketStatusCmd)
	marketCmd.AddCommand(marketStatusCmd)
	rootCmd.AddCommand(marketCmd)
}
