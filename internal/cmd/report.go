package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/report"
	"github.com/quotelens/quotelens/internal/output"
)

var (
	reportUser   string
	reportForce  bool
	reportNoAI   bool
	reportCached bool
)

var reportCmd = &cobra.Command{
	Use:   "report SYMBOL...",
	Short: "Build quote reports with optional AI insights",
	Long: `Fetch a fresh quote for each symbol, ask the insight model for a
recommendation and store the report.

--force resets an open provider breaker and bypasses the quote cache.
--no-ai skips the insight call. --cached prints stored reports without
calling any upstream.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}

		return runWithRuntime(cmd, runtimeOptions{withStore: true, restoreCallLog: true}, func(ctx context.Context, rt *appRuntime) error {
			user := resolveUser(reportUser, rt)
			var result output.ReportResult

			if reportCached {
				for _, symbol := range args {
					stored, err := rt.reports.Get(ctx, user, symbol)
					if err != nil {
						result.Errors = append(result.Errors, core.SymbolError{Symbol: symbol, Code: report.ErrorCode(err), Message: err.Error()})
						continue
					}
					result.Reports = append(result.Reports, *stored)
				}
			} else {
				result.Reports, result.Errors = rt.reports.RefreshAll(ctx, user, args, report.RefreshOptions{Force: reportForce, SkipAI: reportNoAI})
			}

			text, err := output.Reports(format, result)
			if err != nil {
				return err
			}
			if err := emit(cmd, "report", format, text); err != nil {
				return err
			}
			if len(result.Reports) == 0 {
				return fmt.Errorf("no reports: %d symbol(s) failed", len(result.Errors))
			}
			return nil
		})
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportUser, "user", "", "report owner (default auth.default_user)")
	reportCmd.Flags().BoolVar(&reportForce, "force", false, "reset an open breaker and bypass the quote cache")
	reportCmd.Flags().BoolVar(&reportNoAI, "no-ai", false, "skip the insight call")
	reportCmd.Flags().BoolVar(&reportCached, "cached", false, "print stored reports only")
	reportCmd.MarkFlagsMutuallyExclusive("cached", "force")
	addOutputTargetFlags(reportCmd)
	rootCmd.AddCommand(reportCmd)
}
