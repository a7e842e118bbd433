package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quotelens/quotelens/internal/config"
	"github.com/quotelens/quotelens/internal/core/store"
	"github.com/quotelens/quotelens/internal/output"
)

var (
	rateLimitResetAll      bool
	rateLimitResetEndpoint string
	rateLimitResetPrefix   string
	rateLimitResetYes      bool
	rateLimitResetDryRun   bool
)

type resetResult struct {
	Matched int   `json:"matched"`
	Deleted int64 `json:"deleted"`
	DryRun  bool  `json:"dry_run"`
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete stored call logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}

		query := store.CallLogQuery{
			All:      rateLimitResetAll,
			Endpoint: strings.TrimSpace(rateLimitResetEndpoint),
			Prefix:   strings.TrimSpace(rateLimitResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		return withStore(cmd.Context(), func(_ *config.Config, db *store.Store) error {
			matched, err := db.ListCallLogs(cmd.Context(), query)
			if err != nil {
				return err
			}
			result := resetResult{Matched: len(matched), DryRun: rateLimitResetDryRun}
			if !rateLimitResetDryRun {
				result.Deleted, err = db.ResetCallLogs(cmd.Context(), query)
				if err != nil {
					return err
				}
			}
			text, err := formatResetResult(format, result)
			if err != nil {
				return err
			}
			return emit(cmd, "rate-limit.reset", format, text)
		})
	},
}

func formatResetResult(format output.Format, result resetResult) (string, error) {
	if format == output.FormatJSON {
		return output.JSON(result)
	}
	if result.DryRun {
		return fmt.Sprintf("Would delete %d call log(s)", result.Matched), nil
	}
	return fmt.Sprintf("Deleted %d/%d call log(s)", result.Deleted, result.Matched), nil
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset all endpoints")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetEndpoint, "endpoint", "", "Reset a single endpoint (exact match)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "Reset endpoints with matching prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
	addOutputTargetFlags(rateLimitResetCmd)
}
