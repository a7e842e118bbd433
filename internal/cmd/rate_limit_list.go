package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotelens/quotelens/internal/config"
	"github.com/quotelens/quotelens/internal/core/store"
	"github.com/quotelens/quotelens/internal/output"
)

var (
	rateLimitListPrefix string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored call logs with their remaining budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}

		query := store.CallLogQuery{Prefix: strings.TrimSpace(rateLimitListPrefix)}
		if query.Prefix == "" {
			query.All = true
		}

		return withStore(cmd.Context(), func(cfg *config.Config, db *store.Store) error {
			logs, err := db.ListCallLogs(cmd.Context(), query)
			if err != nil {
				return err
			}
			text, err := output.CallLogs(format, logs, cfg.Refresh.MaxCallsPerMinute, time.Now())
			if err != nil {
				return err
			}
			return emit(cmd, "rate-limit.list", format, text)
		})
	},
}

func init() {
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List endpoints with matching prefix (default all)")
	addOutputTargetFlags(rateLimitListCmd)
}
