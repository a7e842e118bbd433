package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quotelens/quotelens/internal/config"
	"github.com/quotelens/quotelens/internal/core/store"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect or reset persisted call logs",
	Long: `Inspect or reset the call logs that carry the per-minute quote budget
across CLI invocations. The "quotes" endpoint holds the shared quote limiter.`,
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}

// withStore loads config and opens the store for admin commands.
func withStore(ctx context.Context, fn func(cfg *config.Config, db *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup
	return fn(cfg, db)
}
