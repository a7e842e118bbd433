package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/output"
)

var (
	watchlistUser  string
	watchlistNotes string
)

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage a user's watchlist",
	Long: `Manage the watchlist stored for a user. Without --user the configured
auth.default_user is used.`,
}

var watchlistAddCmd = &cobra.Command{
	Use:   "add SYMBOL",
	Short: "Add a symbol to the watchlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}
		return runWithRuntime(cmd, runtimeOptions{withStore: true}, func(ctx context.Context, rt *appRuntime) error {
			item, err := rt.watch.Add(ctx, resolveUser(watchlistUser, rt), args[0], watchlistNotes)
			if err != nil {
				return err
			}
			text, err := output.Watchlist(format, []core.WatchlistItem{*item})
			if err != nil {
				return err
			}
			return emit(cmd, "watchlist.add", format, text)
		})
	},
}

var watchlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the watchlist with last known prices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}
		return runWithRuntime(cmd, runtimeOptions{withStore: true}, func(ctx context.Context, rt *appRuntime) error {
			items, err := rt.watch.List(ctx, resolveUser(watchlistUser, rt))
			if err != nil {
				return err
			}
			text, err := output.Watchlist(format, items)
			if err != nil {
				return err
			}
			return emit(cmd, "watchlist", format, text)
		})
	},
}

var watchlistRemoveCmd = &cobra.Command{
	Use:     "remove SYMBOL",
	Aliases: []string{"rm"},
	Short:   "Remove a symbol from the watchlist",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithRuntime(cmd, runtimeOptions{withStore: true}, func(ctx context.Context, rt *appRuntime) error {
			symbol, err := core.NormalizeSymbol(args[0])
			if err != nil {
				return err
			}
			if err := rt.watch.Remove(ctx, resolveUser(watchlistUser, rt), symbol); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", symbol)
			return err
		})
	},
}

var watchlistRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch quotes for every watchlist symbol and store the prices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}
		return runWithRuntime(cmd, runtimeOptions{withStore: true, restoreCallLog: true}, func(ctx context.Context, rt *appRuntime) error {
			result, err := rt.watch.RefreshWatchlist(ctx, resolveUser(watchlistUser, rt))
			if err != nil {
				return err
			}
			text, err := output.Quotes(format, output.QuoteResult{Quotes: result.Quotes, Errors: result.Errors})
			if err != nil {
				return err
			}
			return emit(cmd, "watchlist.refresh", format, text)
		})
	},
}

func init() {
	watchlistCmd.PersistentFlags().StringVar(&watchlistUser, "user", "", "watchlist owner (default auth.default_user)")
	watchlistAddCmd.Flags().StringVar(&watchlistNotes, "notes", "", "free-form notes stored with the symbol")

	for _, sub := range []*cobra.Command{watchlistAddCmd, watchlistListCmd, watchlistRefreshCmd} {
		addOutputTargetFlags(sub)
	}
	watchlistCmd.AddCommand(watchlistAddCmd, watchlistListCmd, watchlistRemoveCmd, watchlistRefreshCmd)
	rootCmd.AddCommand(watchlistCmd)
}
