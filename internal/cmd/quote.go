package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/output"
)

var quoteCmd = &cobra.Command{
	Use:   "quote SYMBOL...",
	Short: "Fetch quotes for one or more symbols",
	Long: `Fetch quotes through the shared cache and per-minute limiter.

The limiter history is stored between invocations, so repeated runs inside
one minute draw from the same budget as the server.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}

		return runWithRuntime(cmd, runtimeOptions{withStore: true, restoreCallLog: true}, func(ctx context.Context, rt *appRuntime) error {
			var result output.QuoteResult
			if len(args) == 1 {
				quote, err := rt.watch.Quote(ctx, args[0])
				if err != nil {
					return err
				}
				result.Quotes = []core.Quote{*quote}
			} else {
				result.Quotes, result.Errors = rt.watch.Quotes(ctx, args)
				if len(result.Quotes) == 0 && len(result.Errors) > 0 {
					text, _ := output.Quotes(format, result)
					_ = emit(cmd, "quotes", format, text)
					return fmt.Errorf("no quotes: %d symbol(s) failed", len(result.Errors))
				}
			}

			text, err := output.Quotes(format, result)
			if err != nil {
				return err
			}
			return emit(cmd, "quotes", format, text)
		})
	},
}

func init() {
	addOutputTargetFlags(quoteCmd)
	rootCmd.AddCommand(quoteCmd)
}
