package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotelens/quotelens/internal/output"
	"github.com/quotelens/quotelens/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build, Go, Gofulmen and Crucible versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}
		info := handlers.CurrentVersion(cmd.Context())
		out := cmd.OutOrStdout()

		if format == output.FormatJSON {
			text, err := output.JSON(info)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, text)
			return err
		}

		fmt.Fprintf(out, "%s %s\n", info.App.Name, versionInfo.Version)
		if extended {
			fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
			fmt.Fprintf(out, "Built: %s\n", versionInfo.BuildDate)
			fmt.Fprintf(out, "Go: %s\n", info.App.GoVersion)
			fmt.Fprintf(out, "Platform: %s\n\n", info.Runtime.Platform)
			fmt.Fprintf(out, "Gofulmen: %s\n", info.Dependencies.Gofulmen)
			fmt.Fprintf(out, "Crucible: %s\n", info.Dependencies.Crucible)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
