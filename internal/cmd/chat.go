package cmd

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quotelens/quotelens/internal/output"
)

var (
	chatSymbol  string
	chatContext string
)

var errChatUnavailable = errors.New("chat is not available: enable chat and configure an ailink provider for the chat role")

var chatCmd = &cobra.Command{
	Use:   "chat MESSAGE",
	Short: "Ask the market assistant a question",
	Long: `Send one message to the market assistant. With --symbol the latest
quote for that symbol is attached as context. Replies are never cached.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}
		message := strings.Join(args, " ")

		return runWithRuntime(cmd, runtimeOptions{withStore: true, restoreCallLog: true}, func(ctx context.Context, rt *appRuntime) error {
			if rt.chats == nil {
				return errChatUnavailable
			}
			reply, err := rt.chats.Session(rt.cfg.Auth.DefaultUser).SendMessage(ctx, message, strings.ToUpper(strings.TrimSpace(chatSymbol)), chatContext)
			if err != nil {
				return err
			}
			text, err := output.Chat(format, reply)
			if err != nil {
				return err
			}
			return emit(cmd, "chat", format, text)
		})
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatSymbol, "symbol", "", "attach the latest quote for this symbol")
	chatCmd.Flags().StringVar(&chatContext, "context", "", "extra context passed with the message")
	addOutputTargetFlags(chatCmd)
	rootCmd.AddCommand(chatCmd)
}
