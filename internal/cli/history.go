package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskboard/taskchat/internal/domain"
)

func init() {
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [chat-id]",
	Short: "Print the conversation of a task and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, err := newClient(cfg, newLogger())
		if err != nil {
			return err
		}
		defer c.Close()

		chatID := domain.ChatID(args[0])
		if err := c.ctrl.Open(commandContext(cmd), chatID); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		renderHeader(out, chatID, c.ctrl.State())
		renderMessages(out, c.ctrl, c.ctrl.Snapshot(), time.Now())
		return nil
	},
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
