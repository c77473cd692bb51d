package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskboard/taskchat/internal/domain"
)

func init() {
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(draftCmd)
}

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Start a local conversation for a task that is not saved yet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id := domain.NewDraftChatID()
		fmt.Fprintf(cmd.OutOrStdout(), "draft chat %s\n", id)
		return runInteractive(cmd, id)
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote [draft-id] [task-chat-id]",
	Short: "Move a draft conversation onto its saved task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		draftID, taskID := domain.ChatID(args[0]), domain.ChatID(args[1])
		if !draftID.IsDraft() {
			return fmt.Errorf("%s is not a draft chat id", draftID)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, err := newClient(cfg, newLogger())
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := commandContext(cmd)
		if err := c.ctrl.Open(ctx, draftID); err != nil {
			return err
		}
		if err := c.ctrl.Promote(ctx, taskID); err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := waitSettled(waitCtx, c.ctrl); err != nil {
			return fmt.Errorf("promoted messages not confirmed: %w", err)
		}
		out := cmd.OutOrStdout()
		if n := failed(c.ctrl.Snapshot()); n > 0 {
			fmt.Fprintf(out, "promoted to %s, %d message(s) failed and can be retried from `taskchat chat %s`\n", taskID, n, taskID)
			return nil
		}
		fmt.Fprintf(out, "promoted to %s\n", taskID)
		return nil
	},
}
