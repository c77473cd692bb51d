package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskboard/taskchat/internal/composer"
	"github.com/taskboard/taskchat/internal/domain"
)

var (
	sendAttach  []string
	sendTimeout time.Duration
)

func init() {
	sendCmd.Flags().StringSliceVarP(&sendAttach, "attach", "a", nil, "image or video file to attach (repeatable)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 30*time.Second, "how long to wait for the engine to confirm")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [chat-id] [text...]",
	Short: "Post one message and wait for confirmation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger()
		c, err := newClient(cfg, log)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := commandContext(cmd)
		if err := c.ctrl.Open(ctx, domain.ChatID(args[0])); err != nil {
			return err
		}

		comp := composer.New(c.ctrl, log)
		comp.SetText(strings.Join(args[1:], " "))
		if len(sendAttach) > 0 {
			if _, err := comp.Attach(sendAttach...); err != nil {
				return err
			}
		}
		m, err := comp.Submit()
		if err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		if err := waitSettled(waitCtx, c.ctrl); err != nil {
			return fmt.Errorf("message %s not confirmed: %w", m.ID, err)
		}
		if failed(c.ctrl.Snapshot()) > 0 {
			return fmt.Errorf("message %s failed to send; it is kept locally for retry", m.ID)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sent")
		return nil
	},
}
