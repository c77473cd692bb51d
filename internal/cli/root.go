// Package cli implements the taskchat command line client.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taskboard/taskchat/internal/config"
	"github.com/taskboard/taskchat/internal/observability"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath  string
	verbose     bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "taskchat",
	Short: "Chat about a task from the terminal",
	Long: `taskchat opens the conversation attached to a task, shows its history
and lets you post messages with image and video attachments. When the
chat engine is unreachable the last known history is shown from the local
cache.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if metricsAddr == "" {
			return nil
		}
		addr, err := serveMetrics(commandContext(cmd), metricsAddr)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "metrics on http://%s/metrics\n", addr)
		return nil
	},
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log transport activity to stderr")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default is ./"+config.ClientConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve client send and reconnect metrics on this address")
}

func loadConfig() (*config.ClientConfig, error) {
	return config.LoadClientConfig(configPath)
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	observability.InitConsoleLogger("taskchat", zapcore.DebugLevel)
	return observability.Log
}
