package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"aisatoshi/internal/app"
	"aisatoshi/internal/channel/console"
)

var runConsole bool

// runCmd starts the bot
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the chat agent and the task scheduler",
	Long: `Connects to Telegram, serves incoming messages and runs due tasks until
interrupted.

With --console the bot talks on stdin/stdout instead, and no Telegram token is
needed.`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().BoolVar(&runConsole, "console", false, "Chat on stdin/stdout instead of Telegram")
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{ConfigPath: configPath}
	if runConsole {
		opts.Channel = console.New(os.Stdin, cmd.OutOrStdout())
	}

	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Close failed", zap.Error(err))
		}
	}()

	logger.Info("Starting agent",
		zap.String("name", cfg.Name),
		zap.String("version", cfg.Version),
		zap.Bool("console", runConsole))
	if err := a.Run(ctx); err != nil {
		return err
	}
	logger.Info("Agent stopped")
	return nil
}
