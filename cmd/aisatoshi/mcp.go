package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"aisatoshi/internal/mcp"
)

// mcpCmd serves the task tools over MCP
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve task management tools over MCP (stdio)",
	Long: `Exposes create/list/get/stop/delete/history/stats task tools to an MCP
client on stdin/stdout. Tasks created here are run by "aisatoshi run" against
the same database.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr, closeStore, err := openTasks()
	if err != nil {
		return err
	}
	defer closeStore()

	logger.Info("Serving MCP on stdio", zap.String("database", cfg.Memory.DatabasePath))
	srv := mcp.NewServer(cfg.Name, cfg.Version, mgr, int(cfg.GetDefaultInterval().Seconds()))
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}
