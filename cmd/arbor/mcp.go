package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/aretw0/lifecycle"
	"github.com/spf13/cobra"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/config"
	"github.com/aretw0/arbor/internal/logging"
	mcpAdapter "github.com/aretw0/arbor/pkg/adapters/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts Arbor as an MCP server so AI agents can create sessions,
evaluate code, and interrupt running evaluations as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := logging.New(logging.ParseLevel(cfg.LogLevel))

		core, err := arbor.New(
			arbor.WithLogger(logger),
			arbor.WithPoolSize(cfg.PoolSize),
			arbor.WithDefaultEvaluator(cfg.Evaluator),
		)
		if err != nil {
			return err
		}

		srv := mcpAdapter.NewServer(core)

		switch transport {
		case "stdio":
			// Keep Stdout clean for JSON-RPC.
			log.SetOutput(os.Stderr)
			logger.Info("starting mcp server (stdio)")
			if err := srv.ServeStdio(); err != nil {
				logger.Error("mcp server execution failed", "error", err)
				os.Exit(1)
			}
		case "sse":
			logger.Info("starting mcp server (sse)", "port", port)
			ctx := lifecycle.NewSignalContext(context.Background())
			if err := srv.ServeSSE(ctx, port); err != nil && err != http.ErrServerClosed {
				logger.Error("mcp server execution failed", "error", err)
				os.Exit(1)
			}
			logger.Info("mcp server stopped gracefully")
		default:
			log.Fatalf("Unknown transport: %s. Supported: stdio, sse", transport)
		}
		core.Shutdown()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringP("transport", "t", "stdio", "Transport to use (stdio or sse)")
	mcpCmd.Flags().IntP("port", "p", 7890, "Port for the SSE transport")
}
