package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"navnerd-mcp-server/internal/config"
	"navnerd-mcp-server/internal/logging"
	"navnerd-mcp-server/internal/mcp"
)

var ssePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the navigation tools over MCP",
	Long:  `Serves over stdio, or over SSE with a websocket event feed when a port is set.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&ssePort, "sse-port", 0, "SSE port override (falls back to config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := loadConfig()
	if err != nil {
		return err
	}
	if ssePort != 0 {
		cfg.MCP.SSEPort = ssePort
	}

	// stdout carries the protocol in stdio mode.
	logger, err := logging.New(cfg.Server, logging.Options{Stdio: cfg.MCP.SSEPort == 0, Verbose: verbose})
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	rt, err := mcp.NewRuntime(cfg, mcp.RuntimeOptions{TraceDir: mcp.TraceDir(wsDir), Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.Fetcher != nil && cfg.Browser.DebuggerURL != "" {
		if err := rt.Fetcher.Start(ctx); err != nil {
			logger.Warn("Browser not reachable yet; pages connect on first load", zap.Error(err))
		}
	}

	server, err := mcp.NewServer(cfg, rt, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if watchPath := watchedConfig(wsDir); cfg.Navigation.Watch && watchPath != "" {
		w, err := config.NewWatcher(watchPath, func() (config.Config, error) {
			c, _, err := loadConfig()
			return c, err
		}, func(c config.Config) {
			if err := rt.ApplyAgents(c.Navigation.Agents); err != nil {
				logger.Warn("Reloaded agents rejected", zap.Error(err))
			}
		}, logger.Named("config"))
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	g.Go(func() error {
		if cfg.MCP.SSEPort > 0 {
			logger.Info("Starting NavNERD MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
			return server.StartSSE(ctx, cfg.MCP.SSEPort)
		}
		logger.Info("Starting NavNERD MCP stdio server")
		return server.Start(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watchedConfig is the file whose edits reload the agents: the explicit
// config when given, else the workspace config.
func watchedConfig(wsDir string) string {
	if configPath != "" {
		return configPath
	}
	if wsDir != "" {
		return config.WorkspaceConfigPath(wsDir)
	}
	return ""
}
