package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"navnerd-mcp-server/internal/config"
)

var (
	configPath  string
	workspace   string
	noWorkspace bool
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "navnerd",
	Short: "NavNERD navigation MCP server",
	Long: `NavNERD drives an agent-guarded navigator, loads the pages it enters and
keeps a navigation menu in sync with them, exposed as MCP tools.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file layered over the workspace config")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace-dir", "", "Use this directory as workspace root instead of discovering one")
	rootCmd.PersistentFlags().BoolVar(&noWorkspace, "no-workspace", false, "Skip workspace discovery")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(serveCmd, fetchCmd, weighCmd, initCmd)
}

func loadConfig() (config.Config, string, error) {
	cfg, wsDir, err := config.LoadWithWorkspace(configPath, config.WorkspaceOptions{
		Disable:     noWorkspace,
		ExplicitDir: workspace,
	})
	if err != nil {
		return cfg, wsDir, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, wsDir, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// syncLogger flushes the logger. Syncing stderr fails on some platforms.
func syncLogger(logger *zap.Logger) {
	_ = logger.Sync()
}
