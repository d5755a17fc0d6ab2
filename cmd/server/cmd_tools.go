package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/spf13/cobra"

	"navnerd-mcp-server/internal/config"
	"navnerd-mcp-server/internal/logging"
	"navnerd-mcp-server/internal/mcp"
	"navnerd-mcp-server/internal/navmenu"
)

var (
	fetchFragment string
	fetchMaxLinks int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Load a page once and print its summary as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

var weighCmd = &cobra.Command{
	Use:   "weigh <page-url> <link>...",
	Short: "Print how strongly each link matches a page",
	Long:  `Links with a weight above zero would be active in the navigation menu.`,
	Args:  cobra.MinimumNArgs(2),
	RunE:  runWeigh,
}

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a .navnerd workspace with template config and agent",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchFragment, "fragment", "", "Also print the text of the element with this id")
	fetchCmd.Flags().IntVar(&fetchMaxLinks, "max-links", 50, "Limit the printed links")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Server, logging.Options{Verbose: verbose})
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	rt, err := mcp.NewRuntime(cfg, mcp.RuntimeOptions{Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	server, err := mcp.NewServer(cfg, rt, logger)
	if err != nil {
		return err
	}
	result, err := server.ExecuteTool(cmd.Context(), "load-page", map[string]interface{}{
		"url":       args[0],
		"fragment":  fetchFragment,
		"max_links": fetchMaxLinks,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

type weighed struct {
	Link   string `json:"link"`
	Weight int    `json:"weight"`
	Active bool   `json:"active"`
}

func runWeigh(cmd *cobra.Command, args []string) error {
	page, err := url.Parse(args[0])
	if err != nil {
		return fmt.Errorf("page url: %w", err)
	}
	out := make([]weighed, 0, len(args)-1)
	for _, raw := range args[1:] {
		link, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("link %q: %w", raw, err)
		}
		link = page.ResolveReference(link)
		w := navmenu.Weigh(link, page)
		out = append(out, weighed{Link: link.String(), Weight: w, Active: w > 0})
	}
	return printJSON(cmd, out)
}

func runInit(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if err := config.InitWorkspace(abs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized workspace in %s\n", filepath.Join(abs, config.WorkspaceDirName))
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

