package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level NavNERD config.
	WorkspaceDirName = ".navnerd"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// Loader backends.
const (
	BackendHTTP = "http"
	BackendRod  = "rod"
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the NavNERD MCP server.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Navigation NavigationConfig `yaml:"navigation"`
	Loader     LoaderConfig     `yaml:"loader"`
	Browser    BrowserConfig    `yaml:"browser"`
	MCP        MCPConfig        `yaml:"mcp"`
	Mangle     MangleConfig     `yaml:"mangle"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
	// debug | info | warn | error
	LogLevel string `yaml:"log_level"`
	// Development switches to the human readable zap encoder.
	Development bool `yaml:"development"`
}

// NavigationConfig configures the navigator and its agents.
type NavigationConfig struct {
	// StartURL is the page the navigator starts at.
	StartURL string `yaml:"start_url"`
	// BaseURL resolves relative navigation targets and menu links. Defaults to StartURL.
	BaseURL string `yaml:"base_url"`
	// HistoryStore is a bbolt file remembering visited pages. Empty keeps visits in memory.
	HistoryStore string `yaml:"history_store"`
	// Agents run in order before each navigation.
	Agents []AgentRule `yaml:"agents"`
	// Watch reloads the agents when the config file changes.
	Watch bool `yaml:"watch"`
}

// AgentRule declares a navigation agent. Exactly one action is set.
type AgentRule struct {
	Name string `yaml:"name"`
	// Match is a URL prefix the rule applies to. Empty matches every target.
	Match string `yaml:"match"`

	Redirect string `yaml:"redirect"`
	Block    bool   `yaml:"block"`
	Title    string `yaml:"title"`
	// Script is JavaScript defining function agent(nav).
	Script string `yaml:"script"`
	// ScriptFile is read into Script on load.
	ScriptFile string `yaml:"script_file"`
}

// LoaderConfig configures page loading.
type LoaderConfig struct {
	// Backend is "http" (plain fetch) or "rod" (rendered by Chrome).
	Backend   string `yaml:"backend"`
	Accept    string `yaml:"accept"`
	UserAgent string `yaml:"user_agent"`
	// Timeout bounds a single fetch (e.g., "20s").
	Timeout string `yaml:"timeout"`
	// URLParams are added to the query of every loaded page URL.
	URLParams map[string]string `yaml:"url_params"`
	// CollectScripts reports external scripts of loaded documents.
	CollectScripts bool `yaml:"collect_scripts"`
	// CacheGrace keeps an unused page load alive for a while (e.g., "0s").
	CacheGrace string `yaml:"cache_grace"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
	// EventsPath serves the navigation event websocket next to the SSE endpoints.
	EventsPath string `yaml:"events_path"`
}

// MangleConfig controls the embedded deductive engine.
type MangleConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	DisableBuiltin  bool   `yaml:"disable_builtin_rules"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "navnerd-mcp",
			Version:  "0.1.0",
			LogFile:  "navnerd-mcp.log",
			LogLevel: "info",
		},
		Navigation: NavigationConfig{
			StartURL: "about:blank",
		},
		Loader: LoaderConfig{
			Backend: BackendHTTP,
			Accept:  "text/html",
			Timeout: "20s",
		},
		Browser: BrowserConfig{
			DefaultNavigationTimeout: "15s",
		},
		MCP: MCPConfig{
			SSEPort:    0,
			EventsPath: "/events",
		},
		Mangle: MangleConfig{
			Enable:          true,
			SchemaPath:      "schemas/navigation.mg",
			FactBufferLimit: 2048,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	if err := overlay(&cfg, path); err != nil {
		return cfg, err
	}
	if err := cfg.loadScripts(filepath.Dir(path)); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func overlay(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// DiscoverWorkspace walks up from startDir looking for a .navnerd/config.yaml file.
// Returns the workspace root directory (parent of .navnerd/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .navnerd/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	// Layer 1: Workspace config (if not disabled)
	if !opts.Disable {
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, err := os.Getwd()
			if err != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", err)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := WorkspaceConfigPath(wsDir)
			if err := overlay(&cfg, wsConfigPath); err != nil {
				return cfg, "", fmt.Errorf("reading workspace config: %w", err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	// Layer 2: Explicit config file (--config flag)
	if explicitConfig != "" {
		if err := overlay(&cfg, explicitConfig); err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config: %w", err)
		}
	}

	scriptDir := "."
	switch {
	case explicitConfig != "":
		scriptDir = filepath.Dir(explicitConfig)
	case wsDir != "":
		scriptDir = filepath.Join(wsDir, WorkspaceDirName)
	}
	if err := cfg.loadScripts(scriptDir); err != nil {
		return cfg, wsDir, err
	}

	return cfg, wsDir, cfg.Validate()
}

// WorkspaceConfigPath returns the config file of the workspace rooted at wsDir.
func WorkspaceConfigPath(wsDir string) string {
	return filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
}

// InitWorkspace creates a .navnerd/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "agents"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# NavNERD project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# navigation:
#   start_url: "https://example.com/"
#   history_store: "data/history.db"
#   watch: true
#   agents:
#     - name: no-admin
#       match: "https://example.com/admin"
#       block: true
#     - name: docs-moved
#       match: "https://example.com/doc/"
#       redirect: "https://example.com/docs/"
#     - name: scripted
#       script_file: "agents/agent.js"

# loader:
#   backend: http
#   url_params:
#     __navnerd_rev__: "1"
`
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	agentTemplate := `// Called before each navigation.
// Return true to proceed, false to stay on the page,
// a URL string to redirect, or {url, title} to retarget.
function agent(nav) {
  return true;
}
`
	if err := os.WriteFile(filepath.Join(wsDir, "agents", "agent.js"), []byte(agentTemplate), 0644); err != nil {
		return fmt.Errorf("writing agent template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, history) - do not version control\ndata/\n"
	if err := os.WriteFile(filepath.Join(wsDir, ".gitignore"), []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Navigation.HistoryStore = resolve(cfg.Navigation.HistoryStore)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	return cfg
}

// loadScripts reads script files of agent rules. Relative paths are taken
// from dir.
func (c *Config) loadScripts(dir string) error {
	for i := range c.Navigation.Agents {
		rule := &c.Navigation.Agents[i]
		if rule.ScriptFile == "" || rule.Script != "" {
			continue
		}
		path := rule.ScriptFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("agent %s: reading script: %w", rule.label(i), err)
		}
		rule.Script = string(raw)
	}
	return nil
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if _, err := url.Parse(c.Navigation.StartURL); err != nil || c.Navigation.StartURL == "" {
		return fmt.Errorf("navigation.start_url is invalid: %q", c.Navigation.StartURL)
	}
	if c.Navigation.BaseURL != "" {
		if u, err := url.Parse(c.Navigation.BaseURL); err != nil || !u.IsAbs() {
			return fmt.Errorf("navigation.base_url must be an absolute URL: %q", c.Navigation.BaseURL)
		}
	}
	for i, rule := range c.Navigation.Agents {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("navigation.agents[%s]: %w", rule.label(i), err)
		}
	}
	switch c.Loader.Backend {
	case BackendHTTP, "":
	case BackendRod:
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided for the rod loader")
		}
	default:
		return fmt.Errorf("loader.backend must be %q or %q, got %q", BackendHTTP, BackendRod, c.Loader.Backend)
	}
	return nil
}

// Validate checks that the rule has exactly one action.
func (r AgentRule) Validate() error {
	actions := 0
	if r.Redirect != "" {
		actions++
	}
	if r.Block {
		actions++
	}
	if r.Title != "" {
		actions++
	}
	if r.Script != "" || r.ScriptFile != "" {
		actions++
	}
	if actions != 1 {
		return errors.New("exactly one of redirect, block, title or script is required")
	}
	if r.Redirect != "" {
		if _, err := url.Parse(r.Redirect); err != nil {
			return fmt.Errorf("redirect: %w", err)
		}
	}
	return nil
}

func (r AgentRule) label(i int) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprint(i)
}

// Matches reports whether the rule applies to target.
func (r AgentRule) Matches(target string) bool {
	return strings.HasPrefix(target, r.Match)
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// FetchTimeout returns the parsed fetch timeout with a sane default.
func (l LoaderConfig) FetchTimeout() time.Duration {
	return parseDuration(l.Timeout, 20*time.Second)
}

// GracePeriod returns how long an unused page load is kept. Zero means the
// next scheduler tick.
func (l LoaderConfig) GracePeriod() time.Duration {
	return parseDuration(l.CacheGrace, 0)
}

// Base returns the base URL, falling back to the start URL.
func (n NavigationConfig) Base() string {
	if n.BaseURL != "" {
		return n.BaseURL
	}
	return n.StartURL
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
