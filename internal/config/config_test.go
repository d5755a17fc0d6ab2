package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Server defaults
	if cfg.Server.Name != "navnerd-mcp" {
		t.Errorf("expected server name 'navnerd-mcp', got %q", cfg.Server.Name)
	}
	if cfg.Server.LogFile != "navnerd-mcp.log" {
		t.Errorf("expected log file 'navnerd-mcp.log', got %q", cfg.Server.LogFile)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Server.LogLevel)
	}

	// Navigation and loader defaults
	if cfg.Navigation.StartURL != "about:blank" {
		t.Errorf("expected start url 'about:blank', got %q", cfg.Navigation.StartURL)
	}
	if cfg.Loader.Backend != BackendHTTP {
		t.Errorf("expected loader backend %q, got %q", BackendHTTP, cfg.Loader.Backend)
	}
	if cfg.Loader.Accept != "text/html" {
		t.Errorf("expected accept 'text/html', got %q", cfg.Loader.Accept)
	}
	if cfg.MCP.EventsPath != "/events" {
		t.Errorf("expected events path '/events', got %q", cfg.MCP.EventsPath)
	}

	// Mangle defaults
	if !cfg.Mangle.Enable {
		t.Error("expected Mangle.Enable to be true")
	}
	if cfg.Mangle.SchemaPath != "schemas/navigation.mg" {
		t.Errorf("expected schema path 'schemas/navigation.mg', got %q", cfg.Mangle.SchemaPath)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for empty path")
	}
	if err.Error() != "config path is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(filepath.Join(tmpDir, "agent.js"), []byte("function agent(nav) { return true; }"), 0644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	configContent := `
server:
  name: "test-server"
  log_level: debug

navigation:
  start_url: "https://example.com/"
  agents:
    - name: admin
      match: "https://example.com/admin"
      block: true
    - match: "https://example.com/old/"
      redirect: "https://example.com/new/"
    - name: scripted
      script_file: agent.js

loader:
  timeout: "5s"
  url_params:
    __rev__: "42"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Name != "test-server" {
		t.Errorf("expected server name 'test-server', got %q", cfg.Server.Name)
	}
	if cfg.Server.LogFile != "navnerd-mcp.log" {
		t.Errorf("expected default log file to survive overlay, got %q", cfg.Server.LogFile)
	}
	if len(cfg.Navigation.Agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(cfg.Navigation.Agents))
	}
	if !cfg.Navigation.Agents[0].Block {
		t.Error("expected first agent to block")
	}
	if !strings.Contains(cfg.Navigation.Agents[2].Script, "function agent") {
		t.Errorf("expected script file to be loaded, got %q", cfg.Navigation.Agents[2].Script)
	}
	if cfg.Loader.FetchTimeout() != 5*time.Second {
		t.Errorf("expected fetch timeout 5s, got %v", cfg.Loader.FetchTimeout())
	}
	if cfg.Loader.URLParams["__rev__"] != "42" {
		t.Errorf("expected url param __rev__=42, got %v", cfg.Loader.URLParams)
	}
	if cfg.Navigation.Base() != "https://example.com/" {
		t.Errorf("expected base to fall back to start url, got %q", cfg.Navigation.Base())
	}
}

func TestLoadMissingScriptFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
navigation:
  agents:
    - name: missing
      script_file: nope.js
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "agent missing") {
		t.Errorf("expected script read error naming the agent, got %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := func(mod func(*Config)) Config {
		cfg := DefaultConfig()
		mod(&cfg)
		return cfg
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "empty server name",
			cfg:     Config{Server: ServerConfig{Name: ""}},
			wantErr: "server.name is required",
		},
		{
			name:    "empty start url",
			cfg:     valid(func(c *Config) { c.Navigation.StartURL = "" }),
			wantErr: "navigation.start_url is invalid",
		},
		{
			name:    "relative base url",
			cfg:     valid(func(c *Config) { c.Navigation.BaseURL = "/docs/" }),
			wantErr: "navigation.base_url must be an absolute URL",
		},
		{
			name: "agent without action",
			cfg: valid(func(c *Config) {
				c.Navigation.Agents = []AgentRule{{Name: "idle", Match: "https://a.com/"}}
			}),
			wantErr: "navigation.agents[idle]: exactly one of",
		},
		{
			name: "agent with two actions",
			cfg: valid(func(c *Config) {
				c.Navigation.Agents = []AgentRule{{Block: true, Redirect: "https://a.com/"}}
			}),
			wantErr: "navigation.agents[0]: exactly one of",
		},
		{
			name:    "unknown loader backend",
			cfg:     valid(func(c *Config) { c.Loader.Backend = "curl" }),
			wantErr: "loader.backend must be",
		},
		{
			name:    "rod loader without debugger_url or launch",
			cfg:     valid(func(c *Config) { c.Loader.Backend = BackendRod }),
			wantErr: "browser.debugger_url or browser.launch must be provided",
		},
		{
			name: "rod loader with debugger_url",
			cfg: valid(func(c *Config) {
				c.Loader.Backend = BackendRod
				c.Browser.DebuggerURL = "ws://localhost:9222"
			}),
		},
		{
			name: "rod loader with launch",
			cfg: valid(func(c *Config) {
				c.Loader.Backend = BackendRod
				c.Browser.Launch = []string{"chrome"}
			}),
		},
		{
			name: "valid agents",
			cfg: valid(func(c *Config) {
				c.Navigation.Agents = []AgentRule{
					{Match: "https://a.com/x", Title: "X"},
					{Script: "function agent() { return true }"},
				}
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error but got nil")
			}
			if !strings.HasPrefix(err.Error(), tt.wantErr) {
				t.Errorf("expected error starting with %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestAgentRuleMatches(t *testing.T) {
	rule := AgentRule{Match: "https://a.com/docs/"}
	if !rule.Matches("https://a.com/docs/intro") {
		t.Error("expected prefix match")
	}
	if rule.Matches("https://a.com/blog/") {
		t.Error("expected no match outside prefix")
	}
	if !(AgentRule{}).Matches("https://anything/") {
		t.Error("expected empty match to apply to every target")
	}
}

func TestDurations(t *testing.T) {
	tests := []struct {
		name     string
		got      func() time.Duration
		expected time.Duration
	}{
		{"navigation default", BrowserConfig{}.NavigationTimeout, 15 * time.Second},
		{"navigation custom", BrowserConfig{DefaultNavigationTimeout: "30s"}.NavigationTimeout, 30 * time.Second},
		{"navigation invalid", BrowserConfig{DefaultNavigationTimeout: "soon"}.NavigationTimeout, 15 * time.Second},
		{"fetch default", LoaderConfig{}.FetchTimeout, 20 * time.Second},
		{"fetch negative", LoaderConfig{Timeout: "-1s"}.FetchTimeout, 20 * time.Second},
		{"grace default", LoaderConfig{}.GracePeriod, 0},
		{"grace custom", LoaderConfig{CacheGrace: "250ms"}.GracePeriod, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestIsHeadless(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name     string
		headless *bool
		expected bool
	}{
		{"nil defaults to true", nil, true},
		{"explicit true", &yes, true},
		{"explicit false", &no, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := BrowserConfig{Headless: tt.headless}
			if got := b.IsHeadless(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
