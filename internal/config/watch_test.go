package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("navigation:\n  agents: []\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	changes := make(chan Config, 64)
	w, err := NewWatcher(path, func() (Config, error) { return Load(path) }, func(cfg Config) {
		select {
		case changes <- cfg:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run returned %v", err)
		}
	}()

	// An invalid config is skipped.
	if err := os.WriteFile(path, []byte("loader:\n  backend: curl\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	updated := "navigation:\n  agents:\n    - match: \"https://a.com/\"\n      block: true\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	// Partial writes may be seen first; wait for the final content.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if len(cfg.Navigation.Agents) == 1 && cfg.Navigation.Agents[0].Block {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	reloads := make(chan struct{}, 1)
	w, err := NewWatcher(path, func() (Config, error) {
		reloads <- struct{}{}
		return DefaultConfig(), nil
	}, func(Config) {}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(tmpDir, "other.yaml"), []byte("x: 1\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	select {
	case <-reloads:
		t.Error("unexpected reload for unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}
