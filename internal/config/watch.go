package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path     string
	reload   func() (Config, error)
	onChange func(Config)
	logger   *zap.Logger
	watcher  *fsnotify.Watcher

	// Debounce batches rapid saves.
	Debounce time.Duration
}

// NewWatcher watches path. On change, reload produces the new config and
// onChange receives it. A config failing to load is logged and skipped.
func NewWatcher(path string, reload func() (Config, error), onChange func(Config), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files by renaming, so the directory is watched.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		reload:   reload,
		onChange: onChange,
		logger:   logger,
		watcher:  fw,
		Debounce: 200 * time.Millisecond,
	}, nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Config file changed", zap.String("path", w.path), zap.String("op", event.Op.String()))
			timer.Reset(w.Debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Config watcher error", zap.Error(err))

		case <-timer.C:
			cfg, err := w.reload()
			if err != nil {
				w.logger.Warn("Config reload failed, keeping previous config", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.logger.Info("Config reloaded", zap.String("path", w.path), zap.Int("agents", len(cfg.Navigation.Agents)))
			w.onChange(cfg)
		}
	}
}
