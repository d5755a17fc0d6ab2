// Package logging builds the zap logger of the server.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"navnerd-mcp-server/internal/config"
)

// Options selects where log output goes.
type Options struct {
	// Stdio is set when stdout carries the MCP protocol. Logs then go to
	// the configured log file, or stderr without one.
	Stdio bool
	// Verbose forces debug level.
	Verbose bool
}

// New builds a logger for the server config.
func New(cfg config.ServerConfig, opts Options) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(levelName(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("server.log_level: %w", err)
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	out := "stderr"
	if opts.Stdio && cfg.LogFile != "" {
		if dir := filepath.Dir(cfg.LogFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating log directory: %w", err)
			}
		}
		out = cfg.LogFile
	}
	zc.OutputPaths = []string{out}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.With(zap.String("server", cfg.Name)), nil
}

func levelName(s string) string {
	if s == "" {
		return "info"
	}
	return s
}

// OrNop returns logger, or a no-op logger for nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
