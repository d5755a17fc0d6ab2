package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"navnerd-mcp-server/internal/config"
)

func TestNewWritesToLogFileInStdioMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "navnerd.log")
	logger, err := New(config.ServerConfig{Name: "test", LogFile: path, LogLevel: "debug"}, Options{Stdio: true})
	require.NoError(t, err)

	logger.Debug("page entered", zap.String("url", "https://a.com/"))
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(raw)
	assert.True(t, strings.Contains(line, `"msg":"page entered"`), line)
	assert.True(t, strings.Contains(line, `"server":"test"`), line)
}

func TestNewLevels(t *testing.T) {
	logger, err := New(config.ServerConfig{Name: "test", LogLevel: "warn"}, Options{})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = New(config.ServerConfig{Name: "test", LogLevel: "warn"}, Options{Verbose: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New(config.ServerConfig{Name: "test"}, Options{})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = New(config.ServerConfig{Name: "test", LogLevel: "loud"}, Options{})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
