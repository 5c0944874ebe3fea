package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("INFO"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("verbose"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "WARN", Output: &buf})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	l.SetLevel("DEBUG")
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
	require.NoError(t, l.Close())
}

func TestDebugOverridesLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "ERROR", Debug: true, Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, l.Level.Level())
}

func TestDiskLogs(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l, err := New(Options{Level: "INFO", DiskLogs: true, Dir: dir, PID: 4242, Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, dir+"/sinkguard-4242.log", l.Path)

	Module(l.Logger, "bridge").Info("bound")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mod":"bridge"`)
	assert.Contains(t, string(data), "bound")
}
