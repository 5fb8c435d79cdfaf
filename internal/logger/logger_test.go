package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcounter/internal/config"
)

func TestLogger_WritesLevelFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l := NewLogger(&config.Config{LogDir: dir})
	t.Cleanup(func() { _ = l.Close() })

	l.Info("flushed %d for %s", 3, "cam1")
	l.Warning("stalled %s", "cam1")
	l.Error("append failed: %v", os.ErrClosed)

	info, err := os.ReadFile(filepath.Join(dir, InfoFile))
	require.NoError(t, err)
	assert.Contains(t, string(info), "flushed 3 for cam1")

	warning, err := os.ReadFile(filepath.Join(dir, WarningFile))
	require.NoError(t, err)
	assert.Contains(t, string(warning), "stalled cam1")
	assert.NotContains(t, string(warning), "flushed")

	errLog, err := os.ReadFile(filepath.Join(dir, ErrorFile))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "append failed")
}

func TestLogger_CleanLogs(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(&config.Config{LogDir: dir})
	t.Cleanup(func() { _ = l.Close() })

	l.Info("something worth forgetting")
	require.NoError(t, l.CleanLogs(InfoFile))

	info, err := os.ReadFile(filepath.Join(dir, InfoFile))
	require.NoError(t, err)
	assert.Empty(t, info)

	l.Info("after clean")
	info, err = os.ReadFile(filepath.Join(dir, InfoFile))
	require.NoError(t, err)
	assert.Contains(t, string(info), "after clean")
}

func TestLogger_Discard(t *testing.T) {
	l := NewDiscard()

	l.Info("ignored")
	l.Warning("ignored")
	l.Error("ignored")

	assert.Empty(t, l.Dir())
	assert.NoError(t, l.CleanLogs(InfoFile))
	assert.NoError(t, l.Close())
}
