package rlog

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsoleOnlyLogsAboveLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, slog.LevelInfo, false)
	require.NoError(t, err)

	logger.Debug("should not appear")
	logger.Info("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestAppendLogFormatsRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "yashd.log")

	require.NoError(t, AppendLog(path, "127.0.0.1", 54321, "pwd"))
	require.NoError(t, AppendLog(path, "127.0.0.1", 54321, "ls"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "yashd[127.0.0.1:54321]: pwd")
	assert.Contains(t, string(data), "yashd[127.0.0.1:54321]: ls")
}
