package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Component("blocks").Info("Block finished", zap.String("block_id", "blk_1"))
	logger.Debug("hidden")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logger":"blocks"`)
	assert.Contains(t, string(data), `"block_id":"blk_1"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNilAndNopLoggers(t *testing.T) {
	var nilLogger *Logger
	assert.NotNil(t, nilLogger.Component("x"))
	assert.NoError(t, nilLogger.Sync())

	nop := NewNop()
	nop.Component("pipeline").Info("dropped")
	assert.NoError(t, nop.Sync())
}

func TestPresetLoggers(t *testing.T) {
	assert.True(t, NewDefault().Core().Enabled(zap.InfoLevel))
	assert.False(t, NewDefault().Core().Enabled(zap.DebugLevel))
	assert.True(t, NewDevelopment().Core().Enabled(zap.DebugLevel))
}
