package ipclog

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/iceoryx2-go/iceoryx2/pkg/config"
)

func TestNewTagsEntryWithPidAndRoot(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()

	entry := New(cfg)

	assert.Contains(t, entry.Data, "pid")
	assert.Equal(t, cfg.Root, entry.Data["root"])
}

func TestNewUsesJSONFormatterRegardlessOfDebugMode(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()

	prod := New(cfg)
	_, ok := prod.Logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)

	cfg.Debug = true
	dev := New(cfg)
	_, ok = dev.Logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestProductionLoggerDiscardsBelowErrorLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.Debug = false

	entry := New(cfg)
	assert.Equal(t, logrus.ErrorLevel, entry.Logger.Level)
}
