package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dkeye/wsbridge/internal/config"
)

func TestSetup_WritesToFile(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	file := filepath.Join(t.TempDir(), "wsbridge.log")
	closer := Setup(config.LogConfig{Level: "debug", Format: "json", File: config.LogFileConfig{Filename: file, MaxSizeMB: 1}})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	log.Debug().Str("module", "test").Msg("hello file")
	require.NoError(t, closer.Close())
	_, isFile := closer.(*lumberjack.Logger)
	assert.True(t, isFile)

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"module":"test"`)
	assert.Contains(t, string(b), "hello file")
}

func TestSetup_BadLevelFallsBackToInfo(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	closer := Setup(config.LogConfig{Level: "loud"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	assert.NoError(t, closer.Close())
}
