package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/market-relister/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relister.log")
	closer := Init(config.LoggingConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	})

	assert.Equal(t, log.DebugLevel, log.GetLevel())
	log.WithField("cycle_id", "abc").Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cycle_id":"abc"`)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestInitBadLevelFallsBackToInfo(t *testing.T) {
	closer := Init(config.LoggingConfig{Level: "loud", Format: "text"})
	assert.NoError(t, closer.Close())
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}
