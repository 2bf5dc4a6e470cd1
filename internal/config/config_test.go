package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/market-relister/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 443, cfg.Market.Port)
	assert.Equal(t, 10.0, cfg.Trade.MarginPercent)
	assert.Equal(t, "search", cfg.Trade.HistorySource)
	assert.Equal(t, 10, cfg.Trade.Thresholds.MinSamples)
	assert.Equal(t, 1990.0, cfg.Trade.Thresholds.PriceCeiling)
	assert.Equal(t, 500, cfg.Scan.CacheCapacity)
	assert.Equal(t, 5*time.Second, cfg.Scan.UnitTimeout())
	assert.Equal(t, 50*time.Second, cfg.Scan.CycleDelay())
	assert.Equal(t, "PROXY", cfg.Proxy.SeedURIEnv)
	assert.Equal(t, "file", cfg.Storage.Type)
	assert.True(t, cfg.Scan.ReconcileSold)
}

func TestMarketClientConfigMatchesDefaults(t *testing.T) {
	assert.Equal(t, market.DefaultConfig(), Default().Market.Client())
}

func TestLoadJSONMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{
		"market": {"hostname": "en.example.org"},
		"trade": {"margin_percent": 15, "thresholds": {"min_samples": 4, "accept_undefined_rsi": true}},
		"scan": {"reconcile_sold": false},
		"storage": {"type": "sqlite", "path": "/tmp/x.db"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "en.example.org", cfg.Market.Hostname)
	assert.Equal(t, 15.0, cfg.Trade.MarginPercent)
	assert.Equal(t, 4, cfg.Trade.Thresholds.MinSamples)
	assert.True(t, cfg.Trade.Thresholds.AcceptUndefinedRSI)
	assert.Equal(t, 50.0, cfg.Trade.Thresholds.RSILow)
	assert.Equal(t, 5, cfg.Trade.Thresholds.MAWindow)
	assert.False(t, cfg.Scan.ReconcileSold)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Same(t, cfg, GetGlobal())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "trade:\n  history_source: index\n  thresholds:\n    rsi_low: 40\nproxy:\n  enabled: true\n  probe_concurrency: 32\nlogging:\n  format: json\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "index", cfg.Trade.HistorySource)
	assert.Equal(t, 40.0, cfg.Trade.Thresholds.RSILow)
	assert.Equal(t, 100.0, cfg.Trade.Thresholds.RSIHigh)
	assert.True(t, cfg.Proxy.Enabled)
	assert.Equal(t, 32, cfg.Proxy.ProbeConcurrency)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"trade": {"margin_percent": 12}}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 12.0, cfg.Trade.MarginPercent)

	require.NoError(t, os.WriteFile(path, []byte(`{"trade": {"margin_percent": 20}}`), 0644))
	require.NoError(t, cfg.Reload())
	assert.Equal(t, 20.0, cfg.Trade.MarginPercent)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"history source", `{"trade": {"history_source": "cache"}}`},
		{"rsi band inverted", `{"trade": {"thresholds": {"rsi_low": 80, "rsi_high": 60}}}`},
		{"price band inverted", `{"trade": {"thresholds": {"price_floor": 2000}}}`},
		{"rsi window", `{"trade": {"thresholds": {"rsi_window": 1}}}`},
		{"storage type", `{"storage": {"type": "mongo"}}`},
		{"unit timeout", `{"scan": {"unit_timeout_ms": 5}}`},
		{"negative margin", `{"trade": {"margin_percent": -1}}`},
		{"log format", `{"logging": {"format": "xml"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), ".json")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
