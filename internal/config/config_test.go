package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigYAML(t *testing.T) {
	data := []byte(`
instrument_x: "BTCUSDT"
instrument_y: "ETHUSDT"
intervals: ["1s", "1m"]
analytics_interval: "1m"
window_size: 50
alert_threshold: 2.5
alert_policy: "level"
db_conn_str: "postgres://localhost/pairscope"
metrics_addr: ":9105"
log_level: "debug"
export_bars_path: "bars.csv"
`)

	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))

	assert.Equal(t, "BTCUSDT", cfg.InstrumentX)
	assert.Equal(t, "ETHUSDT", cfg.InstrumentY)
	assert.Equal(t, []string{"1s", "1m"}, cfg.Intervals)
	assert.Equal(t, "1m", cfg.AnalyticsInterval)
	assert.Equal(t, 50, cfg.WindowSize)
	assert.Equal(t, 2.5, cfg.AlertThreshold)
	assert.Equal(t, "level", cfg.AlertPolicy)
	assert.Equal(t, "postgres://localhost/pairscope", cfg.DBConnStr)
	assert.Equal(t, "bars.csv", cfg.ExportBarsPath)
}
