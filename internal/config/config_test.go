package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 100, cfg.Engine.DepthLimit)

	params, err := cfg.Engine.Params()
	require.NoError(t, err)
	assert.Equal(t, 1024, params.MaxSidePriceCount)
	assert.Equal(t, time.Minute, params.MinOrderLifespan)
	assert.True(t, params.MaxPriceShift.String() == "0.5")

	tick, step, minLot, maxLot, err := cfg.Engine.DefaultSizing()
	require.NoError(t, err)
	assert.False(t, tick.IsZero())
	assert.False(t, step.IsZero())
	assert.True(t, minLot.LessThanOrEqual(maxLot))

	w, err := cfg.Engine.Weights()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), w.PerBlock)
	assert.Equal(t, uint64(5000), w.PerExpiration)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
log:
  level: debug
http:
  addr: ":9999"
engine:
  max_open_orders_per_user: 7
  max_price_shift: "0.25"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 7, cfg.Engine.MaxOpenOrdersPerUser)

	params, err := cfg.Engine.Params()
	require.NoError(t, err)
	assert.Equal(t, "0.25", params.MaxPriceShift.String())
	// untouched keys keep their defaults
	assert.Equal(t, 1024, params.MaxSidePriceCount)
}

func TestBadDecimalRejected(t *testing.T) {
	cfg := Default()
	cfg.Engine.MaxPriceShift = "half"
	_, err := cfg.Engine.Params()
	assert.Error(t, err)

	cfg = Default()
	cfg.Engine.DefaultTickSize = "one"
	_, _, _, _, err = cfg.Engine.DefaultSizing()
	assert.Error(t, err)
}

func TestZeroDivisorsRejected(t *testing.T) {
	cfg := Default()
	cfg.Engine.MillisecsPerBlock = 0
	_, err := cfg.Engine.Params()
	assert.Error(t, err)

	cfg = Default()
	cfg.Engine.WeightPerExpiration = 0
	_, err = cfg.Engine.Weights()
	assert.Error(t, err)
}
