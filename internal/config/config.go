// Package config loads the service configuration from YAML and environment
// overrides through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/halcyonex/dexbook/internal/orderbook"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	Engine  EngineConfig  `mapstructure:"engine"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	// Path is the BadgerDB directory; empty selects the in-memory store.
	Path string `mapstructure:"path"`
}

// EngineConfig carries every limit of the order book engine. Decimal-valued
// fields are strings so YAML carries them without float rounding.
type EngineConfig struct {
	// Authority is the account allowed to run privileged operations
	// (delete/update books, change status).
	Authority string `mapstructure:"authority"`

	MaxSidePriceCount         int           `mapstructure:"max_side_price_count"`
	MaxLimitOrdersForPrice    int           `mapstructure:"max_limit_orders_for_price"`
	MaxOpenOrdersPerUser      int           `mapstructure:"max_open_orders_per_user"`
	MaxExpiringOrdersPerBlock int           `mapstructure:"max_expiring_orders_per_block"`
	MinOrderLifespan          time.Duration `mapstructure:"min_order_lifespan"`
	MaxOrderLifespan          time.Duration `mapstructure:"max_order_lifespan"`
	MillisecsPerBlock         int64         `mapstructure:"millisecs_per_block"`
	MaxPriceShift             string        `mapstructure:"max_price_shift"`

	// Expiration weight budget per block and the cost of its work units.
	MaxExpirationWeightPerBlock uint64 `mapstructure:"max_expiration_weight_per_block"`
	WeightPerBlockOverhead      uint64 `mapstructure:"weight_per_block_overhead"`
	WeightPerExpiration         uint64 `mapstructure:"weight_per_expiration"`

	// Defaults applied when a book is created without explicit sizing.
	DefaultTickSize    string `mapstructure:"default_tick_size"`
	DefaultStepLotSize string `mapstructure:"default_step_lot_size"`
	DefaultMinLotSize  string `mapstructure:"default_min_lot_size"`
	DefaultMaxLotSize  string `mapstructure:"default_max_lot_size"`

	DepthLimit int `mapstructure:"depth_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("storage.path", "data/dexbook")

	v.SetDefault("engine.max_side_price_count", 1024)
	v.SetDefault("engine.max_limit_orders_for_price", 1024)
	v.SetDefault("engine.max_open_orders_per_user", 1024)
	v.SetDefault("engine.max_expiring_orders_per_block", 1000)
	v.SetDefault("engine.min_order_lifespan", time.Minute)
	v.SetDefault("engine.max_order_lifespan", 30*24*time.Hour)
	v.SetDefault("engine.millisecs_per_block", int64(6000))
	v.SetDefault("engine.max_price_shift", "0.5")
	v.SetDefault("engine.max_expiration_weight_per_block", uint64(100_000))
	v.SetDefault("engine.weight_per_block_overhead", uint64(1_000))
	v.SetDefault("engine.weight_per_expiration", uint64(5_000))
	v.SetDefault("engine.default_tick_size", "0.00001")
	v.SetDefault("engine.default_step_lot_size", "0.00001")
	v.SetDefault("engine.default_min_lot_size", "0.00001")
	v.SetDefault("engine.default_max_lot_size", "100000")
	v.SetDefault("engine.depth_limit", 100)
}

// Load reads the configuration file at path (optional) with DEXBOOK_*
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DEXBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err) // defaults always parse
	}
	return cfg
}

// Params converts the engine limits into the value the orderbook package
// consumes.
func (e EngineConfig) Params() (orderbook.Params, error) {
	shift, err := decimal.NewFromString(e.MaxPriceShift)
	if err != nil {
		return orderbook.Params{}, fmt.Errorf("max_price_shift %q: %w", e.MaxPriceShift, err)
	}
	if e.MillisecsPerBlock <= 0 {
		return orderbook.Params{}, fmt.Errorf("millisecs_per_block must be positive, got %d", e.MillisecsPerBlock)
	}
	return orderbook.Params{
		MaxSidePriceCount:         e.MaxSidePriceCount,
		MaxLimitOrdersForPrice:    e.MaxLimitOrdersForPrice,
		MaxOpenOrdersPerUser:      e.MaxOpenOrdersPerUser,
		MaxExpiringOrdersPerBlock: e.MaxExpiringOrdersPerBlock,
		MinOrderLifespan:          e.MinOrderLifespan,
		MaxOrderLifespan:          e.MaxOrderLifespan,
		MillisecsPerBlock:         e.MillisecsPerBlock,
		MaxPriceShift:             shift,
	}, nil
}

// Weights returns the expiration scheduler's work-unit costs. A zero
// per-expiration cost would let the scheduler divide by it, so it must be
// positive.
func (e EngineConfig) Weights() (orderbook.ExpirationWeights, error) {
	if e.WeightPerExpiration == 0 {
		return orderbook.ExpirationWeights{}, fmt.Errorf("weight_per_expiration must be positive")
	}
	return orderbook.ExpirationWeights{
		PerBlock:      e.WeightPerBlockOverhead,
		PerExpiration: e.WeightPerExpiration,
	}, nil
}

// decimalField parses one of the default sizing strings.
func decimalField(name, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s %q: %w", name, raw, err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return d, nil
}

// DefaultSizing parses the default tick and lot sizes for new books.
func (e EngineConfig) DefaultSizing() (tick, step, minLot, maxLot decimal.Decimal, err error) {
	if tick, err = decimalField("default_tick_size", e.DefaultTickSize); err != nil {
		return
	}
	if step, err = decimalField("default_step_lot_size", e.DefaultStepLotSize); err != nil {
		return
	}
	if minLot, err = decimalField("default_min_lot_size", e.DefaultMinLotSize); err != nil {
		return
	}
	maxLot, err = decimalField("default_max_lot_size", e.DefaultMaxLotSize)
	return
}
