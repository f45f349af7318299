// Package config loads simbridge settings from defaults, an optional YAML
// file and SIMBRIDGE_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/simbridge/internal/bridge"
)

// EnvPrefix prefixes every environment override, e.g.
// SIMBRIDGE_BRIDGE_HALT_TIMEOUT=5s.
const EnvPrefix = "SIMBRIDGE"

// Config is the complete simbridge configuration.
type Config struct {
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
	Harness HarnessConfig `mapstructure:"harness"`
}

// BridgeConfig controls instance timings and the stale-marker policy.
type BridgeConfig struct {
	PollSlice   time.Duration `mapstructure:"poll_slice"`
	StartProbe  time.Duration `mapstructure:"start_probe"`
	HaltTimeout time.Duration `mapstructure:"halt_timeout"`
	HaltReissue time.Duration `mapstructure:"halt_reissue"`
	ExitTimeout time.Duration `mapstructure:"exit_timeout"`
	// Fence is "all" (discard every stale marker) or "data" (only data and
	// init markers).
	Fence string `mapstructure:"fence"`
}

// StoreConfig controls the run archive.
type StoreConfig struct {
	// Path of the SQLite database. Empty disables archiving.
	Path string `mapstructure:"path"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level: debug, info, warn or error.
	Level string `mapstructure:"level"`
	// Format: text or json.
	Format string `mapstructure:"format"`
}

// HarnessConfig controls scenario execution.
type HarnessConfig struct {
	// Parallel is the number of scenarios run at once.
	Parallel int `mapstructure:"parallel"`
}

// Default returns the built-in configuration.
func Default() *Config {
	b := bridge.DefaultConfig()
	return &Config{
		Bridge: BridgeConfig{
			PollSlice:   b.PollSlice,
			StartProbe:  b.StartProbe,
			HaltTimeout: b.HaltTimeout,
			HaltReissue: b.HaltReissue,
			ExitTimeout: b.ExitTimeout,
			Fence:       b.Fence.String(),
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Harness: HarnessConfig{
			Parallel: 4,
		},
	}
}

// SetDefaults registers every default on v, so environment overrides
// apply to keys no file mentions.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("bridge.poll_slice", d.Bridge.PollSlice)
	v.SetDefault("bridge.start_probe", d.Bridge.StartProbe)
	v.SetDefault("bridge.halt_timeout", d.Bridge.HaltTimeout)
	v.SetDefault("bridge.halt_reissue", d.Bridge.HaltReissue)
	v.SetDefault("bridge.exit_timeout", d.Bridge.ExitTimeout)
	v.SetDefault("bridge.fence", d.Bridge.Fence)

	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("harness.parallel", d.Harness.Parallel)
}

// New returns a viper instance with defaults and environment binding, and
// with path as its config file if non-empty.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// Load reads the configuration from path (optional), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := New(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"bridge.poll_slice", c.Bridge.PollSlice},
		{"bridge.start_probe", c.Bridge.StartProbe},
		{"bridge.halt_timeout", c.Bridge.HaltTimeout},
		{"bridge.halt_reissue", c.Bridge.HaltReissue},
		{"bridge.exit_timeout", c.Bridge.ExitTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.d)
		}
	}
	if _, err := bridge.ParseFencePolicy(c.Bridge.Fence); err != nil {
		return fmt.Errorf("bridge.fence: %w", err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q (want text or json)", c.Log.Format)
	}
	if c.Harness.Parallel < 1 {
		return fmt.Errorf("harness.parallel must be at least 1, got %d", c.Harness.Parallel)
	}
	return nil
}

// ToBridge converts the bridge section into instance options.
func (c BridgeConfig) ToBridge() (bridge.Config, error) {
	fence, err := bridge.ParseFencePolicy(c.Fence)
	if err != nil {
		return bridge.Config{}, err
	}
	return bridge.Config{
		PollSlice:   c.PollSlice,
		StartProbe:  c.StartProbe,
		HaltTimeout: c.HaltTimeout,
		HaltReissue: c.HaltReissue,
		ExitTimeout: c.ExitTimeout,
		Fence:       fence,
	}, nil
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}
