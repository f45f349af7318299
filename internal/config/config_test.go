package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/simbridge/internal/bridge"
)

func TestDefault_MatchesBridgeDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bc, err := cfg.Bridge.ToBridge()
	require.NoError(t, err)
	assert.Equal(t, bridge.DefaultConfig(), bc)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Harness.Parallel)
	assert.Empty(t, cfg.Store.Path)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simbridge.yaml")
	content := `
bridge:
  halt_timeout: 750ms
  fence: data
store:
  path: /tmp/runs.db
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Bridge.HaltTimeout)
	assert.Equal(t, bridge.DefaultStartProbe, cfg.Bridge.StartProbe)
	assert.Equal(t, "/tmp/runs.db", cfg.Store.Path)
	assert.Equal(t, "json", cfg.Log.Format)

	bc, err := cfg.Bridge.ToBridge()
	require.NoError(t, err)
	assert.Equal(t, bridge.FenceData, bc.Fence)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("SIMBRIDGE_BRIDGE_EXIT_TIMEOUT", "9s")
	t.Setenv("SIMBRIDGE_HARNESS_PARALLEL", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, cfg.Bridge.ExitTimeout)
	assert.Equal(t, 2, cfg.Harness.Parallel)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero duration", func(c *Config) { c.Bridge.PollSlice = 0 }, "bridge.poll_slice"},
		{"bad fence", func(c *Config) { c.Bridge.Fence = "some" }, "bridge.fence"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"no parallelism", func(c *Config) { c.Harness.Parallel = 0 }, "harness.parallel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("trace")
	assert.Error(t, err)
}
