package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/cubezero/executor/mcts"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 900, cfg.Search.MaxDepth)
	assert.Equal(t, 1600, cfg.SelfPlay.MaxSteps)
	assert.Equal(t, 0.95, cfg.Search.Gamma)
	assert.Equal(t, 12, cfg.MCTS().Actions)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
search:
  cpuct: 2.5
  prune_on_advance: true
selfplay:
  max_steps: 200
inference:
  batch_timeout: 5ms
  model_path: ""
workers: 4
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.Search.Cpuct)
	assert.True(t, cfg.Search.PruneOnAdvance)
	assert.Equal(t, 200, cfg.SelfPlay.MaxSteps)
	assert.Equal(t, 5*time.Millisecond, cfg.Inference.BatchTimeout)
	assert.Empty(t, cfg.Inference.ModelPath)
	assert.Equal(t, 4, cfg.Workers)
	// untouched fields keep their defaults
	assert.Equal(t, 0.95, cfg.Search.Gamma)
}

func TestLoadJSONFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"selfplay": {"inv_temp": 3}, "max_games": 7}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.SelfPlay.InvTemp)
	assert.Equal(t, int64(7), cfg.MaxGames)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search: [1, 2\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"CUBEZERO_GAMMA":         "0.9",
		"CUBEZERO_BATCH_TIMEOUT": "2ms",
		"CUBEZERO_SYMMETRY":      "false",
		"CUBEZERO_OUT_DIR":       "/tmp/x",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, loadConfigFromEnv(&cfg, lookup))
	assert.Equal(t, 0.9, cfg.Search.Gamma)
	assert.Equal(t, 2*time.Millisecond, cfg.Inference.BatchTimeout)
	assert.False(t, cfg.Inference.Symmetry)
	assert.Equal(t, "/tmp/x", cfg.Output.OutDir)

	env["CUBEZERO_WORKERS"] = "many"
	err := loadConfigFromEnv(&cfg, lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUBEZERO_WORKERS")
}

func TestParseFlagsOverrideFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 4\nselfplay:\n  max_steps: 200\n"), 0o644))
	t.Setenv("CUBEZERO_CPUCT", "3")

	cfg, err := Parse("executor", []string{"-config", path, "-workers", "2", "-tui"})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers, "flag beats file")
	assert.Equal(t, 200, cfg.SelfPlay.MaxSteps, "file kept when flag unset")
	assert.Equal(t, 3.0, cfg.Search.Cpuct, "env kept when flag unset")
	assert.True(t, cfg.TUI)
}

func TestParseUnknownFlag(t *testing.T) {
	_, err := Parse("executor", []string{"-bogus"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"workers":      func(c *Config) { c.Workers = 0 },
		"inv temp":     func(c *Config) { c.SelfPlay.InvTemp = 0 },
		"win rates":    func(c *Config) { c.SelfPlay.WinRateLower = 0.8 },
		"distance":     func(c *Config) { c.SelfPlay.StartingDistance = 0 },
		"sessions":     func(c *Config) { c.Inference.Sessions = 0 },
		"gamma":        func(c *Config) { c.Search.Gamma = 1.5 },
		"out dir":      func(c *Config) { c.Output.OutDir = "" },
		"flush":        func(c *Config) { c.Output.GamesPerFlush = 0 },
		"max games":    func(c *Config) { c.MaxGames = -1 },
		"cache size":   func(c *Config) { c.Inference.CacheMaxCost = -1 },
		"adjust every": func(c *Config) { c.SelfPlay.AdjustEvery = 0 },
		"one step":     func(c *Config) { c.SelfPlay.MaxSteps = 1 },
		"zero depth":   func(c *Config) { c.Search.MaxDepth = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	cfg := Default()
	cfg.Search.Gamma = 0
	assert.ErrorIs(t, cfg.Validate(), mcts.ErrInvalidConfig)

	cfg = Default()
	cfg.Output.OutDir = ""
	cfg.SelfPlay.Evaluation = true
	assert.NoError(t, cfg.Validate())
}
