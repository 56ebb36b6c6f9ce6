// Package config loads executor settings. Values are layered: built-in
// defaults, then a YAML or JSON file, then CUBEZERO_* environment variables,
// then command-line flags that were set explicitly.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brensch/cubezero/cube"
	"github.com/brensch/cubezero/executor/mcts"
)

const envPrefix = "CUBEZERO_"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Search    SearchConfig    `yaml:"search" json:"search"`
	SelfPlay  SelfPlayConfig  `yaml:"selfplay" json:"selfplay"`
	Inference InferenceConfig `yaml:"inference" json:"inference"`
	Output    OutputConfig    `yaml:"output" json:"output"`

	Workers     int       `yaml:"workers" json:"workers"`
	MaxGames    int64     `yaml:"max_games" json:"max_games"`
	MetricsAddr string    `yaml:"metrics_addr" json:"metrics_addr"`
	TUI         bool      `yaml:"tui" json:"tui"`
	Log         LogConfig `yaml:"log" json:"log"`
}

type SearchConfig struct {
	MaxDepth       int     `yaml:"max_depth" json:"max_depth"`
	Cpuct          float64 `yaml:"cpuct" json:"cpuct"`
	Gamma          float64 `yaml:"gamma" json:"gamma"`
	NoiseWeight    float64 `yaml:"noise_weight" json:"noise_weight"`
	DirichletAlpha float64 `yaml:"dirichlet_alpha" json:"dirichlet_alpha"`
	PruneOnAdvance bool    `yaml:"prune_on_advance" json:"prune_on_advance"`
}

type SelfPlayConfig struct {
	MaxSteps         int     `yaml:"max_steps" json:"max_steps"`
	MaxGameLength    int     `yaml:"max_game_length" json:"max_game_length"`
	InvTemp          float64 `yaml:"inv_temp" json:"inv_temp"`
	StartingDistance int     `yaml:"starting_distance" json:"starting_distance"`
	MinDistance      int     `yaml:"min_distance" json:"min_distance"`
	WinRateMemory    int     `yaml:"win_rate_memory" json:"win_rate_memory"`
	WinRateUpper     float64 `yaml:"win_rate_upper" json:"win_rate_upper"`
	WinRateLower     float64 `yaml:"win_rate_lower" json:"win_rate_lower"`
	AdjustEvery      int     `yaml:"adjust_every" json:"adjust_every"`
	// Evaluation games only feed the curriculum and win counters.
	Evaluation bool `yaml:"evaluation" json:"evaluation"`
}

type InferenceConfig struct {
	ModelPath    string        `yaml:"model_path" json:"model_path"`
	Sessions     int           `yaml:"sessions" json:"sessions"`
	BatchSize    int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	CacheMaxCost int64         `yaml:"cache_max_cost" json:"cache_max_cost"`
	Symmetry     bool          `yaml:"symmetry" json:"symmetry"`
	UniformValue float64       `yaml:"uniform_value" json:"uniform_value"`
	PolicyLogits bool          `yaml:"policy_logits" json:"policy_logits"`
	UseCUDA      bool          `yaml:"use_cuda" json:"use_cuda"`
}

type OutputConfig struct {
	OutDir        string `yaml:"out_dir" json:"out_dir"`
	GamesPerFlush int    `yaml:"games_per_flush" json:"games_per_flush"`
}

type LogConfig struct {
	Format string `yaml:"format" json:"format"`
	Level  string `yaml:"level" json:"level"`
}

func Default() Config {
	s := mcts.DefaultConfig()
	return Config{
		Search: SearchConfig{
			MaxDepth:       s.MaxDepth,
			Cpuct:          s.Cpuct,
			Gamma:          s.Gamma,
			NoiseWeight:    s.NoiseWeight,
			DirichletAlpha: s.DirichletAlpha,
		},
		SelfPlay: SelfPlayConfig{
			MaxSteps:         1600,
			MaxGameLength:    100,
			InvTemp:          10,
			StartingDistance: 1,
			MinDistance:      1,
			WinRateMemory:    100,
			WinRateUpper:     0.55,
			WinRateLower:     0.45,
			AdjustEvery:      10,
		},
		Inference: InferenceConfig{
			ModelPath:    "models/cube_net.onnx",
			Sessions:     1,
			BatchSize:    256,
			BatchTimeout: time.Millisecond,
			CacheMaxCost: 1 << 20,
			Symmetry:     true,
			UniformValue: 0.01,
		},
		Output: OutputConfig{
			OutDir:        "data/generated",
			GamesPerFlush: 50,
		},
		Workers: 32,
		Log:     LogConfig{Format: "text", Level: "info"},
	}
}

// Load layers path (optional) and the environment on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadConfigFromEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("load config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse is Load plus command-line flags. The file is named by -config.
// Only flags present in args override file and environment values.
func Parse(name string, args []string) (Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "", "YAML or JSON config file")
	scratch := Default()
	BindFlags(fs, &scratch)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *path != "" {
		if err := loadConfigFile(*path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadConfigFromEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("load config env: %w", err)
	}

	apply := flag.NewFlagSet(name, flag.ContinueOnError)
	BindFlags(apply, &cfg)
	var setErr error
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" || setErr != nil {
			return
		}
		setErr = apply.Set(f.Name, f.Value.String())
	})
	if setErr != nil {
		return cfg, setErr
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// BindFlags registers one flag per setting, defaulting to the current values
// in cfg.
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Search.MaxDepth, "max-depth", cfg.Search.MaxDepth, "Max actions per simulation")
	fs.Float64Var(&cfg.Search.Cpuct, "cpuct", cfg.Search.Cpuct, "PUCT exploration constant")
	fs.Float64Var(&cfg.Search.Gamma, "gamma", cfg.Search.Gamma, "Per-move value discount")
	fs.Float64Var(&cfg.Search.NoiseWeight, "noise-weight", cfg.Search.NoiseWeight, "Root Dirichlet noise weight")
	fs.Float64Var(&cfg.Search.DirichletAlpha, "dirichlet-alpha", cfg.Search.DirichletAlpha, "Root Dirichlet concentration")
	fs.BoolVar(&cfg.Search.PruneOnAdvance, "prune", cfg.Search.PruneOnAdvance, "Compact the table after every move")

	fs.IntVar(&cfg.SelfPlay.MaxSteps, "sims", cfg.SelfPlay.MaxSteps, "Simulations per move")
	fs.IntVar(&cfg.SelfPlay.MaxGameLength, "max-game-length", cfg.SelfPlay.MaxGameLength, "Moves before a game counts as lost")
	fs.Float64Var(&cfg.SelfPlay.InvTemp, "inv-temp", cfg.SelfPlay.InvTemp, "Inverse temperature of the visit distribution")
	fs.IntVar(&cfg.SelfPlay.StartingDistance, "starting-distance", cfg.SelfPlay.StartingDistance, "Initial scramble distance")
	fs.IntVar(&cfg.SelfPlay.MinDistance, "min-distance", cfg.SelfPlay.MinDistance, "Smallest scramble distance")
	fs.IntVar(&cfg.SelfPlay.WinRateMemory, "win-rate-memory", cfg.SelfPlay.WinRateMemory, "Games in the win rate window")
	fs.Float64Var(&cfg.SelfPlay.WinRateUpper, "win-rate-upper", cfg.SelfPlay.WinRateUpper, "Win fraction that raises the distance")
	fs.Float64Var(&cfg.SelfPlay.WinRateLower, "win-rate-lower", cfg.SelfPlay.WinRateLower, "Win fraction that lowers the distance")
	fs.IntVar(&cfg.SelfPlay.AdjustEvery, "adjust-every", cfg.SelfPlay.AdjustEvery, "Games between distance adjustments")
	fs.BoolVar(&cfg.SelfPlay.Evaluation, "eval", cfg.SelfPlay.Evaluation, "Play evaluation games (no training rows)")

	fs.StringVar(&cfg.Inference.ModelPath, "model", cfg.Inference.ModelPath, "ONNX model path (empty or missing uses a uniform oracle)")
	fs.IntVar(&cfg.Inference.Sessions, "onnx-sessions", cfg.Inference.Sessions, "Number of ONNX Runtime sessions")
	fs.IntVar(&cfg.Inference.BatchSize, "onnx-batch-size", cfg.Inference.BatchSize, "ONNX inference batch size")
	fs.DurationVar(&cfg.Inference.BatchTimeout, "onnx-batch-timeout", cfg.Inference.BatchTimeout, "Max wait to fill an inference batch")
	fs.Int64Var(&cfg.Inference.CacheMaxCost, "cache-size", cfg.Inference.CacheMaxCost, "Oracle cache entries (0 disables)")
	fs.BoolVar(&cfg.Inference.Symmetry, "symmetry", cfg.Inference.Symmetry, "Evaluate under a random cube rotation")
	fs.Float64Var(&cfg.Inference.UniformValue, "uniform-value", cfg.Inference.UniformValue, "Value returned by the uniform oracle")
	fs.BoolVar(&cfg.Inference.PolicyLogits, "policy-logits", cfg.Inference.PolicyLogits, "Apply softmax to the model policy output")
	fs.BoolVar(&cfg.Inference.UseCUDA, "cuda", cfg.Inference.UseCUDA, "Try the CUDA execution provider")

	fs.StringVar(&cfg.Output.OutDir, "out-dir", cfg.Output.OutDir, "Output directory for parquet files")
	fs.IntVar(&cfg.Output.GamesPerFlush, "games-per-flush", cfg.Output.GamesPerFlush, "Games per parquet file")

	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of self-play workers")
	fs.Int64Var(&cfg.MaxGames, "max-games", cfg.MaxGames, "Stop after N games (0 = run forever)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	fs.BoolVar(&cfg.TUI, "tui", cfg.TUI, "Show the terminal dashboard")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format: text, json or pretty")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn or error")
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

type lookupFunc func(string) (string, bool)

type envLoader struct {
	lookup lookupFunc
	err    error
}

func (e *envLoader) int(name string, dst *int) {
	if v, ok := e.lookup(envPrefix + name); ok && v != "" && e.err == nil {
		i, err := strconv.Atoi(v)
		if err != nil {
			e.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
			return
		}
		*dst = i
	}
}

func (e *envLoader) int64(name string, dst *int64) {
	if v, ok := e.lookup(envPrefix + name); ok && v != "" && e.err == nil {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
			return
		}
		*dst = i
	}
}

func (e *envLoader) float(name string, dst *float64) {
	if v, ok := e.lookup(envPrefix + name); ok && v != "" && e.err == nil {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
			return
		}
		*dst = f
	}
}

func (e *envLoader) bool(name string, dst *bool) {
	if v, ok := e.lookup(envPrefix + name); ok && v != "" && e.err == nil {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
			return
		}
		*dst = b
	}
}

func (e *envLoader) duration(name string, dst *time.Duration) {
	if v, ok := e.lookup(envPrefix + name); ok && v != "" && e.err == nil {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
			return
		}
		*dst = d
	}
}

func (e *envLoader) string(name string, dst *string) {
	if v, ok := e.lookup(envPrefix + name); ok {
		*dst = v
	}
}

func loadConfigFromEnv(cfg *Config, lookup lookupFunc) error {
	e := &envLoader{lookup: lookup}

	// Search
	e.int("MAX_DEPTH", &cfg.Search.MaxDepth)
	e.float("CPUCT", &cfg.Search.Cpuct)
	e.float("GAMMA", &cfg.Search.Gamma)
	e.float("NOISE_WEIGHT", &cfg.Search.NoiseWeight)
	e.float("DIRICHLET_ALPHA", &cfg.Search.DirichletAlpha)
	e.bool("PRUNE_ON_ADVANCE", &cfg.Search.PruneOnAdvance)

	// Self-play
	e.int("MAX_STEPS", &cfg.SelfPlay.MaxSteps)
	e.int("MAX_GAME_LENGTH", &cfg.SelfPlay.MaxGameLength)
	e.float("INV_TEMP", &cfg.SelfPlay.InvTemp)
	e.int("STARTING_DISTANCE", &cfg.SelfPlay.StartingDistance)
	e.int("MIN_DISTANCE", &cfg.SelfPlay.MinDistance)
	e.int("WIN_RATE_MEMORY", &cfg.SelfPlay.WinRateMemory)
	e.float("WIN_RATE_UPPER", &cfg.SelfPlay.WinRateUpper)
	e.float("WIN_RATE_LOWER", &cfg.SelfPlay.WinRateLower)
	e.int("ADJUST_EVERY", &cfg.SelfPlay.AdjustEvery)
	e.bool("EVALUATION", &cfg.SelfPlay.Evaluation)

	// Inference
	e.string("MODEL_PATH", &cfg.Inference.ModelPath)
	e.int("SESSIONS", &cfg.Inference.Sessions)
	e.int("BATCH_SIZE", &cfg.Inference.BatchSize)
	e.duration("BATCH_TIMEOUT", &cfg.Inference.BatchTimeout)
	e.int64("CACHE_MAX_COST", &cfg.Inference.CacheMaxCost)
	e.bool("SYMMETRY", &cfg.Inference.Symmetry)
	e.float("UNIFORM_VALUE", &cfg.Inference.UniformValue)
	e.bool("POLICY_LOGITS", &cfg.Inference.PolicyLogits)
	e.bool("USE_CUDA", &cfg.Inference.UseCUDA)

	// Output
	e.string("OUT_DIR", &cfg.Output.OutDir)
	e.int("GAMES_PER_FLUSH", &cfg.Output.GamesPerFlush)

	e.int("WORKERS", &cfg.Workers)
	e.int64("MAX_GAMES", &cfg.MaxGames)
	e.string("METRICS_ADDR", &cfg.MetricsAddr)
	e.bool("TUI", &cfg.TUI)
	e.string("LOG_FORMAT", &cfg.Log.Format)
	e.string("LOG_LEVEL", &cfg.Log.Level)

	return e.err
}

// Validate reports the first impossible setting.
func (c Config) Validate() error {
	if err := c.MCTS().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	sp := c.SelfPlay
	switch {
	case c.Search.MaxDepth < 1:
		return fmt.Errorf("%w: search.max_depth must be >= 1 to visit any action", ErrInvalid)
	case sp.MaxSteps < 2:
		// The first simulation only expands the root.
		return fmt.Errorf("%w: max_steps must be >= 2", ErrInvalid)
	case sp.MaxGameLength < 1:
		return fmt.Errorf("%w: max_game_length must be >= 1", ErrInvalid)
	case !(sp.InvTemp > 0):
		return fmt.Errorf("%w: inv_temp must be > 0", ErrInvalid)
	case sp.MinDistance < 1:
		return fmt.Errorf("%w: min_distance must be >= 1", ErrInvalid)
	case sp.StartingDistance < sp.MinDistance:
		return fmt.Errorf("%w: starting_distance must be >= min_distance", ErrInvalid)
	case sp.WinRateMemory < 1:
		return fmt.Errorf("%w: win_rate_memory must be >= 1", ErrInvalid)
	case sp.WinRateLower < 0 || sp.WinRateUpper > 1 || sp.WinRateLower > sp.WinRateUpper:
		return fmt.Errorf("%w: need 0 <= win_rate_lower <= win_rate_upper <= 1", ErrInvalid)
	case sp.AdjustEvery < 1:
		return fmt.Errorf("%w: adjust_every must be >= 1", ErrInvalid)
	}
	in := c.Inference
	switch {
	case in.Sessions < 1:
		return fmt.Errorf("%w: sessions must be >= 1", ErrInvalid)
	case in.BatchSize < 1:
		return fmt.Errorf("%w: batch_size must be >= 1", ErrInvalid)
	case in.BatchTimeout < 0:
		return fmt.Errorf("%w: batch_timeout must be >= 0", ErrInvalid)
	case in.CacheMaxCost < 0:
		return fmt.Errorf("%w: cache_max_cost must be >= 0", ErrInvalid)
	}
	switch {
	case c.Output.OutDir == "" && !sp.Evaluation:
		return fmt.Errorf("%w: out_dir is required", ErrInvalid)
	case c.Output.GamesPerFlush < 1:
		return fmt.Errorf("%w: games_per_flush must be >= 1", ErrInvalid)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be >= 1", ErrInvalid)
	case c.MaxGames < 0:
		return fmt.Errorf("%w: max_games must be >= 0", ErrInvalid)
	}
	return nil
}

// MCTS converts the search section into an mcts.Config for the cube.
func (c Config) MCTS() mcts.Config {
	return mcts.Config{
		Actions:        cube.NumActions,
		MaxDepth:       c.Search.MaxDepth,
		Cpuct:          c.Search.Cpuct,
		Gamma:          c.Search.Gamma,
		NoiseWeight:    c.Search.NoiseWeight,
		DirichletAlpha: c.Search.DirichletAlpha,
		PruneOnAdvance: c.Search.PruneOnAdvance,
	}
}
