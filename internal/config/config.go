// Package config loads daemon settings: built-in defaults, then an optional YAML file,
// then IHTAI_* environment overrides, then command-line flags (applied by cmd/ihtaid).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/ihtai/internal/cache"
	"github.com/danielpatrickdp/ihtai/internal/errs"
	"github.com/danielpatrickdp/ihtai/internal/logging"
	"github.com/danielpatrickdp/ihtai/internal/quantizer"
	"github.com/danielpatrickdp/ihtai/internal/update"
)

// #region types
// Config is the full daemon configuration.
type Config struct {
	Store         StoreConfig                 `yaml:"store" validate:"required"`
	HTTP          ListenConfig                `yaml:"http"`
	GRPC          ListenConfig                `yaml:"grpc"`
	Log           logging.Config              `yaml:"log"`
	ClientLog     logging.Config              `yaml:"clientLog"`
	Cache         cache.Config                `yaml:"cache"`
	MaxPatterns   int                         `yaml:"maxPatterns" validate:"gte=1"`
	SlidingWindow WindowConfig                `yaml:"slidingWindow"`
	RubberBanding update.RubberBanding        `yaml:"rubberBanding"`
	SplitPolicy   quantizer.SplitPolicyConfig `yaml:"splitPolicy"`
}

type StoreConfig struct {
	Kind string `yaml:"kind" validate:"oneof=memory sqlite"`
	Path string `yaml:"path" validate:"required_if=Kind sqlite"`
}

// ListenConfig is an address to serve on; empty disables the listener.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

type WindowConfig struct {
	Size           int   `yaml:"size" validate:"gte=3"`
	ScoreTimesteps []int `yaml:"scoreTimesteps" validate:"required,min=1,dive,gte=2"`
}

// #endregion types

// #region defaults
// Default returns the shipped configuration.
func Default() Config {
	return Config{
		Store:       StoreConfig{Kind: "sqlite", Path: "ihtai.db"},
		HTTP:        ListenConfig{Addr: ":3800"},
		GRPC:        ListenConfig{Addr: ":3801"},
		Log:         logging.DefaultConfig(),
		ClientLog:   logging.DefaultConfig(),
		Cache:       cache.DefaultConfig(),
		MaxPatterns: quantizer.DefaultMaxCells,
		SlidingWindow: WindowConfig{
			Size:           301,
			ScoreTimesteps: []int{30},
		},
		RubberBanding: update.DefaultConfig().RubberBanding,
		SplitPolicy:   quantizer.DefaultSplitPolicyConfig(),
	}
}

// #endregion defaults

// #region load
// Load reads path over the defaults (when path is non-empty), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from IHTAI_* environment variables.
func ApplyEnv(cfg *Config) error {
	cfg.Store.Path = envOr("IHTAI_DB", cfg.Store.Path)
	cfg.Store.Kind = envOr("IHTAI_STORE", cfg.Store.Kind)
	cfg.HTTP.Addr = envOr("IHTAI_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.GRPC.Addr = envOr("IHTAI_GRPC_ADDR", cfg.GRPC.Addr)
	cfg.Log.Level = envOr("IHTAI_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = envOr("IHTAI_LOG_FILE", cfg.Log.File)
	cfg.ClientLog.File = envOr("IHTAI_CLIENT_LOG_FILE", cfg.ClientLog.File)
	cfg.Cache.Kind = envOr("IHTAI_CACHE", cfg.Cache.Kind)
	if addrs := os.Getenv("IHTAI_MEMCACHED"); addrs != "" {
		cfg.Cache.MemcachedAddrs = strings.Split(addrs, ",")
	}
	if v := os.Getenv("IHTAI_MAX_PATTERNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: IHTAI_MAX_PATTERNS: %v", errs.ErrValidation, err)
		}
		cfg.MaxPatterns = n
	}
	return nil
}

// #endregion load

// #region validate
var validate = validator.New()

// Validate checks field constraints and that every score timestep fits the window.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: config: %v", errs.ErrValidation, err)
	}
	for _, ts := range c.SlidingWindow.ScoreTimesteps {
		if ts > c.SlidingWindow.Size {
			return fmt.Errorf("%w: score timestep %d exceeds sliding window size %d",
				errs.ErrValidation, ts, c.SlidingWindow.Size)
		}
	}
	return nil
}

// ParseTimesteps parses "30,60,90" into horizons.
func ParseTimesteps(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: timestep %q: %v", errs.ErrValidation, part, err)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no timesteps in %q", errs.ErrValidation, s)
	}
	return out, nil
}

// #endregion validate

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
