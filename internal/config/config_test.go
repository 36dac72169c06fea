package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/ihtai/internal/errs"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.MaxPatterns != 4000 || cfg.SlidingWindow.Size != 301 || cfg.SlidingWindow.ScoreTimesteps[0] != 30 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RubberBanding.TargetScore != 10 || cfg.RubberBanding.Decay != 0.05 {
		t.Fatalf("unexpected rubber banding defaults: %+v", cfg.RubberBanding)
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ihtai.yaml")
	body := []byte(`
store:
  kind: memory
maxPatterns: 50
slidingWindow:
  size: 40
  scoreTimesteps: [5, 10]
rubberBanding:
  enabled: true
  targetScore: 3
  decay: 0.1
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Kind != "memory" || cfg.MaxPatterns != 50 {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if len(cfg.SlidingWindow.ScoreTimesteps) != 2 || cfg.SlidingWindow.ScoreTimesteps[1] != 10 {
		t.Fatalf("timesteps not applied: %v", cfg.SlidingWindow.ScoreTimesteps)
	}
	if !cfg.RubberBanding.Enabled || cfg.RubberBanding.TargetScore != 3 {
		t.Fatalf("rubber banding not applied: %+v", cfg.RubberBanding)
	}
	// untouched sections keep their defaults
	if cfg.HTTP.Addr != ":3800" {
		t.Fatalf("expected default http addr, got %s", cfg.HTTP.Addr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("IHTAI_DB", "/tmp/other.db")
	t.Setenv("IHTAI_HTTP_ADDR", ":9999")
	t.Setenv("IHTAI_MAX_PATTERNS", "12")
	t.Setenv("IHTAI_MEMCACHED", "a:1,b:2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Path != "/tmp/other.db" || cfg.HTTP.Addr != ":9999" || cfg.MaxPatterns != 12 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if len(cfg.Cache.MemcachedAddrs) != 2 {
		t.Fatalf("memcached addrs not split: %v", cfg.Cache.MemcachedAddrs)
	}

	t.Setenv("IHTAI_MAX_PATTERNS", "many")
	if _, err := Load(""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"timestep beyond window": func(c *Config) { c.SlidingWindow.ScoreTimesteps = []int{400} },
		"timestep below two":     func(c *Config) { c.SlidingWindow.ScoreTimesteps = []int{1} },
		"no timesteps":           func(c *Config) { c.SlidingWindow.ScoreTimesteps = nil },
		"zero max patterns":      func(c *Config) { c.MaxPatterns = 0 },
		"unknown store":          func(c *Config) { c.Store.Kind = "mysql" },
		"sqlite without path":    func(c *Config) { c.Store.Path = "" },
		"decay above one":        func(c *Config) { c.RubberBanding.Decay = 2 },
		"unknown cache":          func(c *Config) { c.Cache.Kind = "redis" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
	}
}

func TestParseTimesteps(t *testing.T) {
	got, err := ParseTimesteps("30, 60,90")
	if err != nil {
		t.Fatalf("ParseTimesteps: %v", err)
	}
	if len(got) != 3 || got[2] != 90 {
		t.Fatalf("unexpected %v", got)
	}
	if _, err := ParseTimesteps("30,x"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ParseTimesteps(""); err == nil {
		t.Fatal("expected error for empty list")
	}
}
