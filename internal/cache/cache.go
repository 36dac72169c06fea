// Package cache memoizes nearest-cell answers. A cache only ever changes latency: callers
// fall back to direct computation on any miss or error.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// #region interface
// Cache maps a query key to a cell key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Flush(ctx context.Context) error
}

// #endregion interface

// #region config
// Config selects and tunes a cache backend.
type Config struct {
	Kind           string        `yaml:"kind" validate:"oneof=none memory badger memcached"`
	MaxEntries     int           `yaml:"maxEntries" validate:"gte=0"`
	TTL            time.Duration `yaml:"ttl"`
	BadgerPath     string        `yaml:"badgerPath"`
	BadgerInMemory bool          `yaml:"badgerInMemory"`
	MemcachedAddrs []string      `yaml:"memcachedAddrs"`
}

// DefaultConfig keeps answers in process with no expiry.
func DefaultConfig() Config {
	return Config{
		Kind:           "memory",
		MaxEntries:     100000,
		MemcachedAddrs: []string{"localhost:11211"},
	}
}

// New opens the configured backend.
func New(cfg Config, logger *slog.Logger) (Cache, error) {
	switch cfg.Kind {
	case "", "none":
		return None{}, nil
	case "memory":
		return NewMemory(cfg.MaxEntries), nil
	case "badger":
		bc := DefaultBadgerConfig()
		bc.Path = cfg.BadgerPath
		bc.InMemory = cfg.BadgerInMemory
		bc.TTL = cfg.TTL
		bc.Logger = logger
		return OpenBadger(bc)
	case "memcached":
		return NewMemcached(cfg.MemcachedAddrs, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Kind)
	}
}

// CloseIfSupported releases backends that hold external resources.
func CloseIfSupported(c Cache) error {
	closer, ok := c.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}

// #endregion config

// #region none
// None never hits.
type None struct{}

func (None) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (None) Set(context.Context, string, string) error         { return nil }
func (None) Flush(context.Context) error                       { return nil }

// #endregion none

// #region memory
// Memory is a bounded in-process map. When full, an arbitrary entry is evicted.
type Memory struct {
	mu      sync.RWMutex
	max     int
	entries map[string]string
}

// NewMemory builds a Memory cache; max <= 0 means unbounded.
func NewMemory(max int) *Memory {
	return &Memory{max: max, entries: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok && m.max > 0 && len(m.entries) >= m.max {
		for k := range m.entries {
			delete(m.entries, k)
			break
		}
	}
	m.entries[key] = value
	return nil
}

func (m *Memory) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]string)
	return nil
}

// Len reports the number of cached entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// #endregion memory
