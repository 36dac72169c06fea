package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "1:pattern_4_5_4")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "1:pattern_4_5_4", "pattern_5_5_5"))
	v, ok, err := c.Get(ctx, "1:pattern_4_5_4")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pattern_5_5_5", v)

	require.NoError(t, c.Flush(ctx))
	_, ok, err = c.Get(ctx, "1:pattern_4_5_4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache(t *testing.T) {
	exercise(t, NewMemory(0))
}

func TestMemoryCacheBounded(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	require.NoError(t, m.Set(ctx, "a", "1"))
	require.NoError(t, m.Set(ctx, "b", "2"))
	require.NoError(t, m.Set(ctx, "c", "3"))
	assert.Equal(t, 2, m.Len())

	v, ok, _ := m.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	// overwriting an existing key never evicts
	require.NoError(t, m.Set(ctx, "c", "4"))
	assert.Equal(t, 2, m.Len())
}

func TestBadgerCacheInMemory(t *testing.T) {
	cfg := DefaultBadgerConfig()
	cfg.InMemory = true
	b, err := OpenBadger(cfg)
	require.NoError(t, err)
	defer b.Close()

	exercise(t, b)
}

func TestBadgerCacheRequiresPath(t *testing.T) {
	_, err := OpenBadger(DefaultBadgerConfig())
	assert.Error(t, err)
}

func TestNoneNeverHits(t *testing.T) {
	ctx := context.Background()
	var c Cache = None{}
	require.NoError(t, c.Set(ctx, "k", "v"))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewFactory(t *testing.T) {
	c, err := New(Config{Kind: "none"}, nil)
	require.NoError(t, err)
	assert.IsType(t, None{}, c)

	c, err = New(Config{Kind: "memory", MaxEntries: 10}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	c, err = New(Config{Kind: "badger", BadgerInMemory: true}, nil)
	require.NoError(t, err)
	assert.NoError(t, CloseIfSupported(c))

	c, err = New(Config{Kind: "memcached", MemcachedAddrs: []string{"127.0.0.1:1"}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memcached{}, c)

	_, err = New(Config{Kind: "redis"}, nil)
	assert.Error(t, err)
}

func TestMemcachedKeyHashing(t *testing.T) {
	short := "3:pattern_1_2_3"
	assert.Equal(t, short, memcachedKey(short))

	long := "3:pattern_" + strings.Repeat("1d25_", 80)
	hashed := memcachedKey(long)
	assert.LessOrEqual(t, len(hashed), maxMemcachedKey)
	assert.True(t, strings.HasPrefix(hashed, "h:"))
	assert.Equal(t, hashed, memcachedKey(long))
}
