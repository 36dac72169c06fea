package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/danielpatrickdp/ihtai/internal/errs"
)

// memcached rejects keys longer than 250 bytes.
const maxMemcachedKey = 250

// Memcached stores nearest-cell answers in a memcached pool.
type Memcached struct {
	client *memcache.Client
	ttl    int32
}

// NewMemcached connects lazily to the given servers.
func NewMemcached(addrs []string, ttl time.Duration) *Memcached {
	return &Memcached{client: memcache.New(addrs...), ttl: int32(ttl / time.Second)}
}

func (m *Memcached) Get(_ context.Context, key string) (string, bool, error) {
	item, err := m.client.Get(memcachedKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: memcached get: %v", errs.ErrStore, err)
	}
	return string(item.Value), true, nil
}

func (m *Memcached) Set(_ context.Context, key, value string) error {
	err := m.client.Set(&memcache.Item{Key: memcachedKey(key), Value: []byte(value), Expiration: m.ttl})
	if err != nil {
		return fmt.Errorf("%w: memcached set: %v", errs.ErrStore, err)
	}
	return nil
}

func (m *Memcached) Flush(_ context.Context) error {
	if err := m.client.FlushAll(); err != nil {
		return fmt.Errorf("%w: memcached flush: %v", errs.ErrStore, err)
	}
	return nil
}

func memcachedKey(key string) string {
	if len(key) <= maxMemcachedKey {
		return key
	}
	sum := sha1.Sum([]byte(key))
	return "h:" + hex.EncodeToString(sum[:])
}
