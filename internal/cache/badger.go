package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/danielpatrickdp/ihtai/internal/errs"
)

// #region badger-config
// BadgerConfig holds configuration for the embedded cache database.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string
	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool
	// SyncWrites is off by default; a lost cache entry is only a miss.
	SyncWrites bool
	// TTL expires entries; zero keeps them until the next Flush.
	TTL time.Duration
	// Logger receives BadgerDB's own logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns a persistent, unsynced configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{SyncWrites: false}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// #endregion badger-config

// #region badger-cache
// Badger stores nearest-cell answers in an embedded BadgerDB.
type Badger struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadger opens the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent badger cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &Badger{db: db, ttl: cfg.TTL}, nil
}

func (b *Badger) Get(_ context.Context, key string) (string, bool, error) {
	var out string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: badger get: %v", errs.ErrStore, err)
	}
	return out, true, nil
}

func (b *Badger) Set(_ context.Context, key, value string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), []byte(value))
		if b.ttl > 0 {
			e = e.WithTTL(b.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("%w: badger set: %v", errs.ErrStore, err)
	}
	return nil
}

func (b *Badger) Flush(_ context.Context) error {
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("%w: badger flush: %v", errs.ErrStore, err)
	}
	return nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// #endregion badger-cache
