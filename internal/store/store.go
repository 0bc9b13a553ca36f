// Package store defines the durable key-value interface that backs the
// watchlist and preferences, its backends (SQLite, Redis, JSON file and
// memory), and the Parquet archives used for bar history and news.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"stockdesk/internal/config"
)

// ErrNotFound is returned by KV.Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// KV is a small durable key-value store. Values are opaque byte slices,
// typically JSON documents. Put must be durable when it returns nil.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// Close releases the backend's resources.
	Close() error
}

// OpenKV opens the backend selected by cfg.Backend.
func OpenKV(ctx context.Context, cfg config.Storage) (KV, error) {
	switch cfg.Backend {
	case "sqlite", "":
		if err := ensureDir(cfg.SQLitePath); err != nil {
			return nil, err
		}
		return NewSQLiteKV(ctx, cfg.SQLitePath)
	case "redis":
		return NewRedisKV(ctx, RedisOptions{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Password: cfg.RedisPass})
	case "file":
		if err := ensureDir(cfg.FilePath); err != nil {
			return nil, err
		}
		return NewFileKV(cfg.FilePath)
	case "memory":
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}
