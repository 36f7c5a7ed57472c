// Package storage holds the durable key-value backends and the queue document adapter.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"mutation-queue/internal/config"
)

// ErrNotFound is returned by a Backend when the key holds no value
var ErrNotFound = errors.New("key not found")

// Backend is a persistent key-value medium
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewBackend opens the backend selected by cfg.Type
func NewBackend(logger arbor.ILogger, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Type {
	case "bolt":
		return NewBoltBackend(logger, cfg.Bolt)
	case "badger":
		return NewBadgerBackend(logger, cfg.Badger)
	case "redis":
		return NewRedisBackend(logger, cfg.Redis), nil
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
