package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"mutation-queue/internal/config"
)

// badgerRecord is the badgerhold document stored per key
type badgerRecord struct {
	Key   string
	Value []byte
}

// BadgerBackend implements Backend on a badgerhold store
type BadgerBackend struct {
	store *badgerhold.Store
}

// NewBadgerBackend opens the Badger database at cfg.Path
func NewBadgerBackend(logger arbor.ILogger, cfg config.BadgerConfig) (*BadgerBackend, error) {
	if cfg.ResetOnStartup {
		if _, err := os.Stat(cfg.Path); err == nil {
			logger.Debug().Str("path", cfg.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(cfg.Path); err != nil {
				logger.Warn().Err(err).Str("path", cfg.Path).Msg("Failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = cfg.Path
	options.ValueDir = cfg.Path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", cfg.Path).Msg("Badger database initialized")
	return &BadgerBackend{store: store}, nil
}

func (b *BadgerBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var rec badgerRecord
	err := b.store.Get(key, &rec)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return rec.Value, nil
}

func (b *BadgerBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.store.Upsert(key, &badgerRecord{Key: key, Value: value}); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (b *BadgerBackend) Delete(ctx context.Context, key string) error {
	err := b.store.Delete(key, &badgerRecord{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (b *BadgerBackend) Close() error {
	return b.store.Close()
}
