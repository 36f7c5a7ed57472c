package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ternarybob/arbor"

	"mutation-queue/internal/model"
)

// Store reads and writes the whole queue as one JSON array under a fixed key.
// Failures are logged and swallowed; callers never see a storage error.
type Store struct {
	backend Backend
	key     string
	logger  arbor.ILogger
}

func NewStore(backend Backend, key string, logger arbor.ILogger) *Store {
	return &Store{
		backend: backend,
		key:     key,
		logger:  logger,
	}
}

// Load returns the persisted queue, or an empty one if the key is absent,
// unreadable or does not parse.
func (s *Store) Load(ctx context.Context) []model.QueuedRequest {
	data, err := s.backend.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		s.logger.Info().Str("key", s.key).Msg("No persisted offline queue, starting empty")
		return []model.QueuedRequest{}
	}
	if err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to read offline queue, starting empty")
		return []model.QueuedRequest{}
	}

	var requests []model.QueuedRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to parse offline queue, starting empty")
		return []model.QueuedRequest{}
	}
	if requests == nil {
		requests = []model.QueuedRequest{}
	}

	s.logger.Debug().Int("count", len(requests)).Str("key", s.key).Msg("Loaded offline queue")
	return requests
}

// Save overwrites the persisted queue with requests
func (s *Store) Save(ctx context.Context, requests []model.QueuedRequest) {
	if requests == nil {
		requests = []model.QueuedRequest{}
	}
	data, err := json.Marshal(requests)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to serialize offline queue")
		return
	}
	if err := s.backend.Set(ctx, s.key, data); err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Int("count", len(requests)).Msg("Failed to persist offline queue")
	}
}

// TokenSource reads the bearer token kept next to the queue in the same backend
type TokenSource struct {
	backend Backend
	key     string
	logger  arbor.ILogger
}

func NewTokenSource(backend Backend, key string, logger arbor.ILogger) *TokenSource {
	return &TokenSource{
		backend: backend,
		key:     key,
		logger:  logger,
	}
}

// Token returns the current token; ok is false when none is stored
func (t *TokenSource) Token(ctx context.Context) (string, bool) {
	data, err := t.backend.Get(ctx, t.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			t.logger.Warn().Err(err).Str("key", t.key).Msg("Failed to read auth token")
		}
		return "", false
	}
	if len(data) == 0 {
		return "", false
	}
	return string(data), true
}

// SetToken stores token, or removes it when token is empty
func (t *TokenSource) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return t.backend.Delete(ctx, t.key)
	}
	return t.backend.Set(ctx, t.key, []byte(token))
}
