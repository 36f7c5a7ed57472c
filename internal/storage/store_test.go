package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"mutation-queue/internal/model"
)

const queueKey = "offline-queue"

// failingBackend fails every operation with err
type failingBackend struct {
	err error
}

func (f failingBackend) Get(ctx context.Context, key string) ([]byte, error) { return nil, f.err }
func (f failingBackend) Set(ctx context.Context, key string, value []byte) error {
	return f.err
}
func (f failingBackend) Delete(ctx context.Context, key string) error { return f.err }
func (f failingBackend) Close() error                                 { return nil }

func sampleRequests() []model.QueuedRequest {
	at := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC)
	return []model.QueuedRequest{
		{ID: "req_1", Method: "POST", Target: "/clients", Payload: json.RawMessage(`{"fullName":"A"}`), EnqueuedAt: at},
		{ID: "req_2", Method: "PATCH", Target: "/sales/4", Headers: map[string]string{"X-B": "2", "X-A": "1"}, EnqueuedAt: at, RetryCount: 1},
		{ID: "req_3", Method: "DELETE", Target: "/buybacks/9", EnqueuedAt: at, RetryCount: 2},
	}
}

func TestStoreLoadAbsentKey(t *testing.T) {
	s := NewStore(NewMemoryBackend(), queueKey, arbor.NewLogger())
	got := s.Load(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStoreLoadMalformed(t *testing.T) {
	ctx := context.Background()
	for name, raw := range map[string]string{
		"garbage": `{not json`,
		"object":  `{"id":"req_1"}`,
		"null":    `null`,
	} {
		t.Run(name, func(t *testing.T) {
			backend := NewMemoryBackend()
			require.NoError(t, backend.Set(ctx, queueKey, []byte(raw)))

			got := NewStore(backend, queueKey, arbor.NewLogger()).Load(ctx)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestStoreLoadReadError(t *testing.T) {
	s := NewStore(failingBackend{err: errors.New("disk gone")}, queueKey, arbor.NewLogger())
	assert.Empty(t, s.Load(context.Background()))
}

func TestStoreSaveWriteErrorIsSwallowed(t *testing.T) {
	s := NewStore(failingBackend{err: errors.New("quota exceeded")}, queueKey, arbor.NewLogger())
	assert.NotPanics(t, func() {
		s.Save(context.Background(), sampleRequests())
	})
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend(), queueKey, arbor.NewLogger())

	s.Save(ctx, sampleRequests())
	got := s.Load(ctx)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"req_1", "req_2", "req_3"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, 2, got[2].RetryCount)
	assert.Equal(t, "1", got[1].Headers["X-A"])
}

func TestStoreSaveOfLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewStore(backend, queueKey, arbor.NewLogger())

	s.Save(ctx, sampleRequests())
	first, err := backend.Get(ctx, queueKey)
	require.NoError(t, err)

	s.Save(ctx, s.Load(ctx))
	second, err := backend.Get(ctx, queueKey)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStoreSaveNilWritesEmptyArray(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	NewStore(backend, queueKey, arbor.NewLogger()).Save(ctx, nil)

	got, err := backend.Get(ctx, queueKey)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))
}

func TestTokenSource(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	ts := NewTokenSource(backend, "authToken", arbor.NewLogger())

	_, ok := ts.Token(ctx)
	assert.False(t, ok)

	require.NoError(t, ts.SetToken(ctx, "abc"))
	token, ok := ts.Token(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	require.NoError(t, ts.SetToken(ctx, ""))
	_, ok = ts.Token(ctx)
	assert.False(t, ok)

	_, ok = NewTokenSource(failingBackend{err: errors.New("boom")}, "authToken", arbor.NewLogger()).Token(ctx)
	assert.False(t, ok)
}
