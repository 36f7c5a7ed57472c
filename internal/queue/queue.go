package queue

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"mutation-queue/internal/model"
	"mutation-queue/internal/storage"
)

// Queue is the ordered set of pending requests.
// Every public mutation is persisted in full before it returns.
type Queue struct {
	mu     sync.Mutex
	items  []model.QueuedRequest
	store  *storage.Store
	logger arbor.ILogger
}

// New loads the persisted queue once; later loads never happen
func New(ctx context.Context, store *storage.Store, logger arbor.ILogger) *Queue {
	return &Queue{
		items:  store.Load(ctx),
		store:  store,
		logger: logger,
	}
}

// Enqueue normalizes and validates d, appends a fresh record and persists. Returns the record id.
func (q *Queue) Enqueue(ctx context.Context, d model.Descriptor) (string, error) {
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return "", err
	}
	req := model.NewQueuedRequest(d)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, req)
	q.persistLocked(ctx)

	q.logger.Debug().
		Str("id", req.ID).
		Str("method", req.Method).
		Str("target", req.Target).
		Int("pending", len(q.items)).
		Msg("Request queued")
	return req.ID, nil
}

// Remove deletes the record with id. Reports whether it was present.
func (q *Queue) Remove(ctx context.Context, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	found := false
	kept := q.items[:0]
	for _, item := range q.items {
		if !found && item.ID == id {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	q.persistLocked(ctx)
	return found
}

// Clear empties the queue and persists the empty state
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = []model.QueuedRequest{}
	q.persistLocked(ctx)
}

// Snapshot returns a deep copy of the pending records in order
func (q *Queue) Snapshot() []model.QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneAll(q.items)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain hands every pending record to the caller and leaves the live list
// empty. Nothing is persisted; the dispatcher persists when its pass ends.
func (q *Queue) Drain() []model.QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.items
	q.items = []model.QueuedRequest{}
	return drained
}

// Append re-adds a record at the tail without persisting
func (q *Queue) Append(req model.QueuedRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, req)
}

// Persist writes the current live list
func (q *Queue) Persist(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.persistLocked(ctx)
}

func (q *Queue) persistLocked(ctx context.Context) {
	q.store.Save(ctx, q.items)
}

func cloneAll(items []model.QueuedRequest) []model.QueuedRequest {
	out := make([]model.QueuedRequest, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
