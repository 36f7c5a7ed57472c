// Package app wires the offline mutation queue: durable queue, dispatcher and
// connectivity subscription behind an explicit Start/Stop lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"mutation-queue/internal/connectivity"
	"mutation-queue/internal/model"
	"mutation-queue/internal/queue"
	"mutation-queue/internal/worker"
)

// OfflineQueue captures mutations while offline and replays them when the
// connectivity signal reports the API is back.
type OfflineQueue struct {
	queue      *queue.Queue
	dispatcher *worker.Dispatcher
	signal     connectivity.Signal
	logger     arbor.ILogger

	mu          sync.Mutex
	started     bool
	unsubscribe func()
	passes      sync.WaitGroup
}

func New(q *queue.Queue, d *worker.Dispatcher, signal connectivity.Signal, logger arbor.ILogger) *OfflineQueue {
	return &OfflineQueue{
		queue:      q,
		dispatcher: d,
		signal:     signal,
		logger:     logger,
	}
}

// Start subscribes to the connectivity signal and, if already online,
// resumes whatever was persisted by a previous run.
func (o *OfflineQueue) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return fmt.Errorf("offline queue already started")
	}
	o.unsubscribe = o.signal.Subscribe(func() {
		o.logger.Debug().Msg("Online notification received")
		o.trigger()
	})
	o.started = true

	o.logger.Info().Int("pending", o.queue.Len()).Bool("online", o.signal.Online()).Msg("Offline queue started")
	if o.signal.Online() {
		o.triggerLocked()
	}
	return nil
}

// Stop removes the subscription and waits for triggered passes to finish
func (o *OfflineQueue) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.unsubscribe()
	o.unsubscribe = nil
	o.started = false
	o.mu.Unlock()

	o.passes.Wait()
	o.logger.Info().Int("pending", o.queue.Len()).Msg("Offline queue stopped")
}

// Enqueue records the mutation and returns its id. When online and started it
// also kicks off a pass. Replay errors are never reported here; the only error
// is an invalid descriptor.
func (o *OfflineQueue) Enqueue(ctx context.Context, d model.Descriptor) (string, error) {
	id, err := o.queue.Enqueue(ctx, d)
	if err != nil {
		return "", err
	}
	if o.signal.Online() {
		o.trigger()
	}
	return id, nil
}

func (o *OfflineQueue) Remove(ctx context.Context, id string) bool {
	return o.queue.Remove(ctx, id)
}

func (o *OfflineQueue) Clear(ctx context.Context) {
	o.queue.Clear(ctx)
}

func (o *OfflineQueue) Snapshot() []model.QueuedRequest {
	return o.queue.Snapshot()
}

// Flush runs a pass on the calling goroutine. Reports whether a pass ran.
func (o *OfflineQueue) Flush(ctx context.Context) bool {
	return o.dispatcher.Dispatch(ctx)
}

// trigger starts a fire-and-forget pass while the queue is started
func (o *OfflineQueue) trigger() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.triggerLocked()
}

// triggerLocked requires o.mu. Passes are detached from any caller context so
// an in-flight replay is never cancelled.
func (o *OfflineQueue) triggerLocked() {
	if !o.started {
		return
	}
	o.passes.Add(1)
	go func() {
		defer o.passes.Done()
		o.dispatcher.Dispatch(context.Background())
	}()
}
