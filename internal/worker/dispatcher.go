package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/ternarybob/arbor"

	"mutation-queue/internal/model"
	"mutation-queue/internal/transport"
)

// DefaultMaxRetries is the number of failed replays after which a record is dropped
const DefaultMaxRetries = 3

// Queue is the slice of the queue model a dispatch pass works on
type Queue interface {
	Len() int
	Drain() []model.QueuedRequest
	Append(req model.QueuedRequest)
	Persist(ctx context.Context)
}

// Transport performs the network call for one replay
type Transport interface {
	Send(ctx context.Context, method, target string, payload json.RawMessage, headers map[string]string) error
}

// Credentials supplies the bearer token merged into every replay
type Credentials interface {
	Token(ctx context.Context) (string, bool)
}

// DropHandler is told about every record removed without a successful replay
type DropHandler func(req model.QueuedRequest, err error)

// Dispatcher drains the queue against the network with bounded retry.
// At most one pass runs at a time; overlapping triggers are no-ops.
type Dispatcher struct {
	queue       Queue
	transport   Transport
	credentials Credentials
	online      func() bool
	maxRetries  int
	permanent   func(error) bool
	onDrop      DropHandler
	running     atomic.Bool
	logger      arbor.ILogger
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxRetries = n
		}
	}
}

// WithCredentials sets the token source merged as the Authorization header.
func WithCredentials(c Credentials) Option {
	return func(d *Dispatcher) {
		d.credentials = c
	}
}

// WithConnectivity sets the online check consulted before each pass.
func WithConnectivity(online func() bool) Option {
	return func(d *Dispatcher) {
		d.online = online
	}
}

// WithDropHandler registers a dead-letter callback.
func WithDropHandler(h DropHandler) Option {
	return func(d *Dispatcher) {
		d.onDrop = h
	}
}

// WithFailureClassifier drops records immediately when permanent(err) is true
// instead of spending their retry budget.
func WithFailureClassifier(permanent func(error) bool) Option {
	return func(d *Dispatcher) {
		d.permanent = permanent
	}
}

func NewDispatcher(q Queue, t Transport, logger arbor.ILogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:      q,
		transport:  t,
		online:     func() bool { return true },
		maxRetries: DefaultMaxRetries,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Running reports whether a pass is in progress
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Dispatch runs one pass. It returns false without doing anything when a pass
// is already running, the network is down or the queue is empty.
func (d *Dispatcher) Dispatch(ctx context.Context) bool {
	if !d.running.CompareAndSwap(false, true) {
		return false
	}
	defer d.running.Store(false)

	if !d.online() || d.queue.Len() == 0 {
		return false
	}

	batch := d.queue.Drain()
	d.logger.Info().Int("count", len(batch)).Msg("Dispatch pass started")

	var sent, retried, dropped int
	for _, req := range batch {
		err := d.replay(ctx, req)
		if err == nil {
			sent++
			continue
		}
		if d.handleFailure(req, err) {
			retried++
		} else {
			dropped++
		}
	}

	d.queue.Persist(ctx)

	d.logger.Info().
		Int("sent", sent).
		Int("retried", retried).
		Int("dropped", dropped).
		Int("pending", d.queue.Len()).
		Msg("Dispatch pass finished")
	return true
}

func (d *Dispatcher) replay(ctx context.Context, req model.QueuedRequest) error {
	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	if d.credentials != nil {
		if token, ok := d.credentials.Token(ctx); ok {
			headers["Authorization"] = "Bearer " + token
		}
	}

	d.logger.Debug().
		Str("id", req.ID).
		Str("method", req.Method).
		Str("target", req.Target).
		Int("retry", req.RetryCount).
		Msg("Replaying request")

	return d.transport.Send(ctx, req.Method, req.Target, req.Payload, headers)
}

// handleFailure re-queues req if budget remains. Reports whether it was re-queued.
func (d *Dispatcher) handleFailure(req model.QueuedRequest, err error) bool {
	if d.permanent != nil && d.permanent(err) {
		d.logger.Error().Err(err).Str("id", req.ID).Str("target", req.Target).Msg("Permanent failure, request dropped")
		d.drop(req, err)
		return false
	}

	if req.RetryCount+1 >= d.maxRetries {
		d.logger.Error().
			Err(err).
			Str("id", req.ID).
			Str("target", req.Target).
			Int("max_retries", d.maxRetries).
			Msg("Retries exhausted, request dropped")
		d.drop(req, err)
		return false
	}

	req.RetryCount++
	d.queue.Append(req)
	d.logger.Warn().
		Err(err).
		Str("id", req.ID).
		Int("attempt", req.RetryCount).
		Int("max_retries", d.maxRetries).
		Msg("Replay failed, will retry on next pass")
	return true
}

func (d *Dispatcher) drop(req model.QueuedRequest, err error) {
	if d.onDrop != nil {
		d.onDrop(req.Clone(), err)
	}
}

// PermanentHTTPFailure treats client errors as permanent, except 408 and 429
func PermanentHTTPFailure(err error) bool {
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500
}
