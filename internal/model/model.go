package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalidDescriptor is returned when a descriptor fails validation
var ErrInvalidDescriptor = errors.New("invalid request descriptor")

// Descriptor defines the pending mutation handed over by a page or service.
// Validate expects an uppercase Method; Normalize fixes case and spacing.
type Descriptor struct {
	Method  string            `json:"method" validate:"required,oneof=POST PUT PATCH DELETE"`
	Target  string            `json:"target" validate:"required,startswith=/"`
	Payload json.RawMessage   `json:"payload,omitempty" validate:"omitempty,json"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Normalize returns a copy with the method uppercased and surrounding spaces trimmed
func (d Descriptor) Normalize() Descriptor {
	d.Method = strings.ToUpper(strings.TrimSpace(d.Method))
	d.Target = strings.TrimSpace(d.Target)
	return d
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks the descriptor using go-playground/validator.
func (d Descriptor) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return nil
}

// QueuedRequest is one not-yet-confirmed state-changing API call
type QueuedRequest struct {
	ID         string            `json:"id"`
	Method     string            `json:"method"`
	Target     string            `json:"target"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
	RetryCount int               `json:"retryCount"`
}

// NewQueuedRequest wraps the descriptor with a fresh id and zero retries
func NewQueuedRequest(d Descriptor) QueuedRequest {
	return QueuedRequest{
		ID:         NewID(),
		Method:     d.Method,
		Target:     d.Target,
		Payload:    d.Payload,
		Headers:    cloneHeaders(d.Headers),
		EnqueuedAt: time.Now().UTC(),
	}
}

// NewID generates a queue-unique request id. Format: req_<uuid>
func NewID() string {
	return "req_" + uuid.New().String()
}

// Clone returns a deep copy so callers cannot alias queue state
func (r QueuedRequest) Clone() QueuedRequest {
	c := r
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	c.Headers = cloneHeaders(r.Headers)
	return c
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
