// Package connectivity reports whether the remote API is reachable and
// notifies subscribers when it comes back.
package connectivity

import (
	"sync"
	"sync/atomic"
)

// Signal is the source of "became online" notifications
type Signal interface {
	Online() bool
	// Subscribe registers fn for every offline to online transition.
	// The returned func removes the subscription.
	Subscribe(fn func()) (unsubscribe func())
}

// subscribers is shared by every Signal implementation
type subscribers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func()
}

func (s *subscribers) add(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func())
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.fns, id)
		})
	}
}

func (s *subscribers) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Manual is a Signal whose state is set by the caller
type Manual struct {
	online atomic.Bool
	subs   subscribers
}

func NewManual(online bool) *Manual {
	m := &Manual{}
	m.online.Store(online)
	return m
}

func (m *Manual) Online() bool {
	return m.online.Load()
}

func (m *Manual) Subscribe(fn func()) func() {
	return m.subs.add(fn)
}

// SetOnline updates the state and notifies on an offline to online transition
func (m *Manual) SetOnline(online bool) {
	was := m.online.Swap(online)
	if online && !was {
		m.subs.notify()
	}
}
