package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Listener is one consumer's bounded delivery queue. It is owned by exactly
// one stream session for its lifetime; the broadcast loop only pushes into it.
type Listener struct {
	id      string
	ch      chan []byte
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// ID returns the listener's unique identity.
func (l *Listener) ID() string {
	return l.id
}

// Chunks returns the receive side of the listener's queue. The channel is
// closed when the listener is unregistered.
func (l *Listener) Chunks() <-chan []byte {
	return l.ch
}

// Push attempts a non-blocking delivery. When the queue is full the incoming
// chunk is dropped (drop-newest policy) and Push reports false; the buffered
// backlog is preserved so the listener resumes from where it stalled.
func (l *Listener) Push(chunk []byte) bool {
	select {
	case l.ch <- chunk:
		l.sent.Add(1)
		return true
	default:
		l.dropped.Add(1)
		return false
	}
}

// Stats returns the listener's delivery counters.
func (l *Listener) Stats() (sent, dropped uint64) {
	return l.sent.Load(), l.dropped.Load()
}

// Registry is the concurrency-safe set of live listeners. Registration and
// unregistration are safe against each other and against concurrent fan-out.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string]*Listener
	capacity  int
}

// NewRegistry creates a registry whose listeners buffer up to capacity chunks.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		listeners: make(map[string]*Listener),
		capacity:  capacity,
	}
}

// Register creates a new bounded listener queue, adds it to the set, and
// returns it.
func (r *Registry) Register() *Listener {
	l := &Listener{
		id: uuid.New().String(),
		ch: make(chan []byte, r.capacity),
	}

	r.mu.Lock()
	r.listeners[l.id] = l
	r.mu.Unlock()

	return l
}

// Unregister removes the listener from the set and closes its queue. It is
// idempotent; unregistering an already-removed listener is a no-op.
func (r *Registry) Unregister(l *Listener) {
	if l == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listeners[l.id]; !ok {
		return
	}
	delete(r.listeners, l.id)
	close(l.ch)
}

// Broadcast pushes chunk to every registered listener without blocking.
// Pushes happen under the read lock so a concurrent Unregister cannot close a
// queue mid-push; per-queue delivery stays independent because every push is
// non-blocking.
func (r *Registry) Broadcast(chunk []byte) (sent, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.listeners {
		if l.Push(chunk) {
			sent++
		} else {
			dropped++
		}
	}
	return sent, dropped
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Capacity returns the per-listener queue capacity.
func (r *Registry) Capacity() int {
	return r.capacity
}
