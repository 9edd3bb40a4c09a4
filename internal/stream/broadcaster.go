package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Policy decides what happens when a listener's buffer is full.
type Policy int

const (
	// DropMessage skips the value for that listener only.
	DropMessage Policy = iota
	// DropListener unsubscribes the listener and closes its channel.
	DropListener
)

// Broadcaster fans out values from one source to N listeners. Publishing
// never blocks on a listener.
type Broadcaster[T any] struct {
	buffer int
	policy Policy

	mu        sync.RWMutex
	listeners map[*Listener[T]]struct{}
}

// Listener receives values from the broadcaster. C is closed when the
// listener is dropped or unsubscribed.
type Listener[T any] struct {
	ID   string
	C    chan T
	done chan struct{}
	once sync.Once
}

// Done is closed once the listener has been removed.
func (l *Listener[T]) Done() <-chan struct{} {
	return l.done
}

func (l *Listener[T]) close() {
	l.once.Do(func() {
		close(l.done)
		close(l.C)
	})
}

// NewBroadcaster creates a broadcaster whose listeners buffer up to buffer
// values.
func NewBroadcaster[T any](buffer int, policy Policy) *Broadcaster[T] {
	return &Broadcaster[T]{
		buffer:    buffer,
		policy:    policy,
		listeners: make(map[*Listener[T]]struct{}),
	}
}

// Subscribe registers a new listener. Values in initial are queued for it
// before it sees any published value.
func (b *Broadcaster[T]) Subscribe(initial ...T) *Listener[T] {
	l := &Listener[T]{
		ID:   uuid.NewString(),
		C:    make(chan T, max(b.buffer, len(initial))),
		done: make(chan struct{}),
	}
	for _, v := range initial {
		l.C <- v
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and closes its channel. Safe to call more
// than once.
func (b *Broadcaster[T]) Unsubscribe(l *Listener[T]) {
	b.mu.Lock()
	delete(b.listeners, l)
	l.close()
	b.mu.Unlock()
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster[T]) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish offers v to every listener and returns how many listeners were
// dropped.
func (b *Broadcaster[T]) Publish(v T) int {
	var slow []*Listener[T]

	b.mu.RLock()
	for l := range b.listeners {
		select {
		case l.C <- v:
		default:
			if b.policy == DropListener {
				slow = append(slow, l)
			}
		}
	}
	b.mu.RUnlock()

	for _, l := range slow {
		b.Unsubscribe(l)
	}
	return len(slow)
}

// Run publishes every value from source until ctx is cancelled or source
// is closed.
func (b *Broadcaster[T]) Run(ctx context.Context, source <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-source:
			if !ok {
				return
			}
			b.Publish(v)
		}
	}
}
