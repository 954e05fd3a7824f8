// Package events carries user-facing notifications from the backend to
// whichever clients are listening.
package events

import (
	"sync"
	"time"
)

type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
	Info    Kind = "info"
)

type Event struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Handler func(Event)

// Bus fans events out to subscribers. Handlers run synchronously on the
// publishing goroutine, so they must not block.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
	now      func() time.Time
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[uint64]Handler), now: time.Now}
}

// Subscribe registers fn and returns the function that removes it. Calling
// the returned function more than once is harmless.
func (b *Bus) Subscribe(fn Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = b.now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

func (b *Bus) Success(msg string) { b.Publish(Event{Kind: Success, Message: msg}) }

func (b *Bus) Error(msg string) { b.Publish(Event{Kind: Error, Message: msg}) }

func (b *Bus) Info(msg string) { b.Publish(Event{Kind: Info, Message: msg}) }

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.handlers)
}
