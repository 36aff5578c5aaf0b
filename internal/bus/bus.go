// Package bus carries the intra-conversation events raised by the edit
// controller and the read-receipt batcher.
package bus

import (
	"sync"

	"conversation-console/internal/models"
)

// Event is the closed set of conversation-scoped events.
type Event interface {
	isEvent()
}

// EditRequested asks the transport to send an edit_message action.
type EditRequested struct {
	ConversationID string
	MessageID      models.MessageID
	NewText        string
}

// ReadsMarked asks the transport to send a mark_read action.
type ReadsMarked struct {
	ConversationID string
	MessageIDs     []models.MessageID
}

func (EditRequested) isEvent() {}
func (ReadsMarked) isEvent()   {}

// Handler receives events in publish order.
type Handler func(Event)

// Bus is a publish/subscribe channel scoped to one conversation.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
	order  []int
	closed bool
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it. The returned
// function may be called more than once.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || h == nil {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.order = append(b.order, id)
	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers ev synchronously to every subscriber. It reports whether
// anyone was listening.
func (b *Bus) Publish(ev Event) bool {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return false
	}
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	return len(handlers) > 0
}

// Close drops every subscriber; later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]Handler)
	b.order = nil
}
