// Package receipts batches read acknowledgements across conversations
// behind one shared debounce window.
package receipts

import (
	"log/slog"
	"sync"
	"time"

	"conversation-console/internal/models"
)

// DefaultDelay is the quiet period before pending reads are flushed.
const DefaultDelay = time.Second

// Sink receives one batch per conversation on flush.
type Sink func(conversationID string, ids []models.MessageID)

// Batcher collects (message, conversation) pairs and flushes them grouped by
// conversation once marks stop arriving for the debounce window.
type Batcher struct {
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string][]models.MessageID
	seen    map[string]map[models.MessageID]struct{}
	order   []string

	debounce *Debouncer
}

// NewBatcher builds a Batcher with the given window. A non-positive delay
// uses DefaultDelay.
func NewBatcher(delay time.Duration, sink Sink, logger *slog.Logger) *Batcher {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Batcher{
		sink:    sink,
		logger:  logger,
		pending: make(map[string][]models.MessageID),
		seen:    make(map[string]map[models.MessageID]struct{}),
	}
	b.debounce = NewDebouncer(delay, b.Flush)
	return b
}

// MarkPendingRead queues id for conversationID and restarts the shared window.
// Empty ids and conversations are ignored.
func (b *Batcher) MarkPendingRead(id models.MessageID, conversationID string) {
	if id == "" || conversationID == "" {
		return
	}
	b.mu.Lock()
	set, ok := b.seen[conversationID]
	if !ok {
		set = make(map[models.MessageID]struct{})
		b.seen[conversationID] = set
		b.order = append(b.order, conversationID)
	}
	if _, dup := set[id]; !dup {
		set[id] = struct{}{}
		b.pending[conversationID] = append(b.pending[conversationID], id)
	}
	b.mu.Unlock()

	b.debounce.Trigger()
}

// Pending returns the number of queued ids.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ids := range b.pending {
		n += len(ids)
	}
	return n
}

// Flush emits every queued batch now and clears the queue.
func (b *Batcher) Flush() {
	b.debounce.Cancel()

	b.mu.Lock()
	pending, order := b.pending, b.order
	b.pending = make(map[string][]models.MessageID)
	b.seen = make(map[string]map[models.MessageID]struct{})
	b.order = nil
	b.mu.Unlock()

	if len(order) == 0 {
		return
	}
	for _, conv := range order {
		ids := pending[conv]
		if len(ids) == 0 || b.sink == nil {
			continue
		}
		b.logger.Debug("flushing read receipts", "conversation_id", conv, "count", len(ids))
		b.sink(conv, ids)
	}
}

// Stop cancels the pending flush; queued ids are discarded.
func (b *Batcher) Stop() {
	b.debounce.Stop()
	b.mu.Lock()
	b.pending = make(map[string][]models.MessageID)
	b.seen = make(map[string]map[models.MessageID]struct{})
	b.order = nil
	b.mu.Unlock()
}
