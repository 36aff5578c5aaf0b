package reveal

import (
	"context"
	"sync"

	"conversation-console/internal/models"
)

// KeyPrefix namespaces the durable reveal flags.
const KeyPrefix = "img_downloaded_"

// Key returns the durable key for a message id.
func Key(id models.MessageID) string {
	return KeyPrefix + string(id)
}

// Store remembers which received images the viewer has chosen to reveal.
// Writes are idempotent overwrites.
type Store interface {
	IsRevealed(ctx context.Context, id models.MessageID) (bool, error)
	MarkRevealed(ctx context.Context, id models.MessageID) error
}

// MemoryStore keeps reveal flags for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]struct{})}
}

func (s *MemoryStore) IsRevealed(_ context.Context, id models.MessageID) (bool, error) {
	if id == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[Key(id)]
	return ok, nil
}

func (s *MemoryStore) MarkRevealed(_ context.Context, id models.MessageID) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[Key(id)] = struct{}{}
	return nil
}

var _ Store = (*MemoryStore)(nil)
