package transport

import (
	"time"

	"github.com/google/uuid"
)

// ConnInfo describes one live channel connection for events and logs.
type ConnInfo struct {
	ConnID      string
	StudentID   string
	Kind        string
	URL         string
	Fallback    bool
	ConnectedAt time.Time
}

func newConnID() string {
	return uuid.NewString()
}
