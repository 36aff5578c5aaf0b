// Package edit manages the in-place edit region of a conversation's own
// text messages.
package edit

import (
	"errors"
	"fmt"
	"strings"

	"conversation-console/internal/bus"
	"conversation-console/internal/models"
	"conversation-console/internal/view"
)

var (
	ErrNotEditable = errors.New("message is not editable")
	ErrNotEditing  = errors.New("message is not being edited")
	ErrEmptyText   = errors.New("edited text is empty")
)

// Controller opens and commits edit regions on one container. Callers
// serialize access together with the container.
type Controller struct {
	container *view.Container
	bus       *bus.Bus
}

// NewController binds a controller to a container and its conversation bus.
func NewController(c *view.Container, b *bus.Bus) *Controller {
	return &Controller{container: c, bus: b}
}

// BeginEdit replaces the row's text with an edit region seeded with the
// current text. An existing region for the same id is torn down first.
func (c *Controller) BeginEdit(id models.MessageID) (*view.Row, error) {
	row, ok := c.container.Row(id)
	if !ok {
		return nil, fmt.Errorf("begin edit %s: %w", id, view.ErrRowNotFound)
	}
	if !row.Mine || row.Message.IsFile() {
		return nil, fmt.Errorf("begin edit %s: %w", id, ErrNotEditable)
	}
	row.Edit = nil
	row.Edit = &view.EditRegion{Draft: row.Text}
	return row, nil
}

// CancelEdit dismisses the region and restores the original text.
func (c *Controller) CancelEdit(id models.MessageID) error {
	row, ok := c.container.Row(id)
	if !ok {
		return fmt.Errorf("cancel edit %s: %w", id, view.ErrRowNotFound)
	}
	if row.Edit == nil {
		return fmt.Errorf("cancel edit %s: %w", id, ErrNotEditing)
	}
	row.Edit = nil
	return nil
}

// CommitEdit dismisses the region and requests the edit on the bus. The row
// keeps its old text until the server echoes message_updated.
func (c *Controller) CommitEdit(id models.MessageID, newText, conversationID string) error {
	row, ok := c.container.Row(id)
	if !ok {
		return fmt.Errorf("commit edit %s: %w", id, view.ErrRowNotFound)
	}
	if row.Edit == nil {
		return fmt.Errorf("commit edit %s: %w", id, ErrNotEditing)
	}
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return fmt.Errorf("commit edit %s: %w", id, ErrEmptyText)
	}
	row.Edit = nil
	if c.bus != nil {
		c.bus.Publish(bus.EditRequested{ConversationID: conversationID, MessageID: id, NewText: newText})
	}
	return nil
}

// Editing reports whether id has an open region.
func (c *Controller) Editing(id models.MessageID) bool {
	row, ok := c.container.Row(id)
	return ok && row.Edit != nil
}
