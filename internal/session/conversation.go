package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"conversation-console/internal/attachment"
	"conversation-console/internal/bus"
	"conversation-console/internal/edit"
	"conversation-console/internal/models"
	"conversation-console/internal/telemetry"
	"conversation-console/internal/transport"
	"conversation-console/internal/view"
)

// Change describes what an inbound message did to the view.
type Change struct {
	Action string     `json:"action"`
	Rows   []view.Row `json:"rows,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// Notice is a blocking message shown to the viewer.
type Notice struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Conversation is one bound conversation: its container, connection, edit
// regions and attachment dialog.
type Conversation struct {
	id     string
	mode   Mode
	title  string
	target ModalTarget
	mgr    *Manager

	transport   *transport.Manager
	bus         *bus.Bus
	attachments *attachment.Pipeline

	mu        sync.Mutex
	retired   bool
	container *view.Container
	edits     *edit.Controller
	notices   []Notice
	watchers  []func(Change)
}

func (m *Manager) newConversation(studentID string, mode Mode, container *view.Container, title string) (*Conversation, error) {
	conv := &Conversation{
		id:        studentID,
		mode:      mode,
		title:     title,
		mgr:       m,
		bus:       bus.New(),
		container: container,
	}
	conv.edits = edit.NewController(container, conv.bus)
	conv.attachments = attachment.NewPipeline(m.deps.Backend, m.deps.Reveal, attachment.NotifierFunc(conv.notify),
		attachment.WithMaxBytes(m.cfg.MaxUploadBytes),
		attachment.WithLogger(m.logger),
	)

	tm, err := transport.NewManager(transport.Options{
		StudentID:     studentID,
		BaseURL:       m.cfg.BaseURL,
		FallbackPort:  m.cfg.FallbackPort,
		Kind:          string(mode),
		Header:        m.cfg.Header,
		Dialer:        m.deps.Dialer,
		HTTP:          m.deps.Backend,
		Logger:        m.logger,
		HTTPTimeout:   m.cfg.HTTPTimeout,
		OnStateChange: conv.stateChanged,
	}, conv.handleInbound)
	if err != nil {
		return nil, err
	}
	conv.transport = tm
	conv.bus.Subscribe(conv.forward)
	return conv, nil
}

// ID returns the student id.
func (c *Conversation) ID() string { return c.id }

// Mode returns the presentation mode.
func (c *Conversation) Mode() Mode { return c.mode }

// Title returns the heading shown above the conversation.
func (c *Conversation) Title() string { return c.title }

// Target returns the modal row the conversation was opened from.
func (c *Conversation) Target() ModalTarget { return c.target }

// State returns the connection state.
func (c *Conversation) State() transport.State { return c.transport.State() }

// Attachments returns the attachment dialog of this conversation.
func (c *Conversation) Attachments() *attachment.Pipeline { return c.attachments }

// Retired reports whether the conversation was closed or replaced.
func (c *Conversation) Retired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retired
}

// Watch registers fn for every applied inbound message.
func (c *Conversation) Watch(fn func(Change)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// retire nulls the conversation's claim on its container and closes the
// connection. Inbound still in flight is discarded.
func (c *Conversation) retire() {
	c.mu.Lock()
	c.retired = true
	c.watchers = nil
	c.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		c.mgr.logger.Debug("close transport", "student_id", c.id, "error", err)
	}
	c.bus.Close()
	c.attachments.Cancel()
}

func (c *Conversation) handleInbound(in models.Inbound) {
	c.mu.Lock()
	if c.retired {
		c.mu.Unlock()
		return
	}
	ctx := context.Background()
	r := c.mgr.deps.Renderer
	change := Change{Action: in.Action}

	switch in.Action {
	case models.ActionInit:
		r.ReplaceAll(ctx, c.container, in.Messages)
		for _, row := range c.container.Rows() {
			c.queueRead(row)
		}
		change.Rows = copyRows(c.container.Rows())
	case models.ActionNewMessage:
		if in.Message == nil {
			break
		}
		row, _ := r.Upsert(ctx, c.container, *in.Message)
		c.queueRead(row)
		change.Rows = []view.Row{*row}
	case models.ActionMessageUpdated:
		if in.Message == nil {
			break
		}
		if row, ok := r.UpdateMessage(ctx, c.container, *in.Message); ok {
			change.Rows = []view.Row{*row}
		}
	case models.ActionMessagesRead:
		r.UpdateReadStatus(c.container, in.MessageIDs, in.Readers)
		for _, id := range in.MessageIDs {
			if row, ok := c.container.Row(id); ok {
				change.Rows = append(change.Rows, *row)
			}
		}
	case models.ActionFeedbackUpdated:
	case models.ActionError:
		change.Reason = in.Reason
		c.mgr.logger.Warn("conversation server error", "student_id", c.id, "reason", in.Reason)
	default:
		c.mgr.logger.Debug("ignoring inbound action", "student_id", c.id, "action", in.Action)
	}
	watchers := append([]func(Change){}, c.watchers...)
	c.mu.Unlock()

	if c.mode == ModeModal {
		c.syncSummary(ctx, in)
	}
	for _, w := range watchers {
		w(change)
	}
}

// queueRead marks rows from other senders the viewer has not read yet.
func (c *Conversation) queueRead(row *view.Row) {
	if row == nil || row.Mine || row.ID == "" {
		return
	}
	for _, rd := range row.Message.ReadBy {
		if c.container.Viewer.Is(rd.User) {
			return
		}
	}
	c.mgr.batcher.MarkPendingRead(row.ID, c.id)
}

func (c *Conversation) syncSummary(ctx context.Context, in models.Inbound) {
	now := time.Now()
	var s models.StudentSummary
	switch in.Action {
	case models.ActionNewMessage, models.ActionMessageUpdated:
		if in.Message == nil {
			return
		}
		s = models.SummaryFromMessage(c.target.StudentID, *in.Message, now)
	case models.ActionFeedbackUpdated:
		if in.Feedback == "" && in.UpdatedByName == "" {
			return
		}
		s = models.SummaryFromFeedback(c.target.StudentID, in, now)
	default:
		return
	}
	if err := c.mgr.deps.Summaries.UpsertSummary(ctx, s); err != nil {
		c.mgr.logger.Error("summary sync failed", "student_id", s.StudentID, "error", err)
	}
}

// forward turns bus events into outbound protocol messages.
func (c *Conversation) forward(ev bus.Event) {
	ctx := context.Background()
	var out models.Outbound
	switch e := ev.(type) {
	case bus.EditRequested:
		if e.ConversationID != c.id {
			return
		}
		out = models.Outbound{Action: models.ActionEditMessage, MessageID: e.MessageID, NewText: e.NewText}
	case bus.ReadsMarked:
		if e.ConversationID != c.id {
			return
		}
		out = models.Outbound{Action: models.ActionMarkRead, MessageIDs: e.MessageIDs}
	default:
		return
	}
	if err := c.transport.Send(ctx, out); err != nil {
		c.mgr.logger.Info("outbound action not sent", "student_id", c.id, "action", out.Action, "error", err)
	}
}

func (c *Conversation) stateChanged(s transport.State) {
	if s != transport.StateDegraded {
		return
	}
	c.mgr.deps.Audit.Emit(context.Background(), "WARN", telemetry.EventDegraded, c.id,
		"live channel unavailable, using http", "", c.mgr.viewerLabel())
}

func (c *Conversation) notify(_ string, text string) {
	c.mu.Lock()
	c.notices = append(c.notices, Notice{Text: text, At: time.Now()})
	c.mu.Unlock()
	c.mgr.logger.Warn("attachment notice", "student_id", c.id, "text", text)
	c.mgr.deps.Audit.Emit(context.Background(), "WARN", telemetry.EventUploadRejected, c.id, text, "", c.mgr.viewerLabel())
}

// Send submits a text message. Rendering waits for the server echo.
func (c *Conversation) Send(ctx context.Context, text string, tags models.Hashtags, priority models.Priority) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if c.Retired() {
		return ErrRetired
	}
	return c.transport.Send(ctx, models.SendPayload(text, tags, priority))
}

// BeginEdit opens the edit region for one of the viewer's messages.
func (c *Conversation) BeginEdit(id models.MessageID) (view.Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return view.Row{}, ErrRetired
	}
	row, err := c.edits.BeginEdit(id)
	if err != nil {
		return view.Row{}, err
	}
	return *row, nil
}

// CancelEdit dismisses the edit region.
func (c *Conversation) CancelEdit(id models.MessageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return ErrRetired
	}
	return c.edits.CancelEdit(id)
}

// CommitEdit requests the edit; the row changes when the server confirms.
func (c *Conversation) CommitEdit(id models.MessageID, newText string) error {
	c.mu.Lock()
	if c.retired {
		c.mu.Unlock()
		return ErrRetired
	}
	err := c.edits.CommitEdit(id, newText, c.id)
	c.mu.Unlock()
	return err
}

// Reveal un-blurs a received image and remembers the choice.
func (c *Conversation) Reveal(ctx context.Context, id models.MessageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return ErrRetired
	}
	return c.mgr.deps.Renderer.Reveal(ctx, c.container, id)
}

// Menu returns the context menu and read receipts of a row.
func (c *Conversation) Menu(id models.MessageID) ([]view.MenuItem, []view.ReceiptLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return nil, nil, ErrRetired
	}
	row, ok := c.container.Row(id)
	if !ok {
		return nil, nil, view.ErrRowNotFound
	}
	return view.MenuFor(row), view.Info(row, c.container.Viewer, c.mgr.deps.Renderer.Location()), nil
}

// Snapshot returns the serializable view model.
func (c *Conversation) Snapshot() (view.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return view.Snapshot{}, ErrRetired
	}
	return c.container.Snapshot(), nil
}

// HTML renders the conversation with every value escaped.
func (c *Conversation) HTML() (string, error) {
	snap, err := c.Snapshot()
	if err != nil {
		return "", err
	}
	return view.RenderHTML(snap)
}

// Notices returns the notices raised so far.
func (c *Conversation) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notice(nil), c.notices...)
}

// IsNotFound reports errors that mean the addressed row or conversation is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, view.ErrRowNotFound) || errors.Is(err, ErrNotOpen)
}

func copyRows(rows []*view.Row) []view.Row {
	out := make([]view.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out
}

func readsMarked(conversationID string, ids []models.MessageID) bus.ReadsMarked {
	return bus.ReadsMarked{ConversationID: conversationID, MessageIDs: ids}
}
