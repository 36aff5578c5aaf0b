package view

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"conversation-console/internal/models"
	"conversation-console/internal/reveal"
)

// ErrRowNotFound is returned when an operation targets a message that is not rendered.
var ErrRowNotFound = errors.New("message row not found")

// Renderer turns message records into container rows.
type Renderer struct {
	reveal reveal.Store
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLocation sets the zone used for date separators and time labels.
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithClock overrides the clock used for Today/Yesterday labels.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger for reveal store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRenderer builds a Renderer backed by the given reveal store.
func NewRenderer(store reveal.Store, opts ...Option) *Renderer {
	if store == nil {
		store = reveal.NewMemoryStore()
	}
	r := &Renderer{
		reveal: store,
		loc:    time.Local,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Location returns the zone the renderer formats times in.
func (r *Renderer) Location() *time.Location {
	return r.loc
}

// Render appends msg to c, inserting a date separator first when msg starts
// a new calendar day.
func (r *Renderer) Render(ctx context.Context, c *Container, msg models.Message) *Row {
	at := r.localTime(msg.CreatedAt.Time)
	if key := DateKey(at); key != c.lastDate {
		c.appendDate(key, DateLabel(at, r.now()))
	}
	row := r.buildRow(ctx, c.Viewer, msg)
	c.appendRow(row)
	return row
}

// ReplaceAll clears c and renders msgs in order, as an init frame requires.
func (r *Renderer) ReplaceAll(ctx context.Context, c *Container, msgs []models.Message) {
	c.Clear()
	for _, m := range msgs {
		r.Render(ctx, c, m)
	}
}

// Upsert replaces the row with msg's id when it is already rendered and
// appends otherwise. The bool reports whether a row was appended.
func (r *Renderer) Upsert(ctx context.Context, c *Container, msg models.Message) (*Row, bool) {
	if _, ok := c.Row(msg.ID); ok {
		row, _ := r.UpdateMessage(ctx, c, msg)
		return row, false
	}
	return r.Render(ctx, c, msg), true
}

// UpdateMessage re-renders the row with msg's id in place. It is a no-op
// when the row no longer exists. Any open edit region is dismissed.
func (r *Renderer) UpdateMessage(ctx context.Context, c *Container, msg models.Message) (*Row, bool) {
	if msg.ID == "" {
		return nil, false
	}
	n, ok := c.rows[msg.ID]
	if !ok {
		return nil, false
	}
	// Readers seen so far survive the rebuild and a read mark is never lowered.
	if n.Row != nil {
		msg.ReadBy = append([]models.ReadReceipt{}, msg.ReadBy...)
		msg.AddReaders(n.Row.Message.ReadBy)
	}
	prev := n.Row
	n.Row = r.buildRow(ctx, c.Viewer, msg)
	if prev != nil && prev.Receipt == ReceiptRead && n.Row.Mine {
		n.Row.Receipt = ReceiptRead
	}
	return n.Row, true
}

// UpdateReadStatus upgrades the delivered mark of the viewer's own rows to a
// read mark and records the readers. Unknown ids are skipped. It returns the
// number of rows upgraded.
func (r *Renderer) UpdateReadStatus(c *Container, ids []models.MessageID, readers []models.ReadReceipt) int {
	upgraded := 0
	for _, id := range ids {
		row, ok := c.Row(id)
		if !ok {
			continue
		}
		row.Message.AddReaders(readers)
		if row.Mine && row.Receipt == ReceiptDelivered && readByOthers(c.Viewer, row.Message.ReadBy) {
			row.Receipt = ReceiptRead
			upgraded++
		}
	}
	return upgraded
}

// Reveal un-blurs a received image and persists the decision.
func (r *Renderer) Reveal(ctx context.Context, c *Container, id models.MessageID) error {
	row, ok := c.Row(id)
	if !ok {
		return ErrRowNotFound
	}
	if err := r.reveal.MarkRevealed(ctx, id); err != nil {
		return err
	}
	if row.Attachment != nil && row.Attachment.Kind == AttachmentBlurred {
		row.Attachment.Kind = AttachmentImage
	}
	return nil
}

func (r *Renderer) buildRow(ctx context.Context, viewer Viewer, msg models.Message) *Row {
	sender := msg.Sender
	if sender == "" {
		sender = "System"
	}
	mine := viewer.Is(sender)
	nameLine := sender
	if msg.SenderRole != "" {
		nameLine = sender + " - " + msg.SenderRole
	}

	row := &Row{
		ID:       msg.ID,
		Mine:     mine,
		NameLine: nameLine,
		Avatar:   AvatarText(sender),
		Tags:     TagBadges(msg.Hashtag),
		Priority: PriorityBadge(msg.Priority),
		Text:     msg.Message,
		ShowText: true,
		Edited:   msg.IsEdited,
		Time:     TimeLabel(r.localTime(msg.CreatedAt.Time)),
		Message:  msg,
	}

	if msg.IsFile() {
		row.Attachment = r.attachment(ctx, msg, mine)
		row.ShowText = msg.Message != ""
	}

	if mine {
		row.Receipt = ReceiptDelivered
		if readByOthers(viewer, msg.ReadBy) {
			row.Receipt = ReceiptRead
		}
	}
	return row
}

func (r *Renderer) attachment(ctx context.Context, msg models.Message, mine bool) *Attachment {
	name := msg.FileName
	if name == "" {
		name = "File"
	}
	a := &Attachment{
		Kind:      AttachmentFile,
		URL:       msg.FileURL,
		Name:      name,
		SizeLabel: FileSize(msg.FileSize),
	}
	if !msg.IsImage() {
		return a
	}
	a.Kind = AttachmentImage
	if mine {
		return a
	}
	revealed, err := r.reveal.IsRevealed(ctx, msg.ID)
	if err != nil {
		r.logger.Warn("reveal lookup failed", "message_id", msg.ID, "error", err)
	}
	if !revealed {
		a.Kind = AttachmentBlurred
	}
	return a
}

func (r *Renderer) localTime(t time.Time) time.Time {
	if t.IsZero() {
		t = r.now()
	}
	return t.In(r.loc)
}

func readByOthers(viewer Viewer, readers []models.ReadReceipt) bool {
	for _, rd := range readers {
		if rd.User != "" && !viewer.Is(rd.User) {
			return true
		}
	}
	return false
}
