package view

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-console/internal/models"
	"conversation-console/internal/reveal"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestRenderer(store reveal.Store) *Renderer {
	return NewRenderer(store, WithLocation(time.UTC), WithClock(func() time.Time { return testNow }))
}

func msgAt(id, sender string, at time.Time) models.Message {
	return models.Message{
		ID:        models.MessageID(id),
		Sender:    sender,
		Message:   "hello " + id,
		CreatedAt: models.Timestamp{Time: at},
		Type:      models.MessageTypeText,
	}
}

func TestRender_DateSeparators(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha"})
	ctx := context.Background()

	r.Render(ctx, c, msgAt("1", "Ravi", testNow.AddDate(0, 0, -3)))
	r.Render(ctx, c, msgAt("2", "Ravi", testNow.AddDate(0, 0, -1)))
	r.Render(ctx, c, msgAt("3", "Ravi", testNow.Add(-time.Hour)))
	r.Render(ctx, c, msgAt("4", "Asha", testNow))

	nodes := c.Nodes()
	require.Len(t, nodes, 7)
	assert.Equal(t, "7 May 2024", nodes[0].Date)
	assert.Equal(t, "Yesterday", nodes[2].Date)
	assert.Equal(t, "Today", nodes[4].Date)
	assert.Equal(t, NodeMessage, nodes[6].Kind)
	assert.Equal(t, "2024-05-10", c.LastDate())
}

func TestRender_OwnershipAndBadges(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha", Email: "asha@example.com"})
	msg := msgAt("1", "asha@example.com", testNow)
	msg.SenderRole = "Counsellor"
	msg.Hashtag = models.Hashtags{models.TagImportant, "visa"}
	msg.Priority = models.PriorityMedium

	row := r.Render(context.Background(), c, msg)

	assert.True(t, row.Mine)
	assert.Equal(t, "asha@example.com - Counsellor", row.NameLine)
	assert.Equal(t, "A", row.Avatar)
	assert.Equal(t, []Badge{{Text: "#Important", Class: "bg-danger"}, {Text: "#visa", Class: "bg-secondary"}}, row.Tags)
	require.NotNil(t, row.Priority)
	assert.Equal(t, "!Medium", row.Priority.Text)
	assert.Equal(t, ReceiptDelivered, row.Receipt)
	assert.Equal(t, "12:00", row.Time)
}

func TestRender_DefaultSender(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha"})
	row := r.Render(context.Background(), c, msgAt("1", "", testNow))

	assert.False(t, row.Mine)
	assert.Equal(t, "System", row.NameLine)
	assert.Equal(t, "S", row.Avatar)
	assert.Equal(t, ReceiptNone, row.Receipt)
}

func TestUpdateMessage_SingleEditedMarker(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha"})
	ctx := context.Background()
	msg := msgAt("9", "Asha", testNow)
	r.Render(ctx, c, msg)
	row, _ := c.Row("9")
	row.Edit = &EditRegion{Draft: "draft"}

	msg.Message = "fixed"
	msg.IsEdited = true
	for i := 0; i < 3; i++ {
		_, ok := r.UpdateMessage(ctx, c, msg)
		require.True(t, ok)
	}

	row, _ = c.Row("9")
	assert.Nil(t, row.Edit)
	assert.Equal(t, "fixed", row.Text)
	out, err := c.HTML()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "(edited)"))
	assert.Equal(t, 2, c.Len())
}

func TestUpdateMessage_MissingRowIsNoop(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha"})
	_, ok := r.UpdateMessage(context.Background(), c, msgAt("404", "Asha", testNow))
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestUpsert_ReplacesExistingRow(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha"})
	ctx := context.Background()

	_, appended := r.Upsert(ctx, c, msgAt("1", "Ravi", testNow))
	assert.True(t, appended)
	_, appended = r.Upsert(ctx, c, msgAt("1", "Ravi", testNow))
	assert.False(t, appended)
	assert.Len(t, c.Rows(), 1)
}

func TestUpdateReadStatus_UpgradesOwnRows(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha"})
	ctx := context.Background()
	r.Render(ctx, c, msgAt("1", "Asha", testNow))
	r.Render(ctx, c, msgAt("2", "Ravi", testNow))

	selfRead := []models.ReadReceipt{{User: "Asha"}}
	assert.Zero(t, r.UpdateReadStatus(c, []models.MessageID{"1"}, selfRead))

	readers := []models.ReadReceipt{{User: "Ravi", ReadAt: models.Timestamp{Time: testNow}}}
	n := r.UpdateReadStatus(c, []models.MessageID{"1", "2", "missing"}, readers)
	assert.Equal(t, 1, n)

	own, _ := c.Row("1")
	assert.Equal(t, ReceiptRead, own.Receipt)
	assert.Len(t, own.Message.ReadBy, 2)

	r.UpdateReadStatus(c, []models.MessageID{"1"}, readers)
	assert.Len(t, own.Message.ReadBy, 2)

	out, err := c.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, "fa-check-double")
}

func TestReveal_PersistsAcrossRenders(t *testing.T) {
	store := reveal.NewMemoryStore()
	r := newTestRenderer(store)
	c := NewContainer("42", Viewer{Name: "Asha"})
	ctx := context.Background()

	img := msgAt("77", "Ravi", testNow)
	img.Type = models.MessageTypeFile
	img.FileURL = "/media/a.png"
	img.FileName = "a.png"
	img.FileMIME = "image/png"
	img.FileSize = 2048

	row := r.Render(ctx, c, img)
	require.NotNil(t, row.Attachment)
	assert.Equal(t, AttachmentBlurred, row.Attachment.Kind)
	assert.Equal(t, "2.0 KB", row.Attachment.SizeLabel)

	require.NoError(t, r.Reveal(ctx, c, "77"))
	assert.Equal(t, AttachmentImage, row.Attachment.Kind)

	fresh := NewContainer("42", Viewer{Name: "Asha"})
	again := r.Render(ctx, fresh, img)
	assert.Equal(t, AttachmentImage, again.Attachment.Kind)

	assert.ErrorIs(t, r.Reveal(ctx, c, "missing"), ErrRowNotFound)
}

func TestRender_OwnImageNeverBlurred(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha"})
	img := msgAt("5", "Asha", testNow)
	img.Type = models.MessageTypeFile
	img.FileURL = "/media/b.jpg"
	img.FileMIME = "image/jpeg"
	img.Message = ""

	row := r.Render(context.Background(), c, img)
	assert.Equal(t, AttachmentImage, row.Attachment.Kind)
	assert.False(t, row.ShowText)

	img.ID = "6"
	img.Message = "fee receipt"
	captioned := r.Render(context.Background(), c, img)
	assert.True(t, captioned.ShowText)
}

func TestHTML_EscapesContent(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha"})
	msg := msgAt("1", `<b>"Ravi"</b>`, testNow)
	msg.Message = `<script>alert('x')</script> & more`

	r.Render(context.Background(), c, msg)
	out, err := c.HTML()
	require.NoError(t, err)

	assert.NotContains(t, out, "<script>")
	assert.NotContains(t, out, "<b>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "&amp; more")
	assert.Contains(t, out, "&#39;x&#39;")
}

func TestReset_ClearsCursorAndViewer(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha"})
	r.Render(context.Background(), c, msgAt("1", "Asha", testNow))

	c.Reset("43", Viewer{Name: "Ravi"})
	assert.Zero(t, c.Len())
	assert.Empty(t, c.LastDate())
	assert.Equal(t, "43", c.StudentID)
	_, ok := c.Row("1")
	assert.False(t, ok)
}

func TestMenuAndInfo(t *testing.T) {
	r := newTestRenderer(nil)
	viewer := Viewer{Name: "Asha"}
	c := NewContainer("42", viewer)
	ctx := context.Background()

	own := r.Render(ctx, c, msgAt("1", "Asha", testNow))
	other := r.Render(ctx, c, msgAt("2", "Ravi", testNow))
	file := msgAt("3", "Asha", testNow)
	file.Type = models.MessageTypeFile
	file.FileURL = "/media/c.pdf"
	ownFile := r.Render(ctx, c, file)

	assert.Equal(t, []MenuItem{MenuInfo, MenuEdit}, MenuFor(own))
	assert.Equal(t, []MenuItem{MenuInfo}, MenuFor(other))
	assert.Equal(t, []MenuItem{MenuInfo}, MenuFor(ownFile))

	r.UpdateReadStatus(c, []models.MessageID{"1"}, []models.ReadReceipt{
		{User: "Asha", ReadAt: models.Timestamp{Time: testNow}},
		{User: "Ravi", ReadAt: models.Timestamp{Time: testNow}},
	})
	lines := Info(own, viewer, time.UTC)
	require.Len(t, lines, 1)
	assert.Equal(t, ReceiptLine{User: "Ravi", ReadAt: "10 May 2024, 12:00"}, lines[0])
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "512 B", FileSize(512))
	assert.Equal(t, "1.5 KB", FileSize(1536))
	assert.Equal(t, "10.0 MB", FileSize(10*1024*1024))
	assert.Equal(t, "?", AvatarText("  "))
	assert.Equal(t, "R", AvatarText("9ravi"))
}

func TestUpdateMessage_KeepsReadersAndReadMark(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha"})
	ctx := context.Background()
	r.Render(ctx, c, msgAt("9", "Asha", testNow))
	r.UpdateReadStatus(c, []models.MessageID{"9"}, []models.ReadReceipt{{User: "Ravi"}})

	edited := msgAt("9", "Asha", testNow)
	edited.Message = "hello (fixed)"
	edited.IsEdited = true
	row, ok := r.UpdateMessage(ctx, c, edited)
	require.True(t, ok)

	assert.Equal(t, ReceiptRead, row.Receipt)
	require.Len(t, row.Message.ReadBy, 1)
	assert.Equal(t, "Ravi", row.Message.ReadBy[0].User)
	assert.Equal(t, "hello (fixed)", row.Text)
	assert.Empty(t, edited.ReadBy)
}

func TestUpsert_EchoUpgradesOwnRowToRead(t *testing.T) {
	r := newTestRenderer(nil)
	c := NewContainer("42", Viewer{Name: "Asha"})
	ctx := context.Background()
	row, appended := r.Upsert(ctx, c, msgAt("3", "Asha", testNow))
	require.True(t, appended)
	assert.Equal(t, ReceiptDelivered, row.Receipt)

	echo := msgAt("3", "Asha", testNow)
	echo.ReadBy = []models.ReadReceipt{{User: "Asha"}, {User: "Meera"}}
	row, appended = r.Upsert(ctx, c, echo)
	assert.False(t, appended)
	assert.Equal(t, ReceiptRead, row.Receipt)
	assert.Len(t, c.Rows(), 1)

	out, err := c.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, "fa-check-double")
}
