package session

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"conversation-console/internal/api"
	"conversation-console/internal/mocks"
	"conversation-console/internal/models"
	"conversation-console/internal/repositories"
	"conversation-console/internal/telemetry"
	"conversation-console/internal/transport"
	"conversation-console/internal/view"
)

type fakeConn struct {
	inbox  chan models.Inbound
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []models.Outbound
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan models.Inbound, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	case in := <-c.inbox:
		*(v.(*models.Inbound)) = in
		return nil
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v.(models.Outbound))
	return nil
}

func (c *fakeConn) Ping() error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sent(action string) []models.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Outbound
	for _, o := range c.written {
		if o.Action == action {
			out = append(out, o)
		}
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, target string, _ http.Header) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[target]; ok {
		return c, nil
	}
	return nil, errors.New("refused")
}

type fakeBackend struct {
	history []models.Message
}

func (b *fakeBackend) FetchMessages(context.Context, string) ([]models.Message, error) {
	return b.history, nil
}

func (b *fakeBackend) SendMessage(_ context.Context, _ string, text string, _ models.Hashtags, _ models.Priority) (models.Message, error) {
	return models.Message{ID: "900", Sender: "Asha", Message: text, Type: models.MessageTypeText}, nil
}

func (b *fakeBackend) UploadFile(context.Context, api.Upload) (api.UploadResult, error) {
	return api.UploadResult{}, nil
}

func liveURL(id string) string {
	return "ws://crm.local:8000/ws/student/" + id + "/"
}

var t0 = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func msg(id, sender, text string) models.Message {
	return models.Message{
		ID:        models.MessageID(id),
		Sender:    sender,
		Message:   text,
		CreatedAt: models.Timestamp{Time: t0},
		Type:      models.MessageTypeText,
	}
}

func newTestManager(t *testing.T, dialer transport.Dialer, summaries repositories.SummaryRepository, audit *telemetry.AuditEmitter) *Manager {
	t.Helper()
	base, err := url.Parse("http://crm.local:8000")
	require.NoError(t, err)
	m, err := NewManager(Config{
		Viewer:       view.Viewer{Name: "Asha", Email: "asha@example.com"},
		BaseURL:      base,
		ReadDebounce: 20 * time.Millisecond,
	}, Deps{
		Dialer:    dialer,
		Backend:   &fakeBackend{history: []models.Message{msg("1", "Ravi", "from http")}},
		Renderer:  view.NewRenderer(nil, view.WithLocation(time.UTC)),
		Summaries: summaries,
		Audit:     audit,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestModalTarget_Title(t *testing.T) {
	assert.Equal(t, "Ravi Kumar - STU-7", ModalTarget{StudentID: "7", Name: "Ravi Kumar", Code: "STU-7"}.Title())
	assert.Equal(t, "Ravi Kumar - Student 7", ModalTarget{StudentID: "7", Name: "Ravi Kumar"}.Title())
	assert.Equal(t, "Student 7", ModalTarget{StudentID: "7"}.Title())
}

func TestOpenInline_OncePerStudent(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, &fakeDialer{conns: map[string]*fakeConn{liveURL("42"): conn}}, nil, nil)

	conv, err := m.OpenInline(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, transport.StateLive, conv.State())

	_, err = m.OpenInline(context.Background(), "42")
	assert.ErrorIs(t, err, ErrAlreadyOpen)
	_, err = m.OpenInline(context.Background(), "null")
	assert.ErrorIs(t, err, api.ErrInvalidStudent)
}

func TestInline_RenderSendEditAndBatchReads(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, &fakeDialer{conns: map[string]*fakeConn{liveURL("42"): conn}}, nil, nil)
	conv, err := m.OpenInline(context.Background(), "42")
	require.NoError(t, err)

	seen := make(chan Change, 8)
	conv.Watch(func(c Change) { seen <- c })

	conn.inbox <- models.Inbound{Action: models.ActionInit, Messages: []models.Message{
		msg("1", "Ravi", "hello"),
		msg("2", "Asha", "hi Ravi"),
	}}
	select {
	case c := <-seen:
		assert.Equal(t, models.ActionInit, c.Action)
		assert.Len(t, c.Rows, 2)
	case <-time.After(time.Second):
		t.Fatal("init not applied")
	}

	require.Eventually(t, func() bool { return len(conn.sent(models.ActionMarkRead)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []models.MessageID{"1"}, conn.sent(models.ActionMarkRead)[0].MessageIDs)

	require.NoError(t, conv.Send(context.Background(), " ping ", models.Hashtags{"payment"}, models.PriorityLow))
	sends := conn.sent(models.ActionSend)
	require.Len(t, sends, 1)
	assert.Equal(t, "ping", sends[0].Message)
	assert.Equal(t, "payment", sends[0].Hashtag)
	assert.ErrorIs(t, conv.Send(context.Background(), "  ", nil, ""), ErrEmptyMessage)

	_, err = conv.BeginEdit("2")
	require.NoError(t, err)
	require.NoError(t, conv.CommitEdit("2", "hi Ravi!"))
	edits := conn.sent(models.ActionEditMessage)
	require.Len(t, edits, 1)
	assert.Equal(t, models.MessageID("2"), edits[0].MessageID)

	snap, err := conv.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "hi Ravi", snap.Nodes[2].Row.Text)

	_, err = conv.BeginEdit("1")
	assert.Error(t, err)
}

func TestModal_RebindIgnoresRetiredConnection(t *testing.T) {
	connA := newFakeConn()
	connB := newFakeConn()
	m := newTestManager(t, &fakeDialer{conns: map[string]*fakeConn{
		liveURL("A"): connA,
		liveURL("B"): connB,
	}}, nil, nil)

	a, err := m.OpenModal(context.Background(), ModalTarget{StudentID: "A", Name: "Anu"})
	require.NoError(t, err)
	connA.inbox <- models.Inbound{Action: models.ActionInit, Messages: []models.Message{msg("1", "Anu", "from A")}}
	require.Eventually(t, func() bool {
		snap, _ := a.Snapshot()
		return len(snap.Nodes) == 2
	}, time.Second, 5*time.Millisecond)

	b, err := m.OpenModal(context.Background(), ModalTarget{StudentID: "B", Name: "Bala", Code: "C-9"})
	require.NoError(t, err)
	assert.True(t, connA.isClosed())
	assert.True(t, a.Retired())
	assert.Equal(t, "Bala - C-9", b.Title())

	connA.inbox <- models.Inbound{Action: models.ActionNewMessage, Message: ptr(msg("2", "Anu", "late from A"))}
	a.handleInbound(models.Inbound{Action: models.ActionNewMessage, Message: ptr(msg("3", "Anu", "later from A"))})
	require.Never(t, func() bool {
		snap, _ := b.Snapshot()
		return len(snap.Nodes) > 0
	}, 100*time.Millisecond, 5*time.Millisecond)

	snap, err := b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "B", snap.StudentID)
	assert.Empty(t, snap.LastDate)

	connB.inbox <- models.Inbound{Action: models.ActionInit, Messages: []models.Message{msg("10", "Bala", "from B")}}
	require.Eventually(t, func() bool {
		snap, _ := b.Snapshot()
		return len(snap.Nodes) == 2
	}, time.Second, 5*time.Millisecond)
	snap, err = b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "from B", snap.Nodes[1].Row.Text)

	_, err = a.Snapshot()
	assert.ErrorIs(t, err, ErrRetired)

	current, ok := m.Modal()
	require.True(t, ok)
	assert.Same(t, b, current)
}

func TestModal_SyncsSummaryRow(t *testing.T) {
	conn := newFakeConn()
	summaries := repositories.NewMemorySummaryRepo()
	m := newTestManager(t, &fakeDialer{conns: map[string]*fakeConn{liveURL("42"): conn}}, summaries, nil)
	_, err := m.OpenModal(context.Background(), ModalTarget{StudentID: "42"})
	require.NoError(t, err)

	conn.inbox <- models.Inbound{Action: models.ActionNewMessage, Message: ptr(msg("5", "Ravi", "Paid first installment"))}
	require.Eventually(t, func() bool {
		s, err := summaries.GetSummary(context.Background(), "42")
		return err == nil && s.Feedback == "Paid first installment" && s.UpdatedBy == "Ravi"
	}, time.Second, 5*time.Millisecond)

	conn.inbox <- models.Inbound{Action: models.ActionFeedbackUpdated, Feedback: "Joined batch", UpdatedByName: "Meera", UpdatedAt: "2024-05-11T10:00:00Z"}
	require.Eventually(t, func() bool {
		s, err := summaries.GetSummary(context.Background(), "42")
		return err == nil && s.Feedback == "Joined batch" && s.UpdatedBy == "Meera"
	}, time.Second, 5*time.Millisecond)
}

func TestModal_EmptyFeedbackLeavesSummary(t *testing.T) {
	conn := newFakeConn()
	summaries := repositories.NewMemorySummaryRepo()
	m := newTestManager(t, &fakeDialer{conns: map[string]*fakeConn{liveURL("42"): conn}}, summaries, nil)
	conv, err := m.OpenModal(context.Background(), ModalTarget{StudentID: "42"})
	require.NoError(t, err)

	applied := make(chan Change, 4)
	conv.Watch(func(c Change) { applied <- c })

	conn.inbox <- models.Inbound{Action: models.ActionFeedbackUpdated, Feedback: "Joined batch", UpdatedByName: "Meera", UpdatedAt: "2024-05-11T10:00:00Z"}
	conn.inbox <- models.Inbound{Action: models.ActionFeedbackUpdated}
	for i := 0; i < 2; i++ {
		select {
		case c := <-applied:
			assert.Equal(t, models.ActionFeedbackUpdated, c.Action)
		case <-time.After(time.Second):
			t.Fatal("feedback frame not applied")
		}
	}

	s, err := summaries.GetSummary(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Joined batch", s.Feedback)
	assert.Equal(t, "Meera", s.UpdatedBy)
}

func TestInline_EchoUpgradesOwnRowToRead(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, &fakeDialer{conns: map[string]*fakeConn{liveURL("42"): conn}}, nil, nil)
	conv, err := m.OpenInline(context.Background(), "42")
	require.NoError(t, err)

	applied := make(chan Change, 4)
	conv.Watch(func(c Change) { applied <- c })

	conn.inbox <- models.Inbound{Action: models.ActionNewMessage, Message: ptr(msg("8", "Asha", "see you at 5"))}
	echo := msg("8", "Asha", "see you at 5")
	echo.ReadBy = []models.ReadReceipt{{User: "Ravi"}}
	conn.inbox <- models.Inbound{Action: models.ActionNewMessage, Message: &echo}

	var last Change
	for i := 0; i < 2; i++ {
		select {
		case last = <-applied:
		case <-time.After(time.Second):
			t.Fatal("echo not applied")
		}
	}
	require.Len(t, last.Rows, 1)
	assert.Equal(t, view.ReceiptRead, last.Rows[0].Receipt)

	snap, err := conv.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 2)
	assert.Equal(t, view.ReceiptRead, snap.Nodes[1].Row.Receipt)
	assert.Empty(t, conn.sent(models.ActionMarkRead))
}

func TestModal_DegradedEmitsAudit(t *testing.T) {
	pub := mocks.NewAcceptingPublisher()
	audit := telemetry.NewAuditEmitter(pub, "audit.conversation", "conversation-console", "test", nil)
	m := newTestManager(t, &fakeDialer{}, nil, audit)

	conv, err := m.OpenModal(context.Background(), ModalTarget{StudentID: "42"})
	require.NoError(t, err)
	assert.Equal(t, transport.StateDegraded, conv.State())

	snap, err := conv.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 2)
	assert.Equal(t, "from http", snap.Nodes[1].Row.Text)

	require.NoError(t, conv.Send(context.Background(), "over http", nil, ""))
	snap, _ = conv.Snapshot()
	assert.Equal(t, "over http", snap.Nodes[len(snap.Nodes)-1].Row.Text)

	var events []string
	for _, ev := range pub.Events("audit.conversation") {
		env := ev.(telemetry.AuditEnvelope)
		assert.Equal(t, "42", env.Payload.StudentID)
		assert.Equal(t, "Asha", env.Viewer)
		events = append(events, env.Payload.Event)
	}
	assert.Equal(t, []string{telemetry.EventModalOpened, telemetry.EventDegraded}, events)
}

func TestCloseModal_AndClose(t *testing.T) {
	conn := newFakeConn()
	inlineConn := newFakeConn()
	m := newTestManager(t, &fakeDialer{conns: map[string]*fakeConn{
		liveURL("42"): conn,
		liveURL("7"):  inlineConn,
	}}, nil, nil)

	assert.ErrorIs(t, m.CloseModal(context.Background()), ErrNotOpen)
	_, err := m.OpenModal(context.Background(), ModalTarget{StudentID: "42"})
	require.NoError(t, err)
	require.NoError(t, m.CloseModal(context.Background()))
	assert.True(t, conn.isClosed())
	_, ok := m.Modal()
	assert.False(t, ok)

	_, err = m.OpenInline(context.Background(), "7")
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.True(t, inlineConn.isClosed())
	_, err = m.OpenInline(context.Background(), "8")
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestFlushReads_DropsUnboundConversation(t *testing.T) {
	m := newTestManager(t, &fakeDialer{}, nil, nil)
	assert.NotPanics(t, func() {
		m.flushReads("nobody", []models.MessageID{"1"})
	})
}

func ptr(m models.Message) *models.Message { return &m }

type mockBackend struct {
	*mocks.HTTPFallbackMock
	*mocks.UploaderMock
}

func TestModal_DegradedSendSyncsSummaryThroughRepository(t *testing.T) {
	httpMock := &mocks.HTTPFallbackMock{}
	httpMock.On("FetchMessages", mock.Anything, "42").Return([]models.Message(nil), nil).Once()
	httpMock.On("SendMessage", mock.Anything, "42", "Joined batch", models.Hashtags{"class"}, models.PriorityMedium).
		Return(msg("77", "Asha", "Joined batch"), nil).Once()

	summaries := &mocks.SummaryRepositoryMock{}
	summaries.On("UpsertSummary", mock.Anything, mock.MatchedBy(func(s models.StudentSummary) bool {
		return s.StudentID == "42" && s.Feedback == "Joined batch" && s.UpdatedBy == "Asha"
	})).Return(errors.New("db down")).Once()

	base, err := url.Parse("https://crm.local")
	require.NoError(t, err)
	m, err := NewManager(Config{Viewer: view.Viewer{Name: "Asha"}, BaseURL: base}, Deps{
		Dialer:    &fakeDialer{},
		Backend:   mockBackend{HTTPFallbackMock: httpMock, UploaderMock: &mocks.UploaderMock{}},
		Summaries: summaries,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	conv, err := m.OpenModal(context.Background(), ModalTarget{StudentID: "42"})
	require.NoError(t, err)
	require.Equal(t, transport.StateDegraded, conv.State())

	require.NoError(t, conv.Send(context.Background(), "Joined batch", models.Hashtags{"class"}, models.PriorityMedium))

	snap, err := conv.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 2)
	assert.True(t, snap.Nodes[1].Row.Mine)
	httpMock.AssertExpectations(t)
	summaries.AssertExpectations(t)
}
