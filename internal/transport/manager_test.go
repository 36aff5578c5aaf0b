package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-console/internal/models"
)

type fakeConn struct {
	inbox  chan any
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []models.Outbound
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan any, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	case item := <-c.inbox:
		switch x := item.(type) {
		case error:
			return x
		case models.Inbound:
			*(v.(*models.Inbound)) = x
		}
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

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) sent() []models.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Outbound(nil), c.written...)
}

type fakeDialer struct {
	mu     sync.Mutex
	conns  map[string]*fakeConn
	dialed []string
}

func (d *fakeDialer) Dial(_ context.Context, target string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, target)
	if c, ok := d.conns[target]; ok {
		return c, nil
	}
	return nil, errors.New("connection refused")
}

func (d *fakeDialer) urls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

type fakeHTTP struct {
	mu      sync.Mutex
	history []models.Message
	sent    []string
}

func (f *fakeHTTP) FetchMessages(context.Context, string) ([]models.Message, error) {
	return f.history, nil
}

func (f *fakeHTTP) SendMessage(_ context.Context, _ string, text string, _ models.Hashtags, _ models.Priority) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return models.Message{ID: "100", Sender: "Asha", Message: text}, nil
}

type inboxRecorder struct {
	mu  sync.Mutex
	got []models.Inbound
}

func (r *inboxRecorder) handle(in models.Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, in)
}

func (r *inboxRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, in := range r.got {
		out = append(out, in.Action)
	}
	return out
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newManager(t *testing.T, base string, d Dialer, h HTTPFallback, rec *inboxRecorder) *Manager {
	t.Helper()
	m, err := NewManager(Options{StudentID: "42", BaseURL: mustURL(t, base), Dialer: d, HTTP: h}, rec.handle)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestLiveURL(t *testing.T) {
	assert.Equal(t, "ws://crm.local:8080/ws/student/42/", LiveURL(mustURL(t, "http://crm.local:8080"), "crm.local:8080", "42"))
	assert.Equal(t, "wss://crm.local/ws/student/42/", LiveURL(mustURL(t, "https://crm.local"), "crm.local", "42"))
}

func TestFallbackEligible(t *testing.T) {
	assert.True(t, FallbackEligible(mustURL(t, "http://crm.local:8080"), "8000"))
	assert.False(t, FallbackEligible(mustURL(t, "http://crm.local:8000"), "8000"))
	assert.False(t, FallbackEligible(mustURL(t, "https://crm.local"), "8000"))
}

func TestConnect_LiveDeliversInOrder(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: map[string]*fakeConn{"ws://crm.local:8080/ws/student/42/": conn}}
	rec := &inboxRecorder{}
	m := newManager(t, "http://crm.local:8080", d, nil, rec)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateLive, m.State())
	assert.False(t, m.Info().Fallback)

	conn.inbox <- models.Inbound{Action: models.ActionInit}
	conn.inbox <- &FrameError{Err: errors.New("bad json")}
	conn.inbox <- models.Inbound{Action: models.ActionNewMessage, Message: &models.Message{ID: "1"}}
	require.Eventually(t, func() bool { return len(rec.actions()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"init", "new_message"}, rec.actions())

	require.NoError(t, m.Send(context.Background(), models.Outbound{Action: models.ActionMarkRead, MessageIDs: []models.MessageID{"1"}}))
	assert.Equal(t, models.ActionMarkRead, conn.sent()[0].Action)

	assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyStarted)
}

func TestConnect_FallbackHostOnce(t *testing.T) {
	fallback := newFakeConn()
	d := &fakeDialer{conns: map[string]*fakeConn{"ws://crm.local:8000/ws/student/42/": fallback}}
	rec := &inboxRecorder{}
	m := newManager(t, "http://crm.local:8080", d, &fakeHTTP{}, rec)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateLive, m.State())
	assert.True(t, m.Info().Fallback)
	assert.Equal(t, []string{
		"ws://crm.local:8080/ws/student/42/",
		"ws://crm.local:8000/ws/student/42/",
	}, d.urls())

	fallback.inbox <- errors.New("connection reset")
	require.Eventually(t, func() bool { return m.State() == StateDegraded }, time.Second, 5*time.Millisecond)
	assert.Len(t, d.urls(), 2)
}

func TestConnect_DegradedWhenPortIsFallback(t *testing.T) {
	d := &fakeDialer{}
	h := &fakeHTTP{history: []models.Message{{ID: "1"}, {ID: "2"}}}
	rec := &inboxRecorder{}
	var states []State
	var mu sync.Mutex
	m, err := NewManager(Options{
		StudentID: "42",
		BaseURL:   mustURL(t, "http://crm.local:8000"),
		Dialer:    d,
		HTTP:      h,
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	}, rec.handle)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateDegraded, m.State())
	assert.Len(t, d.urls(), 1)
	assert.Equal(t, []string{"init"}, rec.actions())
	assert.Len(t, rec.got[0].Messages, 2)

	require.NoError(t, m.Send(context.Background(), models.SendPayload("hi", nil, "")))
	assert.Equal(t, []string{"init", "new_message"}, rec.actions())
	assert.Equal(t, []string{"hi"}, h.sent)

	err = m.Send(context.Background(), models.Outbound{Action: models.ActionEditMessage, MessageID: "1", NewText: "x"})
	assert.ErrorIs(t, err, ErrNotInDegraded)

	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateDegraded}, states)
	mu.Unlock()
}

func TestLiveDrop_TriesFallback(t *testing.T) {
	primary := newFakeConn()
	fallback := newFakeConn()
	d := &fakeDialer{conns: map[string]*fakeConn{
		"ws://crm.local:8080/ws/student/42/": primary,
		"ws://crm.local:8000/ws/student/42/": fallback,
	}}
	rec := &inboxRecorder{}
	m := newManager(t, "http://crm.local:8080", d, &fakeHTTP{}, rec)

	require.NoError(t, m.Connect(context.Background()))
	primary.inbox <- errors.New("eof")

	require.Eventually(t, func() bool { return m.Info().Fallback && m.State() == StateLive }, time.Second, 5*time.Millisecond)
	assert.True(t, primary.isClosed())

	fallback.inbox <- models.Inbound{Action: models.ActionInit}
	require.Eventually(t, func() bool { return len(rec.actions()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestClose_StopsDelivery(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: map[string]*fakeConn{"ws://crm.local:8080/ws/student/42/": conn}}
	rec := &inboxRecorder{}
	m := newManager(t, "http://crm.local:8080", d, nil, rec)
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Close())
	assert.True(t, conn.isClosed())
	assert.Equal(t, StateClosed, m.State())

	select {
	case conn.inbox <- models.Inbound{Action: models.ActionNewMessage}:
	default:
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.actions())

	assert.ErrorIs(t, m.Send(context.Background(), models.SendPayload("x", nil, "")), ErrClosed)
	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)
	assert.NoError(t, m.Close())
}

func TestSend_BeforeConnect(t *testing.T) {
	rec := &inboxRecorder{}
	m := newManager(t, "http://crm.local:8080", &fakeDialer{}, nil, rec)
	assert.ErrorIs(t, m.Send(context.Background(), models.SendPayload("x", nil, "")), ErrNotConnected)
}

type gateDialer struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *gateDialer) Dial(ctx context.Context, _ string, _ http.Header) (Conn, error) {
	d.once.Do(func() { close(d.entered) })
	select {
	case <-d.release:
	case <-ctx.Done():
	}
	return nil, errors.New("connection refused")
}

func TestSend_WhileConnectingUsesHTTP(t *testing.T) {
	d := &gateDialer{entered: make(chan struct{}), release: make(chan struct{})}
	h := &fakeHTTP{}
	rec := &inboxRecorder{}
	m := newManager(t, "http://crm.local:8080", d, h, rec)

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background()) }()
	<-d.entered
	require.Equal(t, StateConnecting, m.State())

	require.NoError(t, m.Send(context.Background(), models.SendPayload("on my way", nil, "")))
	assert.Equal(t, []string{"on my way"}, h.sent)
	assert.Equal(t, []string{"new_message"}, rec.actions())

	err := m.Send(context.Background(), models.Outbound{Action: models.ActionMarkRead, MessageIDs: []models.MessageID{"1"}})
	assert.ErrorIs(t, err, ErrNotConnected)

	close(d.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateDegraded, m.State())
}
