// Package transport keeps one conversation's connection to the back office:
// the live channel, a single fallback host, then degraded HTTP mode.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"conversation-console/internal/models"
	"conversation-console/internal/observability"
)

// State is the connection state of a Manager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateLive
	StateFallbackConnecting
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateFallbackConnecting:
		return "fallback_connecting"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const DefaultFallbackPort = "8000"

var (
	ErrClosed         = errors.New("transport closed")
	ErrNotConnected   = errors.New("transport not connected")
	ErrNotInDegraded  = errors.New("action unavailable in degraded mode")
	ErrAlreadyStarted = errors.New("transport already started")
)

// HTTPFallback is the back office HTTP surface used in degraded mode.
type HTTPFallback interface {
	FetchMessages(ctx context.Context, studentID string) ([]models.Message, error)
	SendMessage(ctx context.Context, studentID, text string, tags models.Hashtags, priority models.Priority) (models.Message, error)
}

// Handler receives inbound messages in arrival order.
type Handler func(models.Inbound)

// Options configures a Manager.
type Options struct {
	StudentID    string
	BaseURL      *url.URL
	FallbackPort string
	Kind         string
	Header       http.Header
	Dialer       Dialer
	HTTP         HTTPFallback
	Logger       *slog.Logger
	DialTimeout  time.Duration
	PingPeriod   time.Duration
	HTTPTimeout  time.Duration

	// OnStateChange is called after every transition, outside internal locks.
	OnStateChange func(State)
}

// Manager owns the connection of one conversation. A Manager is started
// once; Close is terminal.
type Manager struct {
	opts    Options
	handler Handler
	logger  *slog.Logger

	mu            sync.Mutex
	state         State
	conn          Conn
	connDone      chan struct{}
	info          ConnInfo
	fallbackTried bool

	writeMu sync.Mutex

	// deliverMu orders handler calls against Close.
	deliverMu sync.RWMutex
	closed    bool
}

// NewManager validates opts and builds an idle Manager.
func NewManager(opts Options, handler Handler) (*Manager, error) {
	if opts.StudentID == "" {
		return nil, errors.New("transport: student id is required")
	}
	if opts.BaseURL == nil || opts.BaseURL.Host == "" {
		return nil, errors.New("transport: base url is required")
	}
	if opts.Dialer == nil {
		return nil, errors.New("transport: dialer is required")
	}
	if opts.FallbackPort == "" {
		opts.FallbackPort = DefaultFallbackPort
	}
	if opts.Kind == "" {
		opts.Kind = "inline"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = pingPeriod
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = func(models.Inbound) {}
	}
	return &Manager{
		opts:    opts,
		handler: handler,
		logger:  logger.With("student_id", opts.StudentID, "kind", opts.Kind),
		state:   StateIdle,
	}, nil
}

// LiveURL maps the page origin to the live channel address on host.
func LiveURL(base *url.URL, host, studentID string) string {
	scheme := "ws"
	if base.Scheme == "https" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: "/ws/student/" + studentID + "/"}
	return u.String()
}

// FallbackEligible reports whether a fallback host exists for base: the
// primary port must be explicit and differ from the fallback port.
func FallbackEligible(base *url.URL, fallbackPort string) bool {
	port := base.Port()
	return port != "" && port != fallbackPort
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns the current live connection description.
func (m *Manager) Info() ConnInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Connect dials the primary host. Failures fall through to the fallback host
// and then to degraded mode, so Connect only errors when the Manager was
// already started or closed.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	case StateIdle:
	default:
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.state = StateConnecting
	m.mu.Unlock()
	m.notifyState(StateConnecting)

	primary := LiveURL(m.opts.BaseURL, m.opts.BaseURL.Host, m.opts.StudentID)
	if err := m.dial(ctx, primary, false); err != nil {
		m.logger.Warn("live channel dial failed", "url", primary, "error", err)
		m.recover(ctx)
	}
	return nil
}

// recover applies the failure rule: one fallback attempt when eligible,
// degraded mode otherwise.
func (m *Manager) recover(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	tryFallback := !m.fallbackTried && FallbackEligible(m.opts.BaseURL, m.opts.FallbackPort)
	if tryFallback {
		m.fallbackTried = true
	}
	m.mu.Unlock()

	if tryFallback {
		m.setState(StateFallbackConnecting)
		host := net.JoinHostPort(m.opts.BaseURL.Hostname(), m.opts.FallbackPort)
		fallback := LiveURL(m.opts.BaseURL, host, m.opts.StudentID)
		err := m.dial(ctx, fallback, true)
		if err == nil {
			return
		}
		m.logger.Warn("fallback dial failed", "url", fallback, "error", err)
	}
	m.enterDegraded(ctx)
}

func (m *Manager) dial(ctx context.Context, target string, fallback bool) error {
	ctx, span := otel.Tracer("conversation-console/transport").Start(ctx, "transport.dial")
	defer span.End()
	span.SetAttributes(
		attribute.String("student.id", m.opts.StudentID),
		attribute.String("ws.url", target),
		attribute.Bool("ws.fallback", fallback),
	)

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()
	conn, err := m.opts.Dialer.Dial(dialCtx, target, m.opts.Header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		StudentID:   m.opts.StudentID,
		Kind:        m.opts.Kind,
		URL:         target,
		Fallback:    fallback,
		ConnectedAt: time.Now(),
	}
	done := make(chan struct{})

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	m.conn = conn
	m.connDone = done
	m.info = info
	m.mu.Unlock()

	m.setState(StateLive)
	m.publishEvent(ctx, "ws_connect", info, "")
	m.logger.Info("live channel connected", "url", target, "conn_id", info.ConnID, "fallback", fallback)

	go m.readLoop(conn, done, info)
	go m.keepalive(conn, done)
	return nil
}

func (m *Manager) readLoop(conn Conn, done chan struct{}, info ConnInfo) {
	for {
		var in models.Inbound
		err := conn.ReadJSON(&in)
		if err != nil {
			var fe *FrameError
			if errors.As(err, &fe) {
				m.logger.Warn("dropping unreadable frame", "error", err)
				continue
			}
			m.connectionLost(conn, done, info, err)
			return
		}
		observability.IncInbound(in.Action)
		m.deliver(conn, in)
	}
}

func (m *Manager) keepalive(conn Conn, done chan struct{}) {
	ticker := time.NewTicker(m.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.Ping()
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// connectionLost retires conn and applies the failure rule, unless conn was
// already replaced or the Manager closed.
func (m *Manager) connectionLost(conn Conn, done chan struct{}, info ConnInfo, cause error) {
	m.mu.Lock()
	if m.conn != conn || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.connDone = nil
	m.mu.Unlock()
	close(done)
	_ = conn.Close()

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if isNormalClose(cause) {
		m.logger.Info("live channel closed", "conn_id", info.ConnID)
	} else {
		m.logger.Warn("live channel dropped", "conn_id", info.ConnID, "error", cause)
	}
	m.publishEvent(context.Background(), "ws_disconnect", info, reason)
	m.recover(context.Background())
}

func (m *Manager) enterDegraded(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.setState(StateDegraded)
	m.publishEvent(ctx, "degraded", ConnInfo{StudentID: m.opts.StudentID, Kind: m.opts.Kind}, "")

	if m.opts.HTTP == nil {
		m.logger.Warn("degraded mode without http fallback")
		return
	}
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.HTTPTimeout)
	defer cancel()
	msgs, err := m.opts.HTTP.FetchMessages(fetchCtx, m.opts.StudentID)
	if err != nil {
		m.logger.Error("degraded history load failed", "error", err)
		return
	}
	m.deliver(nil, models.Inbound{Action: models.ActionInit, Messages: msgs})
}

// Send writes an outbound action. In degraded mode, and while a dial is in
// progress, only send is supported; it goes over HTTP and the created message
// is delivered as new_message.
func (m *Manager) Send(ctx context.Context, out models.Outbound) error {
	m.mu.Lock()
	state, conn := m.state, m.conn
	m.mu.Unlock()

	switch state {
	case StateClosed:
		return ErrClosed
	case StateLive:
		m.writeMu.Lock()
		err := conn.WriteJSON(out)
		m.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("write %s: %w", out.Action, err)
		}
		observability.IncOutbound(out.Action, "live")
		return nil
	case StateDegraded:
		return m.sendDegraded(ctx, out)
	case StateConnecting, StateFallbackConnecting:
		// A typed message is not held back while the socket is still opening.
		if out.Action == models.ActionSend && m.opts.HTTP != nil {
			return m.sendDegraded(ctx, out)
		}
	}
	return ErrNotConnected
}

func (m *Manager) sendDegraded(ctx context.Context, out models.Outbound) error {
	if out.Action != models.ActionSend {
		m.logger.Info("dropping action in degraded mode", "action", out.Action)
		return fmt.Errorf("%s: %w", out.Action, ErrNotInDegraded)
	}
	if m.opts.HTTP == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.HTTPTimeout)
	defer cancel()
	msg, err := m.opts.HTTP.SendMessage(ctx, m.opts.StudentID, out.Message, models.ParseHashtags(out.Hashtag), models.Priority(out.Priority))
	if err != nil {
		return err
	}
	observability.IncOutbound(out.Action, "http")
	m.deliver(nil, models.Inbound{Action: models.ActionNewMessage, Message: &msg})
	return nil
}

// deliver hands in to the handler unless the Manager is closed or, for live
// frames, conn has been retired.
func (m *Manager) deliver(conn Conn, in models.Inbound) {
	m.deliverMu.RLock()
	defer m.deliverMu.RUnlock()
	if m.closed {
		return
	}
	if conn != nil {
		m.mu.Lock()
		current := m.conn == conn
		m.mu.Unlock()
		if !current {
			return
		}
	}
	m.handler(in)
}

// Close stops the read loop and keepalive and closes the connection. No
// handler call starts after Close returns. Close must not be called from the
// handler.
func (m *Manager) Close() error {
	m.deliverMu.Lock()
	if m.closed {
		m.deliverMu.Unlock()
		return nil
	}
	m.closed = true
	m.deliverMu.Unlock()

	m.mu.Lock()
	conn, done, info := m.conn, m.connDone, m.info
	m.conn = nil
	m.connDone = nil
	m.state = StateClosed
	m.mu.Unlock()

	m.notifyState(StateClosed)
	if conn == nil {
		return nil
	}
	close(done)
	m.publishEvent(context.Background(), "ws_disconnect", info, "closed")
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.Close()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()
	m.notifyState(s)
}

func (m *Manager) notifyState(s State) {
	observability.IncTransportState(s.String())
	m.logger.Debug("transport state", "state", s.String())
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(s)
	}
}

func (m *Manager) publishEvent(ctx context.Context, name string, info ConnInfo, reason string) {
	durationMS := int64(0)
	if !info.ConnectedAt.IsZero() {
		durationMS = time.Since(info.ConnectedAt).Milliseconds()
	}
	ev := observability.NewTransportEvent(name, map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        info.Kind,
			"student_id":  m.opts.StudentID,
			"event":       name,
			"conn_id":     info.ConnID,
			"url":         info.URL,
			"fallback":    info.Fallback,
			"duration_ms": durationMS,
			"reason":      reason,
		},
	})
	_ = observability.PublishEvent(ctx, observability.TransportEventsKey, ev, observability.HeadersFromContext(ctx))
}
