// Package session coordinates conversations for the inline and modal
// presentations.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"conversation-console/internal/api"
	"conversation-console/internal/attachment"
	"conversation-console/internal/models"
	"conversation-console/internal/observability"
	"conversation-console/internal/receipts"
	"conversation-console/internal/repositories"
	"conversation-console/internal/reveal"
	"conversation-console/internal/telemetry"
	"conversation-console/internal/transport"
	"conversation-console/internal/view"
)

var (
	ErrAlreadyOpen   = errors.New("conversation already open")
	ErrNotOpen       = errors.New("conversation not open")
	ErrRetired       = errors.New("conversation was replaced")
	ErrManagerClosed = errors.New("session manager closed")
	ErrEmptyMessage  = errors.New("message is empty")
)

// Mode is the presentation of a conversation.
type Mode string

const (
	ModeInline Mode = "inline"
	ModeModal  Mode = "modal"
)

// Backend is the back office HTTP surface a conversation needs.
type Backend interface {
	transport.HTTPFallback
	attachment.Uploader
}

// Config holds the viewer context and connection settings.
type Config struct {
	Viewer         view.Viewer
	BaseURL        *url.URL
	FallbackPort   string
	Header         http.Header
	ReadDebounce   time.Duration
	MaxUploadBytes int64
	HTTPTimeout    time.Duration
}

// Deps are the collaborators shared by every conversation.
type Deps struct {
	Dialer    transport.Dialer
	Backend   Backend
	Renderer  *view.Renderer
	Reveal    reveal.Store
	Summaries repositories.SummaryRepository
	Audit     *telemetry.AuditEmitter
	Logger    *slog.Logger
}

// ModalTarget is the table row a modal is opened from.
type ModalTarget struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
}

// Title renders the modal heading.
func (t ModalTarget) Title() string {
	name := strings.TrimSpace(t.Name)
	code := strings.TrimSpace(t.Code)
	switch {
	case name != "" && code != "":
		return name + " - " + code
	case name != "":
		return name + " - Student " + t.StudentID
	}
	return "Student " + t.StudentID
}

// Manager owns the inline conversations, the modal slot and the shared
// read-receipt batcher.
type Manager struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	batcher *receipts.Batcher

	mu             sync.Mutex
	inline         map[string]*Conversation
	modal          *Conversation
	modalContainer *view.Container
	closed         bool
}

// NewManager validates cfg and deps.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if cfg.BaseURL == nil {
		return nil, errors.New("session: base url is required")
	}
	if deps.Dialer == nil {
		return nil, errors.New("session: dialer is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if deps.Reveal == nil {
		deps.Reveal = reveal.NewMemoryStore()
	}
	if deps.Renderer == nil {
		deps.Renderer = view.NewRenderer(deps.Reveal)
	}
	if deps.Summaries == nil {
		deps.Summaries = repositories.NewMemorySummaryRepo()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	m := &Manager{
		cfg:            cfg,
		deps:           deps,
		logger:         deps.Logger,
		inline:         make(map[string]*Conversation),
		modalContainer: view.NewContainer("", cfg.Viewer),
	}
	m.batcher = receipts.NewBatcher(cfg.ReadDebounce, m.flushReads, deps.Logger)
	return m, nil
}

// Viewer returns the configured viewer.
func (m *Manager) Viewer() view.Viewer {
	return m.cfg.Viewer
}

// Summaries returns the summary row store.
func (m *Manager) Summaries() repositories.SummaryRepository {
	return m.deps.Summaries
}

// OpenInline starts the embedded conversation for studentID. Each id is
// opened at most once.
func (m *Manager) OpenInline(ctx context.Context, studentID string) (*Conversation, error) {
	if !api.ValidStudentID(studentID) {
		return nil, api.ErrInvalidStudent
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if _, ok := m.inline[studentID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("inline %s: %w", studentID, ErrAlreadyOpen)
	}
	conv, err := m.newConversation(studentID, ModeInline, view.NewContainer(studentID, m.cfg.Viewer), "Student "+studentID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.inline[studentID] = conv
	m.mu.Unlock()

	observability.IncActiveConversation(string(ModeInline))
	m.deps.Audit.Emit(ctx, "INFO", telemetry.EventInlineOpened, studentID, "inline conversation opened", requestID(ctx), m.viewerLabel())
	if err := conv.transport.Connect(ctx); err != nil {
		return nil, err
	}
	return conv, nil
}

// OpenModal binds the modal slot to target. Any previous modal conversation
// is retired and its connection closed before the shared container is reset.
func (m *Manager) OpenModal(ctx context.Context, target ModalTarget) (*Conversation, error) {
	if !api.ValidStudentID(target.StudentID) {
		return nil, api.ErrInvalidStudent
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	prev := m.modal
	m.modal = nil
	if prev != nil {
		prev.retire()
	}
	m.modalContainer.Reset(target.StudentID, m.cfg.Viewer)
	conv, err := m.newConversation(target.StudentID, ModeModal, m.modalContainer, target.Title())
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	conv.target = target
	m.modal = conv
	m.mu.Unlock()

	if prev != nil {
		observability.DecActiveConversation(string(ModeModal))
		m.deps.Audit.Emit(ctx, "INFO", telemetry.EventModalClosed, prev.id, "modal rebound", requestID(ctx), m.viewerLabel())
	}
	observability.IncActiveConversation(string(ModeModal))
	m.deps.Audit.Emit(ctx, "INFO", telemetry.EventModalOpened, target.StudentID, "modal opened", requestID(ctx), m.viewerLabel())
	if err := conv.transport.Connect(ctx); err != nil {
		return nil, err
	}
	return conv, nil
}

// CloseModal tears down the modal conversation and clears the shared container.
func (m *Manager) CloseModal(ctx context.Context) error {
	m.mu.Lock()
	conv := m.modal
	m.modal = nil
	if conv == nil {
		m.mu.Unlock()
		return ErrNotOpen
	}
	conv.retire()
	m.modalContainer.Reset("", m.cfg.Viewer)
	m.mu.Unlock()

	observability.DecActiveConversation(string(ModeModal))
	m.deps.Audit.Emit(ctx, "INFO", telemetry.EventModalClosed, conv.id, "modal closed", requestID(ctx), m.viewerLabel())
	return nil
}

// Modal returns the bound modal conversation.
func (m *Manager) Modal() (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modal, m.modal != nil
}

// Inline returns the inline conversation for studentID.
func (m *Manager) Inline(studentID string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.inline[studentID]
	return conv, ok
}

// Close retires every conversation and stops the batcher.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	convs := make([]*Conversation, 0, len(m.inline)+1)
	for _, c := range m.inline {
		convs = append(convs, c)
	}
	if m.modal != nil {
		convs = append(convs, m.modal)
	}
	m.inline = make(map[string]*Conversation)
	m.modal = nil
	for _, c := range convs {
		c.retire()
		observability.DecActiveConversation(string(c.mode))
	}
	m.modalContainer.Reset("", m.cfg.Viewer)
	m.mu.Unlock()

	m.batcher.Stop()
	return nil
}

// flushReads routes one batch to the conversation currently bound to the
// id; batches for ids nothing is bound to are dropped.
func (m *Manager) flushReads(conversationID string, ids []models.MessageID) {
	m.mu.Lock()
	var conv *Conversation
	if m.modal != nil && m.modal.id == conversationID {
		conv = m.modal
	} else if c, ok := m.inline[conversationID]; ok {
		conv = c
	}
	m.mu.Unlock()

	if conv == nil {
		m.logger.Debug("dropping read batch for unbound conversation", "student_id", conversationID, "count", len(ids))
		return
	}
	observability.IncReadBatch()
	conv.bus.Publish(readsMarked(conversationID, ids))
}

func (m *Manager) viewerLabel() string {
	if m.cfg.Viewer.Name != "" {
		return m.cfg.Viewer.Name
	}
	return m.cfg.Viewer.Email
}

type requestIDKey struct{}

// WithRequestID tags ctx so audit records carry the caller's request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}
