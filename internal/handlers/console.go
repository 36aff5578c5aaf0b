package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"conversation-console/internal/api"
	"conversation-console/internal/attachment"
	"conversation-console/internal/edit"
	"conversation-console/internal/models"
	"conversation-console/internal/repositories"
	"conversation-console/internal/session"
	"conversation-console/internal/transport"
	"conversation-console/internal/view"
)

const previewWait = 2 * time.Second

// ConsoleHandler exposes the session manager over HTTP.
type ConsoleHandler struct {
	sessions *session.Manager
	maxBytes int64
	logger   *slog.Logger
}

// NewConsoleHandler builds a ConsoleHandler. maxBytes bounds how much of an
// uploaded file is buffered before the attachment dialog rejects it.
func NewConsoleHandler(sessions *session.Manager, maxBytes int64, logger *slog.Logger) *ConsoleHandler {
	if maxBytes <= 0 {
		maxBytes = attachment.MaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleHandler{sessions: sessions, maxBytes: maxBytes, logger: logger}
}

// Register wires the conversation routes onto r.
func (h *ConsoleHandler) Register(r gin.IRouter) {
	conv := r.Group("/conversations/:student_id")
	conv.POST("", h.OpenInline)
	conv.GET("", h.GetConversation)
	conv.GET("/notices", h.ListNotices)
	conv.POST("/messages", h.SendMessage)
	conv.GET("/messages/:message_id/menu", h.MessageMenu)
	conv.POST("/messages/:message_id/edit", h.BeginEdit)
	conv.POST("/messages/:message_id/cancel-edit", h.CancelEdit)
	conv.POST("/messages/:message_id/commit-edit", h.CommitEdit)
	conv.POST("/messages/:message_id/reveal", h.Reveal)
	conv.POST("/attachments", h.SelectAttachment)
	conv.PATCH("/attachments", h.UpdateAttachment)
	conv.DELETE("/attachments", h.CancelAttachment)
	conv.POST("/attachments/confirm", h.ConfirmAttachment)

	r.POST("/modal", h.OpenModal)
	r.GET("/modal", h.GetModal)
	r.DELETE("/modal", h.CloseModal)

	r.GET("/summaries/:student_id", h.GetSummary)
}

type conversationResponse struct {
	StudentID   string            `json:"student_id"`
	Mode        session.Mode      `json:"mode"`
	Title       string            `json:"title"`
	State       string            `json:"state"`
	View        view.Snapshot     `json:"view"`
	Attachments attachment.Status `json:"attachments"`
}

// OpenInline starts the embedded conversation for a student.
func (h *ConsoleHandler) OpenInline(c *gin.Context) {
	conv, err := h.sessions.OpenInline(requestContext(c), c.Param("student_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondConversation(c, http.StatusCreated, conv)
}

// GetConversation returns the view model, or the rendered markup with ?format=html.
func (h *ConsoleHandler) GetConversation(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	if c.Query("format") == "html" {
		markup, err := conv.HTML()
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(markup))
		return
	}
	h.respondConversation(c, http.StatusOK, conv)
}

// ListNotices returns blocking notices raised for the conversation.
func (h *ConsoleHandler) ListNotices(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"notices": conv.Notices()})
}

type sendRequest struct {
	Message  string `json:"message"`
	Hashtag  string `json:"hashtag"`
	Priority string `json:"priority"`
}

// SendMessage submits a text message. The row appears once the server echoes it.
func (h *ConsoleHandler) SendMessage(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	err := conv.Send(requestContext(c), req.Message, models.ParseHashtags(req.Hashtag), models.Priority(strings.TrimSpace(req.Priority)))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// MessageMenu returns the context menu and read receipts of one row.
func (h *ConsoleHandler) MessageMenu(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	items, receipts, err := conv.Menu(messageID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "read_by": receipts})
}

// BeginEdit opens the edit region of one of the viewer's messages.
func (h *ConsoleHandler) BeginEdit(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	row, err := conv.BeginEdit(messageID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"row": row})
}

// CancelEdit dismisses the edit region.
func (h *ConsoleHandler) CancelEdit(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := conv.CancelEdit(messageID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type commitEditRequest struct {
	NewText string `json:"new_text"`
}

// CommitEdit requests the edit; the stored text changes when the server confirms.
func (h *ConsoleHandler) CommitEdit(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	var req commitEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := conv.CommitEdit(messageID(c), req.NewText); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
}

// Reveal un-blurs a received image.
func (h *ConsoleHandler) Reveal(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := conv.Reveal(c.Request.Context(), messageID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SelectAttachment reads the multipart "file" field into the attachment dialog.
func (h *ConsoleHandler) SelectAttachment(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is unreadable"})
		return
	}
	defer src.Close()

	// One byte past the limit is enough for the dialog to refuse the file.
	data, err := io.ReadAll(io.LimitReader(src, h.maxBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is unreadable"})
		return
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}

	pipeline := conv.Attachments()
	if err := pipeline.Select(conv.ID(), attachment.File{Name: header.Filename, MIME: mime, Data: data}); err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), previewWait)
	defer cancel()
	if _, err := pipeline.WaitPreview(ctx); err != nil {
		h.logger.Debug("preview not ready", "student_id", conv.ID(), "error", err)
	}
	c.JSON(http.StatusOK, pipeline.Status())
}

type updateAttachmentRequest struct {
	Caption       *string `json:"caption"`
	ToggleHashtag string  `json:"toggle_hashtag"`
	Priority      *string `json:"priority"`
}

// UpdateAttachment edits the caption, hashtags or priority of the selection.
func (h *ConsoleHandler) UpdateAttachment(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	var req updateAttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	pipeline := conv.Attachments()
	if req.Caption != nil {
		if err := pipeline.SetCaption(*req.Caption); err != nil {
			h.fail(c, err)
			return
		}
	}
	if req.ToggleHashtag != "" {
		if err := pipeline.ToggleHashtag(req.ToggleHashtag); err != nil {
			h.fail(c, err)
			return
		}
	}
	if req.Priority != nil {
		if err := pipeline.SetPriority(models.Priority(strings.TrimSpace(*req.Priority))); err != nil {
			h.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, pipeline.Status())
}

// CancelAttachment closes the dialog without uploading.
func (h *ConsoleHandler) CancelAttachment(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	conv.Attachments().Cancel()
	c.Status(http.StatusNoContent)
}

// ConfirmAttachment uploads the selection.
func (h *ConsoleHandler) ConfirmAttachment(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	id, err := conv.Attachments().Confirm(requestContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": id})
}

// OpenModal binds the modal to the posted student row.
func (h *ConsoleHandler) OpenModal(c *gin.Context) {
	var target session.ModalTarget
	if err := c.ShouldBindJSON(&target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	conv, err := h.sessions.OpenModal(requestContext(c), target)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondConversation(c, http.StatusCreated, conv)
}

// GetModal returns the conversation bound to the modal.
func (h *ConsoleHandler) GetModal(c *gin.Context) {
	conv, ok := h.sessions.Modal()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "modal not open"})
		return
	}
	h.respondConversation(c, http.StatusOK, conv)
}

// CloseModal tears down the modal conversation.
func (h *ConsoleHandler) CloseModal(c *gin.Context) {
	if err := h.sessions.CloseModal(requestContext(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSummary returns the feedback row kept in sync by the modal.
func (h *ConsoleHandler) GetSummary(c *gin.Context) {
	s, err := h.sessions.Summaries().GetSummary(c.Request.Context(), c.Param("student_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":          s,
		"feedback_label":   s.FeedbackLabel(),
		"updated_by_label": s.UpdatedByLabel(),
		"updated_at_label": s.UpdatedAtLabel(nil),
	})
}

// lookup resolves the inline conversation for the route, then the modal
// when it is bound to the same student.
func (h *ConsoleHandler) lookup(c *gin.Context) (*session.Conversation, bool) {
	id := c.Param("student_id")
	if conv, ok := h.sessions.Inline(id); ok {
		return conv, true
	}
	if conv, ok := h.sessions.Modal(); ok && conv.ID() == id {
		return conv, true
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "conversation not open"})
	return nil, false
}

func (h *ConsoleHandler) respondConversation(c *gin.Context, status int, conv *session.Conversation) {
	snap, err := conv.Snapshot()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, conversationResponse{
		StudentID:   conv.ID(),
		Mode:        conv.Mode(),
		Title:       conv.Title(),
		State:       conv.State().String(),
		View:        snap,
		Attachments: conv.Attachments().Status(),
	})
}

func (h *ConsoleHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("console request failed", "path", c.FullPath(), "error", err, "request_id", requestIDFromContext(c))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var statusErr *api.StatusError
	switch {
	case errors.Is(err, api.ErrInvalidStudent),
		errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, edit.ErrEmptyText),
		errors.Is(err, attachment.ErrNoTarget),
		errors.Is(err, attachment.ErrTooLarge),
		errors.Is(err, attachment.ErrEmptyFile):
		return http.StatusBadRequest
	case session.IsNotFound(err),
		errors.Is(err, repositories.ErrSummaryNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyOpen),
		errors.Is(err, session.ErrRetired),
		errors.Is(err, session.ErrManagerClosed),
		errors.Is(err, edit.ErrNotEditable),
		errors.Is(err, edit.ErrNotEditing),
		errors.Is(err, attachment.ErrNoSelection),
		errors.Is(err, transport.ErrNotConnected),
		errors.Is(err, transport.ErrNotInDegraded),
		errors.Is(err, transport.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, attachment.ErrRejected),
		errors.Is(err, api.ErrSendRejected),
		errors.As(err, &statusErr):
		return http.StatusBadGateway
	}
	// Anything else came from the back office round trip.
	return http.StatusBadGateway
}

func messageID(c *gin.Context) models.MessageID {
	return models.MessageID(c.Param("message_id"))
}
