// Package api is the HTTP client for the back office conversation endpoints
// used when the live channel is unavailable and for attachment uploads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"conversation-console/internal/models"
	"conversation-console/internal/observability"
)

const (
	DefaultTimeout = 15 * time.Second

	CSRFHeader       = "X-CSRFToken"
	SessionCookie    = "sessionid"
	CSRFCookie       = "csrftoken"
	maxResponseBytes = 4 << 20
)

var (
	ErrInvalidStudent = errors.New("invalid student conversation id")
	ErrSendRejected   = errors.New("send rejected")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.Code)
}

// Config holds the connection settings for the back office.
type Config struct {
	BaseURL       string
	SessionCookie string
	CSRFToken     string
	Timeout       time.Duration
}

// Client calls the per-conversation HTTP endpoints.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	session    string
	csrf       string
	logger     *slog.Logger
}

// NewClient validates cfg and builds a Client. A nil httpClient gets one
// with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url %q: missing host", cfg.BaseURL)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:       base,
		httpClient: httpClient,
		session:    cfg.SessionCookie,
		csrf:       cfg.CSRFToken,
		logger:     logger,
	}, nil
}

// BaseURL returns a copy of the page origin the client talks to.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// SessionCookie returns the session cookie value, for the live channel handshake.
func (c *Client) SessionCookie() string {
	return c.session
}

// Headers returns the auth headers to present on the live channel handshake.
func (c *Client) Headers() http.Header {
	h := http.Header{}
	c.authorize(h, false)
	return h
}

// ConversationPath returns the endpoint path for a student conversation.
func ConversationPath(studentID, endpoint string) string {
	return "/students/conversation/" + url.PathEscape(studentID) + "/" + endpoint + "/"
}

// ValidStudentID rejects the empty, "null" and "undefined" ids a stale
// selection can leave behind.
func ValidStudentID(id string) bool {
	v := strings.ToLower(strings.TrimSpace(id))
	return v != "" && v != "null" && v != "undefined"
}

type messagesResponse struct {
	Messages []models.Message `json:"messages"`
}

// FetchMessages loads the conversation history.
func (c *Client) FetchMessages(ctx context.Context, studentID string) ([]models.Message, error) {
	if !ValidStudentID(studentID) {
		return nil, ErrInvalidStudent
	}
	ctx, span := otel.Tracer("conversation-console/api").Start(ctx, "api.fetch_messages")
	defer span.End()
	span.SetAttributes(attribute.String("student.id", studentID))

	req, err := c.newRequest(ctx, http.MethodGet, ConversationPath(studentID, "messages"), nil)
	if err != nil {
		return nil, err
	}
	var out messagesResponse
	if err := c.do(req, "messages", &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out.Messages, nil
}

type sendResponse struct {
	OK      bool            `json:"ok"`
	Message *models.Message `json:"message"`
	Reason  string          `json:"reason"`
}

// SendMessage posts a message as form fields. The created message is
// returned on success.
func (c *Client) SendMessage(ctx context.Context, studentID, text string, tags models.Hashtags, priority models.Priority) (models.Message, error) {
	if !ValidStudentID(studentID) {
		return models.Message{}, ErrInvalidStudent
	}
	ctx, span := otel.Tracer("conversation-console/api").Start(ctx, "api.send_message")
	defer span.End()
	span.SetAttributes(attribute.String("student.id", studentID))

	form := url.Values{}
	form.Set("message", text)
	if len(tags) > 0 {
		form.Set("hashtag", tags.String())
	}
	if priority != "" {
		form.Set("priority", string(priority))
	}

	req, err := c.newRequest(ctx, http.MethodPost, ConversationPath(studentID, "send"), strings.NewReader(form.Encode()))
	if err != nil {
		return models.Message{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out sendResponse
	if err := c.do(req, "send", &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.Message{}, err
	}
	if !out.OK || out.Message == nil {
		err := ErrSendRejected
		if out.Reason != "" {
			err = fmt.Errorf("%w: %s", ErrSendRejected, out.Reason)
		}
		span.SetStatus(codes.Error, err.Error())
		return models.Message{}, err
	}
	return *out.Message, nil
}

// Upload is one multipart attachment submission.
type Upload struct {
	StudentID string
	FileName  string
	MIME      string
	Content   io.Reader
	Caption   string
	Hashtag   models.Hashtags
	Priority  models.Priority
}

// UploadResult is the back office verdict. OK is nil when the flag is absent.
type UploadResult struct {
	OK     *bool            `json:"ok"`
	Reason string           `json:"reason"`
	ID     models.MessageID `json:"id"`
}

// Rejected reports an explicit failure flag.
func (r UploadResult) Rejected() bool {
	return r.OK != nil && !*r.OK
}

// UploadFile submits an attachment with its caption, tags and priority.
func (c *Client) UploadFile(ctx context.Context, up Upload) (UploadResult, error) {
	if !ValidStudentID(up.StudentID) {
		return UploadResult{}, ErrInvalidStudent
	}
	ctx, span := otel.Tracer("conversation-console/api").Start(ctx, "api.upload")
	defer span.End()
	span.SetAttributes(
		attribute.String("student.id", up.StudentID),
		attribute.String("file.name", up.FileName),
	)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := writeFilePart(mw, up); err != nil {
		return UploadResult{}, fmt.Errorf("build upload: %w", err)
	}
	_ = mw.WriteField("message", up.Caption)
	if len(up.Hashtag) > 0 {
		_ = mw.WriteField("hashtag", up.Hashtag.String())
	}
	if up.Priority != "" {
		_ = mw.WriteField("priority", string(up.Priority))
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("build upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, ConversationPath(up.StudentID, "upload"), &body)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResult
	if err := c.do(req, "upload", &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return UploadResult{}, err
	}
	return out, nil
}

func writeFilePart(mw *multipart.Writer, up Upload) error {
	if up.Content == nil {
		return errors.New("missing file content")
	}
	name := up.FileName
	if name == "" {
		name = "file"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	ct := up.MIME
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, up.Content)
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req.Header, method != http.MethodGet)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func (c *Client) authorize(h http.Header, withCSRF bool) {
	var cookies []string
	if c.session != "" {
		cookies = append(cookies, (&http.Cookie{Name: SessionCookie, Value: c.session}).String())
	}
	if c.csrf != "" {
		cookies = append(cookies, (&http.Cookie{Name: CSRFCookie, Value: c.csrf}).String())
		if withCSRF {
			h.Set(CSRFHeader, c.csrf)
		}
	}
	if len(cookies) > 0 {
		h.Set("Cookie", strings.Join(cookies, "; "))
	}
}

type verdict interface {
	explicitFailure() bool
}

func (r *sendResponse) explicitFailure() bool { return !r.OK && r.Reason != "" }

func (r *UploadResult) explicitFailure() bool { return r.Rejected() }

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.IncCollaboratorRequest(endpoint, 0)
		c.logger.Warn("back office request failed", "endpoint", endpoint, "error", err)
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()
	observability.IncCollaboratorRequest(endpoint, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s read: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Verdicts with an explicit failure flag are passed through.
		if v, ok := out.(verdict); ok && json.Unmarshal(data, out) == nil && v.explicitFailure() {
			return nil
		}
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s decode: %w", endpoint, err)
	}
	return nil
}
