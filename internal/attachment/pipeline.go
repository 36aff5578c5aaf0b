// Package attachment validates, previews and uploads one file attachment at
// a time for a conversation.
package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"sync"

	"conversation-console/internal/api"
	"conversation-console/internal/models"
	"conversation-console/internal/observability"
	"conversation-console/internal/reveal"
	"conversation-console/internal/view"
)

// MaxBytes is the upload ceiling.
const MaxBytes = 10 << 20

const (
	NoticeUploadFailed  = "Upload failed"
	NoticeUploadError   = "Upload error"
	NoticeInvalidTarget = "Invalid student conversation ID. Please select a conversation again."
	NoticeEmptyFile     = "File is empty."
)

var (
	ErrNoTarget    = errors.New("no conversation targeted")
	ErrTooLarge    = errors.New("file exceeds upload limit")
	ErrNoSelection = errors.New("no file selected")
	ErrRejected    = errors.New("upload rejected")
	ErrEmptyFile   = errors.New("file is empty")
)

// State is the pipeline state.
type State string

const (
	StateIdle       State = "idle"
	StateSelected   State = "selected"
	StatePreviewing State = "previewing"
	StateUploading  State = "uploading"
)

// File is a selected local file.
type File struct {
	Name string
	MIME string
	Data []byte
}

// Size returns the file length in bytes.
func (f File) Size() int64 { return int64(len(f.Data)) }

// IsImage reports an image MIME type.
func (f File) IsImage() bool { return strings.HasPrefix(f.MIME, "image/") }

// Preview is what the confirmation dialog shows.
type Preview struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	SizeLabel string `json:"size_label"`
	DataURL   string `json:"data_url,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Uploader submits the multipart upload.
type Uploader interface {
	UploadFile(ctx context.Context, up api.Upload) (api.UploadResult, error)
}

// Notifier shows a blocking notice to the user of a conversation.
type Notifier interface {
	Notify(conversationID, text string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(conversationID, text string)

func (f NotifierFunc) Notify(conversationID, text string) { f(conversationID, text) }

// Status is a point-in-time view of the pipeline.
type Status struct {
	State    State           `json:"state"`
	Target   string          `json:"target,omitempty"`
	Caption  string          `json:"caption"`
	Hashtag  models.Hashtags `json:"hashtag"`
	Priority models.Priority `json:"priority"`
	Preview  *Preview        `json:"preview,omitempty"`
}

// Pipeline holds the selection state. It is safe for concurrent use.
type Pipeline struct {
	uploader Uploader
	reveal   reveal.Store
	notifier Notifier
	maxBytes int64
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	target   string
	file     *File
	caption  string
	tags     models.Hashtags
	priority models.Priority
	preview  *Preview
	ready    chan struct{}
	gen      uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxBytes overrides the upload ceiling.
func WithMaxBytes(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline builds an idle pipeline.
func NewPipeline(uploader Uploader, store reveal.Store, notifier Notifier, opts ...Option) *Pipeline {
	if notifier == nil {
		notifier = NotifierFunc(func(string, string) {})
	}
	p := &Pipeline{
		uploader: uploader,
		reveal:   store,
		notifier: notifier,
		maxBytes: MaxBytes,
		logger:   slog.Default(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Select starts a new selection for conversationID and begins decoding the
// preview in the background. Invalid targets and empty or oversized files are
// refused with a notice and leave the pipeline idle. A selection made while
// an earlier upload is in flight does not wait for it.
func (p *Pipeline) Select(conversationID string, f File) error {
	if !api.ValidStudentID(conversationID) {
		p.notifier.Notify(conversationID, NoticeInvalidTarget)
		p.reset()
		return ErrNoTarget
	}
	if f.Size() > p.maxBytes {
		observability.IncUpload("too_large")
		p.notifier.Notify(conversationID, fmt.Sprintf("File is too large. Maximum size is %s.", view.FileSize(p.maxBytes)))
		p.reset()
		return fmt.Errorf("%s (%s): %w", f.Name, view.FileSize(f.Size()), ErrTooLarge)
	}
	if f.Size() == 0 {
		p.notifier.Notify(conversationID, NoticeEmptyFile)
		p.reset()
		return fmt.Errorf("%s: %w", f.Name, ErrEmptyFile)
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	file := f
	p.state = StateSelected
	p.target = conversationID
	p.file = &file
	p.caption = ""
	p.tags = nil
	p.priority = ""
	p.preview = nil
	ready := make(chan struct{})
	p.ready = ready
	p.mu.Unlock()

	go p.decode(gen, file, ready)
	return nil
}

func (p *Pipeline) decode(gen uint64, f File, ready chan struct{}) {
	defer close(ready)
	pv := buildPreview(f)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.state != StateSelected {
		return
	}
	p.preview = &pv
	p.state = StatePreviewing
}

func buildPreview(f File) Preview {
	pv := Preview{Kind: "file", Name: f.Name, SizeLabel: view.FileSize(f.Size())}
	if !f.IsImage() {
		return pv
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return pv
	}
	pv.Kind = "image"
	pv.Width = cfg.Width
	pv.Height = cfg.Height
	pv.DataURL = "data:" + f.MIME + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
	return pv
}

// WaitPreview blocks until the current selection's preview is decoded.
func (p *Pipeline) WaitPreview(ctx context.Context) (Preview, error) {
	p.mu.Lock()
	ready := p.ready
	p.mu.Unlock()
	if ready == nil {
		return Preview{}, ErrNoSelection
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return Preview{}, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.preview == nil {
		return Preview{}, ErrNoSelection
	}
	return *p.preview, nil
}

// SetCaption sets the caption sent with the file.
func (p *Pipeline) SetCaption(caption string) error {
	return p.edit(func() { p.caption = strings.TrimSpace(caption) })
}

// ToggleHashtag adds or removes a tag; an empty tag clears the set.
func (p *Pipeline) ToggleHashtag(tag string) error {
	return p.edit(func() { p.tags = p.tags.Toggle(strings.TrimSpace(tag)) })
}

// SetPriority sets the priority; selecting the current value clears it.
func (p *Pipeline) SetPriority(pr models.Priority) error {
	return p.edit(func() {
		if pr == p.priority {
			p.priority = ""
			return
		}
		p.priority = pr
	})
}

func (p *Pipeline) edit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateSelected && p.state != StatePreviewing {
		return ErrNoSelection
	}
	fn()
	return nil
}

// Confirm uploads the selection. The dialog state is cleared before the
// request is made. A new message id in the response is marked revealed.
func (p *Pipeline) Confirm(ctx context.Context) (models.MessageID, error) {
	p.mu.Lock()
	if p.state != StateSelected && p.state != StatePreviewing {
		p.mu.Unlock()
		return "", ErrNoSelection
	}
	up := api.Upload{
		StudentID: p.target,
		FileName:  p.file.Name,
		MIME:      p.file.MIME,
		Content:   bytes.NewReader(p.file.Data),
		Caption:   p.caption,
		Hashtag:   p.tags,
		Priority:  p.priority,
	}
	p.gen++
	gen := p.gen
	p.clearLocked()
	p.state = StateUploading
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.gen == gen && p.state == StateUploading {
			p.state = StateIdle
		}
		p.mu.Unlock()
	}()

	if !api.ValidStudentID(up.StudentID) {
		p.notifier.Notify(up.StudentID, NoticeInvalidTarget)
		return "", ErrNoTarget
	}

	res, err := p.uploader.UploadFile(ctx, up)
	if err != nil {
		observability.IncUpload("error")
		p.logger.Error("upload failed", "student_id", up.StudentID, "file", up.FileName, "error", err)
		p.notifier.Notify(up.StudentID, NoticeUploadError)
		return "", err
	}
	if res.Rejected() {
		observability.IncUpload("rejected")
		reason := res.Reason
		if reason == "" {
			reason = NoticeUploadFailed
		}
		p.notifier.Notify(up.StudentID, reason)
		return "", fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	observability.IncUpload("ok")
	if res.ID != "" && p.reveal != nil {
		if err := p.reveal.MarkRevealed(ctx, res.ID); err != nil {
			p.logger.Warn("mark uploaded image revealed", "message_id", res.ID, "error", err)
		}
	}
	return res.ID, nil
}

// Cancel discards the selection.
func (p *Pipeline) Cancel() {
	p.reset()
}

func (p *Pipeline) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateUploading {
		return
	}
	p.gen++
	p.clearLocked()
	p.state = StateIdle
}

func (p *Pipeline) clearLocked() {
	p.target = ""
	p.file = nil
	p.caption = ""
	p.tags = nil
	p.priority = ""
	p.preview = nil
	p.ready = nil
}

// Status returns the current state and inputs.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		State:    p.state,
		Target:   p.target,
		Caption:  p.caption,
		Hashtag:  append(models.Hashtags(nil), p.tags...),
		Priority: p.priority,
	}
	if p.preview != nil {
		pv := *p.preview
		st.Preview = &pv
	}
	return st
}
