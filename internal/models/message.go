package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Message types sent by the back office.
const (
	MessageTypeText = "text"
	MessageTypeFile = "file"
)

// MessageID is the opaque identifier assigned by the system of record.
// The back office emits integers; strings are accepted as well.
type MessageID string

// UnmarshalJSON accepts numbers, strings and null.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*id = MessageID(n.String())
	return nil
}

// MarshalJSON emits integer ids as numbers so the back office can match them.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id MessageID) String() string { return string(id) }

// Timestamp parses the ISO-8601 variants produced by the back office.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses s using the accepted layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

// UnmarshalJSON leaves t zero when the value cannot be parsed, so one bad
// record does not reject the frame carrying it.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		slog.Warn("unparsed timestamp", "value", s, "error", err)
		t.Time = time.Time{}
		return nil
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// ReadReceipt records that a user has seen a message.
type ReadReceipt struct {
	User   string    `json:"user"`
	ReadAt Timestamp `json:"read_at"`
}

// Message represents one conversation message as serialized by the back office.
type Message struct {
	ID         MessageID     `json:"id"`
	Sender     string        `json:"sender"`
	SenderRole string        `json:"sender_role"`
	Message    string        `json:"message"`
	CreatedAt  Timestamp     `json:"created_at"`
	Type       string        `json:"type"`
	FileURL    string        `json:"file_url,omitempty"`
	FileName   string        `json:"file_name,omitempty"`
	FileMIME   string        `json:"file_mime,omitempty"`
	FileSize   int64         `json:"file_size,omitempty"`
	Hashtag    Hashtags      `json:"hashtag"`
	Priority   Priority      `json:"priority"`
	IsEdited   bool          `json:"is_edited"`
	EditedAt   *Timestamp    `json:"edited_at,omitempty"`
	ReadBy     []ReadReceipt `json:"read_by"`
}

// IsFile reports whether the message carries an attachment.
func (m Message) IsFile() bool {
	return m.Type == MessageTypeFile && m.FileURL != ""
}

// IsImage reports whether the attachment is an image.
func (m Message) IsImage() bool {
	return m.IsFile() && strings.HasPrefix(m.FileMIME, "image/")
}

// AddReaders appends receipts for readers not already present. Existing
// entries are never removed or replaced.
func (m *Message) AddReaders(readers []ReadReceipt) {
	seen := make(map[string]struct{}, len(m.ReadBy))
	for _, r := range m.ReadBy {
		seen[r.User] = struct{}{}
	}
	for _, r := range readers {
		if r.User == "" {
			continue
		}
		if _, ok := seen[r.User]; ok {
			continue
		}
		seen[r.User] = struct{}{}
		m.ReadBy = append(m.ReadBy, r)
	}
}
