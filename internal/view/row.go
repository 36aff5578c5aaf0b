package view

import "conversation-console/internal/models"

// Receipt is the delivery indicator shown on the viewer's own messages.
type Receipt string

const (
	ReceiptNone      Receipt = ""
	ReceiptDelivered Receipt = "delivered"
	ReceiptRead      Receipt = "read"
)

// Badge is a styled label attached to a bubble.
type Badge struct {
	Text  string `json:"text"`
	Class string `json:"class"`
}

// AttachmentKind selects how an attachment is presented.
type AttachmentKind string

const (
	AttachmentFile    AttachmentKind = "file"
	AttachmentImage   AttachmentKind = "image"
	AttachmentBlurred AttachmentKind = "blurred"
)

// Attachment is the presentation of a file message.
type Attachment struct {
	Kind      AttachmentKind `json:"kind"`
	URL       string         `json:"url"`
	Name      string         `json:"name"`
	SizeLabel string         `json:"size_label"`
}

// EditRegion replaces a row's text while the viewer edits it.
type EditRegion struct {
	Draft string `json:"draft"`
}

// Row is the view model of one message bubble and its time row.
type Row struct {
	ID         models.MessageID `json:"id"`
	Mine       bool             `json:"mine"`
	NameLine   string           `json:"name_line"`
	Avatar     string           `json:"avatar"`
	Tags       []Badge          `json:"tags,omitempty"`
	Priority   *Badge           `json:"priority,omitempty"`
	Attachment *Attachment      `json:"attachment,omitempty"`
	Text       string           `json:"text"`
	ShowText   bool             `json:"show_text"`
	Edited     bool             `json:"edited"`
	Time       string           `json:"time"`
	Receipt    Receipt          `json:"receipt,omitempty"`
	Edit       *EditRegion      `json:"edit,omitempty"`

	// Message is the record the row was rendered from.
	Message models.Message `json:"-"`
}

var tagStyles = map[string]Badge{
	models.TagPlacement: {Text: "Placement", Class: "bg-primary"},
	models.TagClass:     {Text: "Class", Class: "bg-info text-dark"},
	models.TagPayment:   {Text: "Payment", Class: "bg-success"},
	models.TagFollowups: {Text: "Followups", Class: "bg-secondary"},
	models.TagImportant: {Text: "Important", Class: "bg-danger"},
}

var priorityStyles = map[models.Priority]Badge{
	models.PriorityHigh:   {Text: "High", Class: "bg-danger"},
	models.PriorityMedium: {Text: "Medium", Class: "bg-warning text-dark"},
	models.PriorityLow:    {Text: "Low", Class: "bg-success"},
}

// TagBadges renders hashtag badges; free text keeps its raw value.
func TagBadges(tags models.Hashtags) []Badge {
	if len(tags) == 0 {
		return nil
	}
	out := make([]Badge, 0, len(tags))
	for _, tag := range tags {
		style, ok := tagStyles[tag]
		if !ok {
			style = Badge{Text: tag, Class: "bg-secondary"}
		}
		out = append(out, Badge{Text: "#" + style.Text, Class: style.Class})
	}
	return out
}

// PriorityBadge renders the priority badge, nil when unset.
func PriorityBadge(p models.Priority) *Badge {
	if p == "" {
		return nil
	}
	style, ok := priorityStyles[p]
	if !ok {
		style = Badge{Text: string(p), Class: "bg-secondary"}
	}
	return &Badge{Text: "!" + style.Text, Class: style.Class}
}
