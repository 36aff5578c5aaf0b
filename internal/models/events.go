package models

// Inbound actions delivered on the live channel.
const (
	ActionInit            = "init"
	ActionNewMessage      = "new_message"
	ActionMessageUpdated  = "message_updated"
	ActionFeedbackUpdated = "feedback_updated"
	ActionMessagesRead    = "messages_read"
	ActionError           = "error"
)

// Outbound actions written to the live channel.
const (
	ActionSend        = "send"
	ActionEditMessage = "edit_message"
	ActionMarkRead    = "mark_read"
)

// Inbound is a protocol message received from the conversation server.
type Inbound struct {
	Action        string        `json:"action"`
	Messages      []Message     `json:"messages,omitempty"`
	Message       *Message      `json:"message,omitempty"`
	Feedback      string        `json:"feedback,omitempty"`
	UpdatedByName string        `json:"updated_by_name,omitempty"`
	UpdatedAt     string        `json:"updated_at,omitempty"`
	MessageIDs    []MessageID   `json:"message_ids,omitempty"`
	Readers       []ReadReceipt `json:"read_by,omitempty"`
	Reason        string        `json:"reason,omitempty"`
}

// Outbound is a protocol message written to the conversation server.
type Outbound struct {
	Action     string      `json:"action"`
	Message    string      `json:"message,omitempty"`
	Hashtag    string      `json:"hashtag,omitempty"`
	Priority   string      `json:"priority,omitempty"`
	MessageID  MessageID   `json:"message_id,omitempty"`
	NewText    string      `json:"new_text,omitempty"`
	MessageIDs []MessageID `json:"message_ids,omitempty"`
}

// SendPayload builds a send action. Empty tags and priority are omitted.
func SendPayload(text string, tags Hashtags, priority Priority) Outbound {
	return Outbound{
		Action:   ActionSend,
		Message:  text,
		Hashtag:  tags.String(),
		Priority: string(priority),
	}
}
