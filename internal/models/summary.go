package models

import (
	"strings"
	"time"
)

// StudentSummary is the denormalized feedback row shown in the student table.
type StudentSummary struct {
	StudentID string    `db:"student_id" json:"student_id"`
	Feedback  string    `db:"feedback" json:"feedback"`
	UpdatedBy string    `db:"updated_by" json:"updated_by"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SummaryFromMessage derives the row values from a conversation message.
func SummaryFromMessage(studentID string, msg Message, now time.Time) StudentSummary {
	at := msg.CreatedAt.Time
	if at.IsZero() {
		at = now
	}
	return StudentSummary{
		StudentID: studentID,
		Feedback:  strings.TrimSpace(msg.Message),
		UpdatedBy: msg.Sender,
		UpdatedAt: at,
	}
}

// SummaryFromFeedback derives the row values from a feedback_updated event.
func SummaryFromFeedback(studentID string, ev Inbound, now time.Time) StudentSummary {
	at := now
	if ev.UpdatedAt != "" {
		if ts, err := ParseTimestamp(ev.UpdatedAt); err == nil {
			at = ts.Time
		}
	}
	return StudentSummary{
		StudentID: studentID,
		Feedback:  strings.TrimSpace(ev.Feedback),
		UpdatedBy: ev.UpdatedByName,
		UpdatedAt: at,
	}
}

const placeholder = "—"

// FeedbackLabel is the cell text for the feedback column.
func (s StudentSummary) FeedbackLabel() string {
	if s.Feedback == "" {
		return placeholder
	}
	return s.Feedback
}

// UpdatedByLabel is the cell text for the updated-by column.
func (s StudentSummary) UpdatedByLabel() string {
	if s.UpdatedBy == "" {
		return placeholder
	}
	return s.UpdatedBy
}

// UpdatedAtLabel formats the updated-at column in loc.
func (s StudentSummary) UpdatedAtLabel(loc *time.Location) string {
	if s.UpdatedAt.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	return s.UpdatedAt.In(loc).Format("02 Jan 2006, 15:04")
}
