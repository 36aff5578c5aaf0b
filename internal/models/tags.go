package models

import (
	"encoding/json"
	"strings"
)

// Hashtag vocabulary understood by the back office. Other values are
// accepted and rendered with the default style.
const (
	TagPlacement = "placement"
	TagClass     = "class"
	TagPayment   = "payment"
	TagFollowups = "followups"
	TagImportant = "important"
)

// Priority values understood by the back office.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Hashtags is an ordered set of topic labels serialized as a comma-joined string.
type Hashtags []string

// ParseHashtags splits a comma-joined value, dropping blanks and duplicates.
func ParseHashtags(raw string) Hashtags {
	var out Hashtags
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || out.Has(part) {
			continue
		}
		out = append(out, part)
	}
	return out
}

// Has reports whether tag is in the set.
func (h Hashtags) Has(tag string) bool {
	for _, t := range h {
		if t == tag {
			return true
		}
	}
	return false
}

// Toggle adds tag when absent and removes it when present. An empty tag clears the set.
func (h Hashtags) Toggle(tag string) Hashtags {
	if tag == "" {
		return nil
	}
	out := make(Hashtags, 0, len(h)+1)
	removed := false
	for _, t := range h {
		if t == tag {
			removed = true
			continue
		}
		out = append(out, t)
	}
	if !removed {
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (h Hashtags) String() string {
	return strings.Join(h, ",")
}

func (h Hashtags) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hashtags) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*h = nil
		return nil
	}
	*h = ParseHashtags(*raw)
	return nil
}

// Priority is the single optional urgency marker of a message.
type Priority string

func (p *Priority) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*p = ""
		return nil
	}
	*p = Priority(strings.TrimSpace(*raw))
	return nil
}
