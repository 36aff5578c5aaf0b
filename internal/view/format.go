package view

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var monthAbbr = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// DateKey is the calendar-day cursor value for t.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// DateLabel renders the separator label for t relative to now; both are
// interpreted in t's location.
func DateLabel(t, now time.Time) string {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	n := now.In(t.Location())
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, t.Location())
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	}
	return fmt.Sprintf("%d %s %d", t.Day(), monthAbbr[t.Month()-1], t.Year())
}

// TimeLabel renders the bubble time.
func TimeLabel(t time.Time) string {
	return t.Format("15:04")
}

// ReceiptTimeLabel renders a read receipt's local date and time.
func ReceiptTimeLabel(t time.Time) string {
	return fmt.Sprintf("%d %s %d, %s", t.Day(), monthAbbr[t.Month()-1], t.Year(), t.Format("15:04"))
}

// FileSize renders bytes as B, KB or MB with one decimal above 1024.
func FileSize(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	}
}

// AvatarText picks the avatar letter: a leading ASCII letter, else the first
// ASCII letter anywhere, else the first character; "?" when empty.
func AvatarText(nameOrEmail string) string {
	s := strings.TrimSpace(nameOrEmail)
	if s == "" {
		return "?"
	}
	for _, r := range s {
		if r < utf8.RuneSelf && unicode.IsLetter(r) {
			return strings.ToUpper(string(r))
		}
	}
	r, _ := utf8.DecodeRuneInString(s)
	return string(r)
}
