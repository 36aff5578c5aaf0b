package view

import "time"

// MenuItem is one entry of a bubble's context menu.
type MenuItem string

const (
	MenuInfo MenuItem = "Info"
	MenuEdit MenuItem = "Edit"
)

// MenuFor lists the context menu entries for row.
func MenuFor(row *Row) []MenuItem {
	if row == nil {
		return nil
	}
	items := []MenuItem{MenuInfo}
	if row.Mine && !row.Message.IsFile() {
		items = append(items, MenuEdit)
	}
	return items
}

// ReceiptLine is one reader shown by the Info entry.
type ReceiptLine struct {
	User   string `json:"user"`
	ReadAt string `json:"read_at"`
}

// Info lists who has read row, excluding the viewer, with local read times.
func Info(row *Row, viewer Viewer, loc *time.Location) []ReceiptLine {
	if row == nil {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	var out []ReceiptLine
	for _, rd := range row.Message.ReadBy {
		if rd.User == "" || viewer.Is(rd.User) {
			continue
		}
		line := ReceiptLine{User: rd.User}
		if !rd.ReadAt.IsZero() {
			line.ReadAt = ReceiptTimeLabel(rd.ReadAt.In(loc))
		}
		out = append(out, line)
	}
	return out
}
