package main

import (
	"fmt"
	"io"
	"strings"

	"conversation-console/internal/models"
	"conversation-console/internal/session"
	"conversation-console/internal/view"
)

func printSnapshot(w io.Writer, snap view.Snapshot) {
	for _, n := range snap.Nodes {
		if n.Kind == view.NodeDate {
			fmt.Fprintf(w, "--- %s ---\n", n.Date)
			continue
		}
		printRow(w, n.Row)
	}
}

func printChange(w io.Writer, ch session.Change) {
	switch {
	case ch.Reason != "":
		fmt.Fprintf(w, "! %s\n", ch.Reason)
	case ch.Action == models.ActionInit:
		fmt.Fprintf(w, "--- history (%d) ---\n", len(ch.Rows))
	}
	for i := range ch.Rows {
		printRow(w, &ch.Rows[i])
	}
}

func printRow(w io.Writer, row *view.Row) {
	if row == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", row.Time, row.NameLine)
	for _, t := range row.Tags {
		fmt.Fprintf(&b, " #%s", t.Text)
	}
	if row.Priority != nil {
		fmt.Fprintf(&b, " !%s", row.Priority.Text)
	}
	b.WriteString(": ")
	if row.Attachment != nil {
		fmt.Fprintf(&b, "<%s %s %s> ", row.Attachment.Kind, row.Attachment.Name, row.Attachment.SizeLabel)
	}
	if row.ShowText {
		b.WriteString(row.Text)
	}
	if row.Edited {
		b.WriteString(" (edited)")
	}
	switch row.Receipt {
	case view.ReceiptRead:
		b.WriteString(" ✓✓")
	case view.ReceiptDelivered:
		b.WriteString(" ✓")
	}
	fmt.Fprintln(w, b.String())
}
