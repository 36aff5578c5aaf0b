package view

import (
	"strings"

	"conversation-console/internal/models"
)

// Viewer identifies who is looking at a conversation.
type Viewer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Is reports whether user names the viewer, by display name or email.
func (v Viewer) Is(user string) bool {
	user = strings.TrimSpace(user)
	if user == "" {
		return false
	}
	return (v.Name != "" && user == v.Name) || (v.Email != "" && user == v.Email)
}

// NodeKind discriminates container children.
type NodeKind string

const (
	NodeDate    NodeKind = "date"
	NodeMessage NodeKind = "message"
)

// Node is one child of a container: a date separator or a message row
// together with its time row.
type Node struct {
	Kind NodeKind `json:"kind"`
	Date string   `json:"date,omitempty"`
	Row  *Row     `json:"row,omitempty"`
}

// Container is the view model of one rendered conversation. It carries the
// viewer-context attributes and the last-rendered-date cursor explicitly.
// A Container is not safe for concurrent use; callers serialize access.
type Container struct {
	StudentID string
	Viewer    Viewer

	lastDate string
	nodes    []*Node
	rows     map[models.MessageID]*Node
}

// NewContainer builds an empty container bound to a conversation and viewer.
func NewContainer(studentID string, viewer Viewer) *Container {
	return &Container{
		StudentID: studentID,
		Viewer:    viewer,
		rows:      make(map[models.MessageID]*Node),
	}
}

// Reset drops every node, clears the date cursor and rebinds the viewer context.
func (c *Container) Reset(studentID string, viewer Viewer) {
	c.StudentID = studentID
	c.Viewer = viewer
	c.Clear()
}

// Clear drops every node and the date cursor.
func (c *Container) Clear() {
	c.lastDate = ""
	c.nodes = nil
	c.rows = make(map[models.MessageID]*Node)
}

// LastDate returns the date cursor as YYYY-MM-DD, empty when nothing is rendered.
func (c *Container) LastDate() string {
	return c.lastDate
}

// Row returns the rendered row for id.
func (c *Container) Row(id models.MessageID) (*Row, bool) {
	if id == "" {
		return nil, false
	}
	n, ok := c.rows[id]
	if !ok {
		return nil, false
	}
	return n.Row, true
}

// Rows returns message rows in display order.
func (c *Container) Rows() []*Row {
	out := make([]*Row, 0, len(c.nodes))
	for _, n := range c.nodes {
		if n.Kind == NodeMessage {
			out = append(out, n.Row)
		}
	}
	return out
}

// Nodes returns a copy of the node list in display order.
func (c *Container) Nodes() []Node {
	out := make([]Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		cp := *n
		if n.Row != nil {
			row := *n.Row
			cp.Row = &row
		}
		out = append(out, cp)
	}
	return out
}

// Len returns the number of nodes.
func (c *Container) Len() int {
	return len(c.nodes)
}

func (c *Container) appendDate(key, label string) {
	c.nodes = append(c.nodes, &Node{Kind: NodeDate, Date: label})
	c.lastDate = key
}

func (c *Container) appendRow(row *Row) {
	n := &Node{Kind: NodeMessage, Row: row}
	c.nodes = append(c.nodes, n)
	if row.ID != "" {
		c.rows[row.ID] = n
	}
}

// Snapshot is the serializable projection of a container.
type Snapshot struct {
	StudentID string `json:"student_id"`
	Viewer    Viewer `json:"viewer"`
	LastDate  string `json:"last_date"`
	Nodes     []Node `json:"nodes"`
}

// Snapshot returns a deep-enough copy for serialization outside the caller's lock.
func (c *Container) Snapshot() Snapshot {
	return Snapshot{
		StudentID: c.StudentID,
		Viewer:    c.Viewer,
		LastDate:  c.lastDate,
		Nodes:     c.Nodes(),
	}
}
