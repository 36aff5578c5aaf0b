package view

import (
	"bytes"
	"html/template"
)

var containerTmpl = template.Must(template.New("container").Parse(`<div class="chat-container" data-student-id="{{.StudentID}}" data-user-name="{{.Viewer.Name}}" data-user-email="{{.Viewer.Email}}">
{{- range .Nodes}}
{{- if eq .Kind "date"}}
<div class="date-sep"><span>{{.Date}}</span></div>
{{- else}}{{with .Row}}
<div class="msg-row {{if .Mine}}msg-right{{else}}msg-left{{end}}" data-id="{{.ID}}">
{{- if not .Mine}}<div class="avatar">{{.Avatar}}</div>{{end}}
<div class="msg-bubble">
<div class="msg-header">{{.NameLine}}</div>
{{- if or .Tags .Priority}}
<div class="badges">
{{- range .Tags}}<span class="badge {{.Class}}">{{.Text}}</span>{{end}}
{{- with .Priority}}<span class="badge {{.Class}}">{{.Text}}</span>{{end}}
</div>
{{- end}}
{{- with .Attachment}}
{{- if eq .Kind "image"}}
<div class="chat-media-wrapper"><a href="{{.URL}}" target="_blank"><img src="{{.URL}}" alt="{{.Name}}" class="chat-image"></a></div>
{{- else if eq .Kind "blurred"}}
<div class="chat-media-wrapper blurred"><img src="{{.URL}}" alt="{{.Name}}" class="chat-image blur"><button class="reveal-btn">Download ({{.SizeLabel}})</button></div>
{{- else}}
<div class="chat-file"><a href="{{.URL}}" download="{{.Name}}">{{.Name}}</a> <small>{{.SizeLabel}}</small></div>
{{- end}}
{{- end}}
{{- if .Edit}}
<div class="edit-container"><textarea class="edit-input">{{.Edit.Draft}}</textarea><button class="edit-save">Save</button><button class="edit-cancel">Cancel</button></div>
{{- else if .ShowText}}
<div class="msg-text">{{.Text}}{{if .Edited}} <span class="edited-marker">(edited)</span>{{end}}</div>
{{- end}}
</div>
</div>
<div class="time-row {{if .Mine}}time-right{{else}}time-left{{end}}">{{.Time}}
{{- if eq .Receipt "delivered"}} <i class="fa fa-check"></i>{{else if eq .Receipt "read"}} <i class="fa fa-check-double"></i>{{end}}</div>
{{- end}}{{end}}
{{- end}}
</div>
`))

// HTML renders the container with every interpolated value escaped.
func (c *Container) HTML() (string, error) {
	return RenderHTML(c.Snapshot())
}

// RenderHTML renders a snapshot taken earlier.
func RenderHTML(s Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := containerTmpl.Execute(&buf, s); err != nil {
		return "", err
	}
	return buf.String(), nil
}
