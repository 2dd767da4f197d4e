package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Subject string
	Body    string
}

var titler = cases.Title(language.English)

var templates = map[TemplateType]*template.Template{
	TemplateRequestSubmitted: mustParse("request_submitted",
		"Access request received",
		`Your request for {{.level}} access to {{.resource}} was received and is awaiting approval.`),
	TemplateRequestApproved: mustParse("request_approved",
		"Access request approved",
		`Your request for {{.level}} access to {{.resource}} was approved.
{{- if .expires_at}} Access is valid until {{.expires_at}}.{{end}}`),
	TemplateRequestRejected: mustParse("request_rejected",
		"Access request rejected",
		`Your request for access to {{.resource}} was rejected.
{{- if .reason}} Reason: {{.reason}}{{end}}`),
	TemplateGrantExpiring: mustParse("grant_expiring",
		"Access expiring soon",
		`Your {{.level}} access to {{.resource}} expires at {{.expires_at}}. Request an extension if you still need it.`),
	TemplateGrantExpired: mustParse("grant_expired",
		"Access expired",
		`Your access to {{.resource}} has expired and has been removed.`),
	TemplateGrantRevoked: mustParse("grant_revoked",
		"Access revoked",
		`Your access to {{.resource}} was revoked.
{{- if .reason}} Reason: {{.reason}}{{end}}`),
}

func mustParse(name, subject, body string) *template.Template {
	t := template.New(name)
	template.Must(t.New("subject").Parse(subject))
	template.Must(t.New("body").Parse(body))
	return t
}

// Render produces the message for a task. Access level names in the payload
// are humanized before templating.
func Render(task Task) (Message, error) {
	t, ok := templates[task.Template]
	if !ok {
		return Message{}, fmt.Errorf("notify: unknown template %q", task.Template)
	}
	data := make(map[string]any, len(task.Payload))
	for k, v := range task.Payload {
		data[k] = v
	}
	if level, ok := data["level"].(string); ok {
		data["level"] = titler.String(level)
	}
	var subject, body bytes.Buffer
	if err := t.ExecuteTemplate(&subject, "subject", data); err != nil {
		return Message{}, err
	}
	if err := t.ExecuteTemplate(&body, "body", data); err != nil {
		return Message{}, err
	}
	return Message{Subject: subject.String(), Body: body.String()}, nil
}
