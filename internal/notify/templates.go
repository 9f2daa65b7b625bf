package notify

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
)

// ErrUnknownTemplate is returned for a template name with no definition
var ErrUnknownTemplate = errors.New("unknown email template")

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(name, subject, body string) emailTemplate {
	return emailTemplate{
		subject: template.Must(template.New(name + ".subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Option("missingkey=zero").Parse(body)),
	}
}

var templates = map[string]emailTemplate{
	"order_confirmation": mustTemplate("order_confirmation",
		"Your order #{{.order_id}} is confirmed",
		`Thank you for your purchase.

Order: #{{.order_id}}
Total: {{.total}}

We will let you know when it ships.
`),
	"order_failed": mustTemplate("order_failed",
		"Your order #{{.order_id}} could not be completed",
		`We could not complete your order #{{.order_id}}.
{{if .reason}}
Reason: {{.reason}}
{{end}}
You have not been charged.
`),
	"tickets_issued": mustTemplate("tickets_issued",
		"Your tickets for order #{{.order_id}}",
		`Thank you for your booking.

Order: #{{.order_id}}
Total: {{.total}}
Ticket codes: {{.codes}}

Show a code at the entrance to check in.
`),
	"ticket_transferred": mustTemplate("ticket_transferred",
		"You received a ticket for {{.experience}}",
		`A ticket was transferred to you.

Experience: {{.experience}}
Ticket: {{.ticket}}
Starts at: {{.starts_at}}
Code: {{.code}}
`),
	"restock": mustTemplate("restock",
		"{{.product_name}} is back in stock",
		`Good news: {{.product_name}} is available again.

Product: {{.product_id}}
`),
}

// Render builds the message for a named template
func Render(name, to string, data map[string]string) (*Message, error) {
	t, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("failed to render %s subject: %w", name, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render %s body: %w", name, err)
	}
	return &Message{To: to, Subject: subject.String(), Body: body.String()}, nil
}
