package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"

	"github.com/sakif/reviewly/internal/model"
)

const senderName = "Reviewly"

var contactText = template.Must(template.New("text").Parse(`New contact form submission.

From: {{.Name}} <{{.Email}}>

Subject:
{{.Subject}}

Message:
{{.Message}}

---
This message was sent automatically.
`))

// html/template escapes every field, so a message body can't inject markup
// into the admin's mail client.
var contactHTML = htmltemplate.Must(htmltemplate.New("html").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #1976d2;">New contact form submission</h2>
  <div style="background-color: #f5f5f5; padding: 15px; border-radius: 5px; margin: 20px 0;">
    <p><strong>Name:</strong> {{.Name}}</p>
    <p><strong>Email:</strong> {{.Email}}</p>
  </div>
  <div style="background-color: #f5f5f5; padding: 15px; border-radius: 5px; margin: 20px 0;">
    <h3 style="margin-top: 0;">{{.Subject}}</h3>
    <p style="white-space: pre-wrap;">{{.Message}}</p>
  </div>
  <p style="color: #666; font-size: 12px;">This message was sent automatically.</p>
</div>
`))

// ContactNotification builds the email an admin receives for a contact
// message.
func ContactNotification(from, to string, c *model.Contact) (*Message, error) {
	var text, html bytes.Buffer
	if err := contactText.Execute(&text, c); err != nil {
		return nil, fmt.Errorf("mail: rendering text body: %w", err)
	}
	if err := contactHTML.Execute(&html, c); err != nil {
		return nil, fmt.Errorf("mail: rendering html body: %w", err)
	}

	return &Message{
		FromName: senderName,
		From:     from,
		To:       []string{to},
		Subject:  "[Contact] " + c.Subject,
		Text:     text.String(),
		HTML:     html.String(),
	}, nil
}
