// Package mail sends notification emails.
//
// Sender is the only thing the rest of the server sees. SMTPSender talks to a
// real relay; LogSender just logs the message and is used when no SMTP host
// is configured (local development, tests).
package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// Message is a two-part (plain text + HTML) email.
type Message struct {
	FromName string
	From     string
	To       []string
	Subject  string
	Text     string
	HTML     string
}

type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers through an SMTP relay with PLAIN auth. smtp.SendMail
// upgrades to TLS with STARTTLS when the server offers it.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	send sendFunc
}

func NewSMTPSender(host string, port int, user, password string) *SMTPSender {
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &SMTPSender{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		auth: auth,
		send: smtp.SendMail,
	}
}

// Send blocks until the relay accepts the message or ctx is done. net/smtp
// has no context support, so on cancellation the dial is abandoned (it
// finishes in the background) and ctx.Err() is returned.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, msg.From, msg.To, raw)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mail: sending via %s: %w", s.addr, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mail: sending via %s: %w", s.addr, ctx.Err())
	}
}

// LogSender logs instead of sending.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg *Message) error {
	s.logger.Info("mail not sent (no SMTP configured)",
		slog.Any("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// Bytes renders the message as RFC 5322 with a multipart/alternative body.
// Header values are Q-encoded so non-ASCII subjects and names survive.
func (m *Message) Bytes() ([]byte, error) {
	if m.From == "" || len(m.To) == 0 {
		return nil, fmt.Errorf("mail: message needs a sender and at least one recipient")
	}

	var buf bytes.Buffer
	body := multipart.NewWriter(&buf)

	from := (&mail.Address{Name: m.FromName, Address: m.From}).String()
	headers := []string{
		"From: " + from,
		"To: " + strings.Join(m.To, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", m.Subject),
		"Date: " + time.Now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="` + body.Boundary() + `"`,
	}
	var out bytes.Buffer
	out.WriteString(strings.Join(headers, "\r\n"))
	out.WriteString("\r\n\r\n")

	parts := []struct{ contentType, content string }{
		{"text/plain; charset=utf-8", m.Text},
		{"text/html; charset=utf-8", m.HTML},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		w, err := body.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("mail: writing part: %w", err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("mail: writing part: %w", err)
		}
	}
	if err := body.Close(); err != nil {
		return nil, fmt.Errorf("mail: closing body: %w", err)
	}

	out.Write(buf.Bytes())
	return out.Bytes(), nil
}
