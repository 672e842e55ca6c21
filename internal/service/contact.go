package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/reviewly/internal/apperror"
	mailer "github.com/sakif/reviewly/internal/mail"
	"github.com/sakif/reviewly/internal/metrics"
	"github.com/sakif/reviewly/internal/model"
	"github.com/sakif/reviewly/internal/repository"
)

// Field limits, counted in characters.
const (
	maxContactName    = 100
	maxContactEmail   = 255
	maxContactSubject = 200
	maxContactMessage = 5000

	notifyTimeout = 10 * time.Second
)

// ContactInput is a contact form submission as received.
type ContactInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// ContactService stores contact messages and notifies the site admin.
type ContactService struct {
	contacts repository.ContactRepository
	sender   mailer.Sender
	from     string
	notifyTo string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewContactService wires a ContactService. An empty notifyTo disables the
// notification email.
func NewContactService(
	contacts repository.ContactRepository,
	sender mailer.Sender,
	from, notifyTo string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ContactService {
	return &ContactService{
		contacts: contacts,
		sender:   sender,
		from:     from,
		notifyTo: notifyTo,
		metrics:  m,
		logger:   logger,
	}
}

// Submit validates, stores, then notifies. The message is kept even when the
// notification fails; the failure is only logged.
func (s *ContactService) Submit(ctx context.Context, in ContactInput) (*model.Contact, error) {
	c, err := validateContact(in)
	if err != nil {
		s.metrics.ContactSubmission("invalid")
		return nil, err
	}

	if err := s.contacts.CreateContact(ctx, c); err != nil {
		s.metrics.ContactSubmission("store_failed")
		return nil, apperror.Classify("submit contact", err)
	}
	s.metrics.ContactSubmission("stored")

	s.logger.Info("contact message stored",
		slog.String("contactID", c.ID),
		slog.String("email", c.Email),
	)

	if err := s.notify(ctx, c); err != nil {
		s.metrics.ContactSubmission("notify_failed")
		s.logger.Warn("contact notification failed",
			slog.String("contactID", c.ID),
			slog.String("error", err.Error()),
		)
	}

	return c, nil
}

func (s *ContactService) notify(ctx context.Context, c *model.Contact) error {
	if s.notifyTo == "" || s.sender == nil {
		return nil
	}
	msg, err := mailer.ContactNotification(s.from, s.notifyTo, c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	return s.sender.Send(ctx, msg)
}

// validateContact trims every field and enforces presence, length and
// email format. The first problem found is returned.
func validateContact(in ContactInput) (*model.Contact, error) {
	c := &model.Contact{
		Name:    strings.TrimSpace(in.Name),
		Email:   strings.ToLower(strings.TrimSpace(in.Email)),
		Subject: strings.TrimSpace(in.Subject),
		Message: strings.TrimSpace(in.Message),
	}

	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"name", c.Name, maxContactName},
		{"email", c.Email, maxContactEmail},
		{"subject", c.Subject, maxContactSubject},
		{"message", c.Message, maxContactMessage},
	}
	for _, f := range fields {
		if f.value == "" {
			return nil, apperror.ValidationFailed(f.name, f.name+" is required")
		}
		if n := utf8.RuneCountInString(f.value); n > f.max {
			return nil, apperror.ValidationFailed(f.name,
				fmt.Sprintf("%s must be at most %d characters", f.name, f.max))
		}
	}

	// Bare address only: "Name <a@b>" parses but is not what we store.
	addr, err := mail.ParseAddress(c.Email)
	if err != nil || addr.Address != c.Email {
		return nil, apperror.ValidationFailed("email", "email is not a valid address")
	}
	if domain := c.Email[strings.LastIndex(c.Email, "@")+1:]; !strings.Contains(domain, ".") {
		return nil, apperror.ValidationFailed("email", "email is not a valid address")
	}

	return c, nil
}
