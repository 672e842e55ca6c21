package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/reviewly/internal/model"
	"github.com/sakif/reviewly/internal/service"
)

// ContactSubmitter stores a contact form submission.
type ContactSubmitter interface {
	Submit(ctx context.Context, in service.ContactInput) (*model.Contact, error)
}

// ContactHandler serves the public contact form endpoint.
type ContactHandler struct {
	contacts ContactSubmitter
	logger   *slog.Logger
}

func NewContactHandler(contacts ContactSubmitter, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{contacts: contacts, logger: logger}
}

// HandleSubmit accepts one contact message.
//
// HTTP: POST /api/contact
// REQUEST BODY: {"name": "...", "email": "...", "subject": "...", "message": "..."}
//
// The response is 201 as soon as the message is stored. Whether the
// notification email went out is not the submitter's concern.
func (h *ContactHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var in service.ContactInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	c, err := h.contacts.Submit(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":      c.ID,
		"message": "Thanks, we will get back to you soon.",
	})
}
