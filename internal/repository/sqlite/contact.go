package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/reviewly/internal/model"
	"github.com/sakif/reviewly/internal/repository"
)

var _ repository.ContactRepository = (*DB)(nil)

var contactSortColumns = map[string]string{
	"createdAt": "created_at",
	"name":      "name",
	"email":     "email",
	"subject":   "subject",
}

func (db *DB) CreateContact(ctx context.Context, c *model.Contact) error {
	c.ID = xid.New().String()
	c.CreatedAt = time.Now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO contacts (id, name, email, subject, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Subject, c.Message, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting contact: %w", err)
	}
	return nil
}

// ListContacts pages through contact messages, searching name, email and
// subject.
func (db *DB) ListContacts(ctx context.Context, opts repository.ListOptions) (*repository.Page[model.Contact], error) {
	where := ""
	var args []any
	if opts.Search != "" {
		where = `WHERE LOWER(name) LIKE ? ESCAPE '\'
		         OR LOWER(email) LIKE ? ESCAPE '\'
		         OR LOWER(subject) LIKE ? ESCAPE '\'`
		p := likePattern(opts.Search)
		args = append(args, p, p, p)
	}

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: counting contacts: %w", err)
	}

	query := `SELECT id, name, email, subject, message, created_at FROM contacts ` + where + ` ` +
		orderBy(contactSortColumns, opts.SortField, "created_at", opts.SortOrder != repository.SortAsc) +
		` LIMIT ? OFFSET ?`
	rows, err := db.conn.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]model.Contact, 0, opts.Limit)
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Subject, &c.Message, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating contacts: %w", err)
	}

	return &repository.Page[model.Contact]{Items: contacts, Total: total}, nil
}

func (db *DB) DeleteContact(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting contact %s: %w", id, err)
	}
	return requireAffected(result, "contact", id)
}

func (db *DB) CountContacts(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting contacts: %w", err)
	}
	return n, nil
}
