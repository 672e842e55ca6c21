package model

import "time"

// Contact is a message submitted through the public contact form.
type Contact struct {
	ID        string    `json:"id"        db:"id"`
	Name      string    `json:"name"      db:"name"`
	Email     string    `json:"email"     db:"email"`
	Subject   string    `json:"subject"   db:"subject"`
	Message   string    `json:"message"   db:"message"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
