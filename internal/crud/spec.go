// Package crud is the list and dialog engine every management screen shares. An entity plugs in
// through a Spec that maps its record and form types onto store tables.
package crud

import (
	"time"

	"classlog/internal/auth"
	"classlog/internal/relstore"
)

// Notification is the titled message shown after every operation.
type Notification struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant,omitempty"`
}

// Success builds a confirmation notification.
func Success(description string) *Notification {
	return &Notification{Title: "Success", Description: description}
}

// Failure builds an error notification.
func Failure(description string) *Notification {
	return &Notification{Title: "Error", Description: description, Variant: "destructive"}
}

// Option is one candidate row for a foreign-key selector.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Reference loads the options of one selector field.
type Reference struct {
	Field string
	Query relstore.Query
	Label func(relstore.Row) string
}

// Identity describes the two-phase entities that provision a login before their own row.
type Identity[R, F any] struct {
	// SignUp extracts the credentials and profile metadata from the form.
	SignUp func(F) auth.SignUpRequest
	// LinkColumn receives the new identity id on the domain row. Empty means the entity is
	// the identity itself and no domain row is written.
	LinkColumn string
	// UserID returns the identity an existing record belongs to.
	UserID func(R) string
	// Profile returns the profile columns an edit rewrites.
	Profile func(F) relstore.Row
}

// Spec maps one entity onto the store.
type Spec[R, F any] struct {
	// Name is the URL segment and metric label, e.g. "students".
	Name string
	// Noun is the singular display name used in notifications, e.g. "Student".
	Noun string
	// Plural is used in fetch failures: "Failed to fetch <Plural>".
	Plural string

	Table   string
	Columns []string
	Joins   []relstore.Join
	Order   []relstore.Order
	Limit   int

	// Defaults returns the create-mode form.
	Defaults func(now time.Time) F
	// FromRecord pre-fills the edit-mode form.
	FromRecord func(R) F
	// ID returns the primary key of a record.
	ID func(R) string
	// Row maps the form onto store columns.
	Row func(F) relstore.Row
	// InsertRow, when set, replaces Row for inserts so creates can carry initial values.
	InsertRow func(F) relstore.Row
	// Redact clears secrets before a form leaves the dialog.
	Redact func(F) F

	References []Reference
	Identity   *Identity[R, F]

	// Statuses lists the values a status transition may set. Empty disables transitions.
	Statuses []string
	// CreateOnly entities have no edit mode.
	CreateOnly bool

	// Created and Updated override the "<Noun> added/updated successfully" messages.
	Created string
	Updated string
}

// ListQuery is the read a List View issues.
func (s *Spec[R, F]) ListQuery() relstore.Query {
	return relstore.Query{
		Table:   s.Table,
		Columns: s.Columns,
		Joins:   s.Joins,
		Order:   s.Order,
		Limit:   s.Limit,
	}
}

func (s *Spec[R, F]) insertRow(f F) relstore.Row {
	if s.InsertRow != nil {
		return s.InsertRow(f)
	}
	return s.Row(f)
}

func (s *Spec[R, F]) createdMessage() string {
	if s.Created != "" {
		return s.Created
	}
	return s.Noun + " added successfully"
}

func (s *Spec[R, F]) updatedMessage() string {
	if s.Updated != "" {
		return s.Updated
	}
	return s.Noun + " updated successfully"
}
