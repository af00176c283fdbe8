// Package calstore defines the calendar store the sync pipeline writes to,
// plus an in-memory implementation. Remote and file-backed stores live in
// sub-packages.
package calstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sleepcal/internal/model"
)

var (
	// ErrNotFound is returned for unknown calendars or events.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks setup problems, such as missing credentials,
	// that make every store call pointless.
	ErrConfiguration = errors.New("configuration error")
)

// EventStore is the windowed event access the reconciler needs.
type EventStore interface {
	// ListEvents returns events overlapping [timeMin, timeMax), with
	// recurring events expanded into single occurrences.
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.StoredEvent, error)
	// InsertEvent creates an event and returns its id.
	InsertEvent(ctx context.Context, calendarID string, ev model.NewEvent) (string, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Store is a calendar backend.
type Store interface {
	EventStore
	ListCalendars(ctx context.Context) ([]model.Calendar, error)
	// GetOrCreateCalendar returns the id of the calendar called name,
	// creating it when no calendar has exactly that name. New calendars are
	// publicly readable and, when ownerEmail is set, writable by that
	// address. A failed owner grant is logged and ignored.
	GetOrCreateCalendar(ctx context.Context, name, ownerEmail string) (string, error)
}

// ACL roles and scopes, named as in the Google Calendar API.
const (
	RoleReader = "reader"
	RoleWriter = "writer"

	ScopeDefault = "default"
	ScopeUser    = "user"
)

// ACLRule grants role to a scope.
type ACLRule struct {
	Role       string
	ScopeType  string
	ScopeValue string
}

// PublicReader is the rule that makes a calendar readable by anyone.
func PublicReader() ACLRule {
	return ACLRule{Role: RoleReader, ScopeType: ScopeDefault}
}

// OwnerWriter grants write access to email.
func OwnerWriter(email string) ACLRule {
	return ACLRule{Role: RoleWriter, ScopeType: ScopeUser, ScopeValue: email}
}

// RemoteError wraps a failed store call.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("calstore: %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Wrap returns err as a *RemoteError for op. nil stays nil and errors that
// already are RemoteErrors are returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}

// FindCalendar returns the id of the calendar named exactly name.
func FindCalendar(cals []model.Calendar, name string) (string, bool) {
	for _, c := range cals {
		if c.Name == name {
			return c.ID, true
		}
	}
	return "", false
}
