// Package store persists contact notes and local call history.
package store

import (
	"context"

	"github.com/ashureev/calldesk/internal/domain"
)

// Repository is the persistence boundary of the service.
type Repository interface {
	// GetContact returns the contact with id, or nil if none exists.
	GetContact(ctx context.Context, id string) (*domain.Contact, error)

	// UpsertContact creates or replaces a contact.
	UpsertContact(ctx context.Context, c *domain.Contact) error

	// UpdateNotes replaces the notes of a contact, creating a bare contact
	// row when the id is unknown.
	UpdateNotes(ctx context.Context, id, notes string) error

	// InsertCallRecord appends one finished call.
	InsertCallRecord(ctx context.Context, rec *domain.CallRecord) error

	// ListCallRecords returns the latest limit calls, newest first.
	ListCallRecords(ctx context.Context, limit int) ([]*domain.CallRecord, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
