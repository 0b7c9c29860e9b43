package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/calldesk/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS contacts (
		contact_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS call_records (
		record_id TEXT PRIMARY KEY,
		phone_number TEXT NOT NULL,
		contact_id TEXT,
		call_sid TEXT,
		outcome TEXT NOT NULL,
		recorded INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_call_records_ended ON call_records(ended_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetContact returns the contact with id, or nil if none exists.
func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	query := `SELECT contact_id, name, phone_number, notes, updated_at FROM contacts WHERE contact_id = ?`

	var c domain.Contact
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.PhoneNumber, &c.Notes, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact row: %w", err)
	}
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

// UpsertContact creates or replaces a contact.
func (s *SQLiteStore) UpsertContact(ctx context.Context, c *domain.Contact) error {
	query := `
	INSERT INTO contacts (contact_id, name, phone_number, notes, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(contact_id) DO UPDATE SET
		name = excluded.name,
		phone_number = excluded.phone_number,
		notes = excluded.notes,
		updated_at = excluded.updated_at`

	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return withBusyRetry(ctx, "upsert contact", func() error {
		if _, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.PhoneNumber, c.Notes, updated.Unix()); err != nil {
			return fmt.Errorf("upsert contact: %w", err)
		}
		return nil
	})
}

// UpdateNotes replaces the notes of a contact.
func (s *SQLiteStore) UpdateNotes(ctx context.Context, id, notes string) error {
	query := `
	INSERT INTO contacts (contact_id, notes, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(contact_id) DO UPDATE SET
		notes = excluded.notes,
		updated_at = excluded.updated_at`

	return withBusyRetry(ctx, "update notes", func() error {
		if _, err := s.db.ExecContext(ctx, query, id, notes, time.Now().Unix()); err != nil {
			return fmt.Errorf("update notes: %w", err)
		}
		return nil
	})
}

// InsertCallRecord appends one finished call.
func (s *SQLiteStore) InsertCallRecord(ctx context.Context, rec *domain.CallRecord) error {
	query := `
	INSERT INTO call_records (
		record_id, phone_number, contact_id, call_sid, outcome,
		recorded, started_at, ended_at, duration
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var contactID, callSID interface{}
	if rec.ContactID != "" {
		contactID = rec.ContactID
	}
	if rec.CallSID != "" {
		callSID = rec.CallSID
	}

	return withBusyRetry(ctx, "insert call record", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, rec.PhoneNumber, contactID, callSID, string(rec.Outcome),
			rec.Recorded, rec.StartedAt.Unix(), rec.EndedAt.Unix(), rec.Duration,
		)
		if err != nil {
			return fmt.Errorf("insert call record: %w", err)
		}
		return nil
	})
}

// ListCallRecords returns the latest limit calls, newest first.
func (s *SQLiteStore) ListCallRecords(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT record_id, phone_number, contact_id, call_sid, outcome,
		       recorded, started_at, ended_at, duration
		FROM call_records ORDER BY ended_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close call record rows", "error", closeErr)
		}
	}()

	var out []*domain.CallRecord
	for rows.Next() {
		var rec domain.CallRecord
		var contactID, callSID sql.NullString
		var outcome string
		var startedAt, endedAt int64

		if err := rows.Scan(
			&rec.ID, &rec.PhoneNumber, &contactID, &callSID, &outcome,
			&rec.Recorded, &startedAt, &endedAt, &rec.Duration,
		); err != nil {
			return nil, fmt.Errorf("scan call record row: %w", err)
		}
		rec.ContactID = contactID.String
		rec.CallSID = callSID.String
		rec.Outcome = domain.CallOutcome(outcome)
		rec.StartedAt = time.Unix(startedAt, 0)
		rec.EndedAt = time.Unix(endedAt, 0)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call records: %w", err)
	}
	return out, nil
}
