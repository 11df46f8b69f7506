// Package history records INDI server state transitions and driver
// start/stop events in SQLite so an observing session can be reviewed later.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// Fixed width so created_at sorts as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ServerEvent is one supervisor state transition.
type ServerEvent struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DriverEvent is one driver start or stop.
type DriverEvent struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Started   bool      `json:"started"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and lists events.
type Repository interface {
	RecordServerEvent(ctx context.Context, ev *ServerEvent) error
	RecordDriverEvent(ctx context.Context, ev *DriverEvent) error
	RecentServerEvents(ctx context.Context, limit int) ([]ServerEvent, error)
	RecentDriverEvents(ctx context.Context, limit int) ([]DriverEvent, error)
}

// SQLiteRepository is the Repository backed by the history database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on db. The event tables must
// already exist (see the migrations package).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordServerEvent inserts ev. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) RecordServerEvent(ctx context.Context, ev *ServerEvent) error {
	stamp(&ev.ID, &ev.CreatedAt, "srv-")
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO server_events (id, state, message, created_at) VALUES (?, ?, ?, ?)`,
		ev.ID, ev.State, ev.Message, ev.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting server event: %w", err)
	}
	return nil
}

// RecordDriverEvent inserts ev. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) RecordDriverEvent(ctx context.Context, ev *DriverEvent) error {
	stamp(&ev.ID, &ev.CreatedAt, "drv-")
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO driver_events (id, label, started, created_at) VALUES (?, ?, ?, ?)`,
		ev.ID, ev.Label, ev.Started, ev.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting driver event: %w", err)
	}
	return nil
}

// RecentServerEvents returns up to limit server events, newest first.
func (r *SQLiteRepository) RecentServerEvents(ctx context.Context, limit int) ([]ServerEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, state, message, created_at FROM server_events ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying server events: %w", err)
	}
	defer rows.Close()

	events := []ServerEvent{}
	for rows.Next() {
		var ev ServerEvent
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.State, &ev.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning server event: %w", err)
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating server events: %w", err)
	}
	return events, nil
}

// RecentDriverEvents returns up to limit driver events, newest first.
func (r *SQLiteRepository) RecentDriverEvents(ctx context.Context, limit int) ([]DriverEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, label, started, created_at FROM driver_events ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying driver events: %w", err)
	}
	defer rows.Close()

	events := []DriverEvent{}
	for rows.Next() {
		var ev DriverEvent
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Label, &ev.Started, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning driver event: %w", err)
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating driver events: %w", err)
	}
	return events, nil
}

func stamp(id *string, at *time.Time, prefix string) {
	if *id == "" {
		*id = prefix + uuid.NewString()
	}
	if at.IsZero() {
		*at = time.Now().UTC()
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing event timestamp %q: %w", s, err)
	}
	return t, nil
}
