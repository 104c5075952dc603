package domain

import (
	"context"
	"time"
)

// Note is the local, offline-editable document synced to the remote.
type Note struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

type NoteRepo interface {
	// Store inserts or replaces the note.
	Store(ctx context.Context, note *Note) error
	// StoreIfUnchanged writes title, body and updated_at only while the
	// stored updated_at still equals expected. It reports whether the row
	// was written.
	StoreIfUnchanged(ctx context.Context, note *Note, expected time.Time) (bool, error)
	// MarkSynced sets last_synced_at to at, or to snapshot when the row was
	// updated after snapshot. Only that column is written.
	MarkSynced(ctx context.Context, id string, snapshot time.Time, at time.Time) error
	FindByID(ctx context.Context, id string) (*Note, error)
	Delete(ctx context.Context, id string) error
}
