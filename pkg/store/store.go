// Package store implements typed data access over the relational model.
// All document status writes are conditional on the expected prior status
// (optimistic concurrency); a mismatch returns ErrConflict and means
// another worker advanced the row.
package store

import (
	"errors"

	"github.com/jmoiron/sqlx"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conditional update matched no row because
	// the current status differs from the expected one. Benign: another
	// worker advanced the row.
	ErrConflict = errors.New("status conflict")

	// ErrAlreadyExists indicates a uniqueness violation on insert.
	ErrAlreadyExists = errors.New("already exists")
)

// Store aggregates the per-entity repositories over one pool.
type Store struct {
	db *sqlx.DB

	Documents *DocumentStore
	Tags      *TagStore
	Series    *SeriesStore
	Files     *FileStore
	Prompts   *PromptStore
	Events    *EventStore
	DocTypes  *DocTypeStore
}

// New creates a Store over the shared sqlx pool.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:        db,
		Documents: &DocumentStore{db: db},
		Tags:      &TagStore{db: db},
		Series:    &SeriesStore{db: db},
		Files:     &FileStore{db: db},
		Prompts:   &PromptStore{db: db},
		Events:    &EventStore{db: db},
		DocTypes:  &DocTypeStore{db: db},
	}
}

// DB exposes the pool for cross-store transactions.
func (s *Store) DB() *sqlx.DB {
	return s.db
}
