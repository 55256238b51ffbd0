package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/docuflow/docuflow/pkg/models"
)

const eventColumns = `
	id, category, event_type, document_id, series_id, file_id, prompt_id,
	model_id, request_tokens, response_tokens, latency_ms, details, created_at`

// EventStore is the read side of the audit log. Writes go through
// events.Logger so every producer records the same shape.
type EventStore struct {
	db *sqlx.DB
}

// ListByDocument returns a document's events, oldest first, optionally
// filtered by category.
func (s *EventStore) ListByDocument(ctx context.Context, documentID, category string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE document_id = $1`
	args := []any{documentID}
	if category != "" {
		query += ` AND category = $2`
		args = append(args, category)
	}
	query += fmt.Sprintf(` ORDER BY id ASC LIMIT %d`, limit)

	var out []*models.Event
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list events for document %s: %w", documentID, err)
	}
	return out, nil
}

// ListRecent returns the newest events across all documents.
func (s *EventStore) ListRecent(ctx context.Context, category string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	args := []any{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, limit)

	var out []*models.Event
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}
	return out, nil
}
