package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/docuflow/docuflow/pkg/models"
)

// TagStore manages tags and the document_tags junction.
type TagStore struct {
	db *sqlx.DB
}

// Upsert inserts a tag or returns the existing one by normalized name.
// usage_count is bumped on association, not here.
func (s *TagStore) Upsert(ctx context.Context, name string, createdBy models.TagCreator) (*models.Tag, error) {
	normalized := models.NormalizeTag(name)
	if normalized == "" {
		return nil, fmt.Errorf("empty tag name")
	}

	var tag models.Tag
	err := s.db.GetContext(ctx, &tag, `
		INSERT INTO tags (id, tag_name, tag_normalized, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tag_normalized) DO UPDATE SET tag_normalized = EXCLUDED.tag_normalized
		RETURNING id, tag_name, tag_normalized, created_by, category,
		          usage_count, last_used, created_at`,
		uuid.NewString(), name, normalized, createdBy)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert tag %q: %w", name, err)
	}
	return &tag, nil
}

// AssociateDocument links a tag to a document (idempotent) and bumps the
// tag's usage accounting on first association.
func (s *TagStore) AssociateDocument(ctx context.Context, documentID, tagID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO document_tags (document_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT (document_id, tag_id) DO NOTHING`,
		documentID, tagID)
	if err != nil {
		return fmt.Errorf("failed to associate tag %s with document %s: %w", tagID, documentID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return nil // already associated
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE tags SET usage_count = usage_count + 1, last_used = now()
		WHERE id = $1`, tagID)
	if err != nil {
		return fmt.Errorf("failed to bump tag usage: %w", err)
	}
	return nil
}

// Apply upserts and associates a tag in one call.
func (s *TagStore) Apply(ctx context.Context, documentID, name string, createdBy models.TagCreator) (*models.Tag, error) {
	tag, err := s.Upsert(ctx, name, createdBy)
	if err != nil {
		return nil, err
	}
	if err := s.AssociateDocument(ctx, documentID, tag.ID); err != nil {
		return nil, err
	}
	return tag, nil
}

// ListForDocument returns the normalized tag names of a document.
func (s *TagStore) ListForDocument(ctx context.Context, documentID string) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names, `
		SELECT t.tag_normalized FROM tags t
		JOIN document_tags dt ON dt.tag_id = t.id
		WHERE dt.document_id = $1
		ORDER BY t.tag_normalized`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document tags: %w", err)
	}
	return names, nil
}

// TopCombinations returns the most common tag combinations across
// documents, excluding tags carrying the given prefix (series tags are
// never shown to the classifier).
func (s *TagStore) TopCombinations(ctx context.Context, n int, excludePrefix string) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT combo FROM (
			SELECT array_agg(t.tag_normalized ORDER BY t.tag_normalized) AS combo
			FROM document_tags dt
			JOIN tags t ON t.id = dt.tag_id
			WHERE t.tag_normalized NOT LIKE $1 || '%'
			GROUP BY dt.document_id
		) combos
		GROUP BY combo
		ORDER BY count(*) DESC
		LIMIT $2`, excludePrefix, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query tag combinations: %w", err)
	}
	defer rows.Close()

	var combos [][]string
	for rows.Next() {
		var combo []string
		if err := rows.Scan(pqArray(&combo)); err != nil {
			return nil, fmt.Errorf("failed to scan tag combination: %w", err)
		}
		combos = append(combos, combo)
	}
	return combos, rows.Err()
}
