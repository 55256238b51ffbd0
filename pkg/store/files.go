package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/docuflow/docuflow/pkg/models"
)

const fileColumns = `
	id, user_id, tags, tag_signature, document_count, first_document_date,
	last_document_date, summary_text, summary_metadata, status, prompt_id,
	retry_count, error_message, created_at, updated_at`

// FileStore manages tag-aggregated files.
type FileStore struct {
	db *sqlx.DB
}

// Get fetches one file by id.
func (s *FileStore) Get(ctx context.Context, id string) (*models.File, error) {
	var f models.File
	err := s.db.GetContext(ctx, &f,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file %s: %w", id, err)
	}
	return &f, nil
}

// UpsertBySignature creates a file for the tag set or returns the
// existing one. The signature is derived here so callers cannot desync
// tags and signature.
func (s *FileStore) UpsertBySignature(ctx context.Context, userID string, tags []string) (*models.File, error) {
	signature := models.TagSignature(tags)
	if signature == "" {
		return nil, fmt.Errorf("empty tag set for file")
	}

	var f models.File
	err := s.db.GetContext(ctx, &f, `
		INSERT INTO files (id, user_id, tags, tag_signature)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tag_signature, user_id) DO UPDATE SET tag_signature = EXCLUDED.tag_signature
		RETURNING `+fileColumns,
		uuid.NewString(), userID, pq.Array(normalizedTags(tags)), signature)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert file %q: %w", signature, err)
	}
	return &f, nil
}

// TransitionStatus moves a file between statuses conditionally.
func (s *FileStore) TransitionStatus(ctx context.Context, id string, from, to models.FileStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition file %s to %s: %w", id, to, err)
	}
	return conflictUnlessOneRow(res)
}

// MarkOutdatedByTag flags every generated/pending file whose tag set
// contains the given tag. Called when file membership changes.
func (s *FileStore) MarkOutdatedByTag(ctx context.Context, userID, tag string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		UPDATE files SET status = $1, updated_at = now()
		WHERE user_id = $2 AND $3 = ANY(tags) AND status NOT IN ($4, $5)
		RETURNING id`,
		models.FileStatusOutdated, userID, models.NormalizeTag(tag),
		models.FileStatusGenerating, models.FileStatusRegenerating)
	if err != nil {
		return nil, fmt.Errorf("failed to mark files outdated for tag %q: %w", tag, err)
	}
	return ids, nil
}

// ListReady returns files eligible for (re)generation.
func (s *FileStore) ListReady(ctx context.Context, limit int) ([]*models.File, error) {
	var out []*models.File
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+fileColumns+` FROM files
		WHERE status IN ($1, $2)
		ORDER BY updated_at ASC
		LIMIT $3`,
		models.FileStatusPending, models.FileStatusOutdated, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready files: %w", err)
	}
	return out, nil
}

// ListStale returns files stuck in a generating state past the threshold.
func (s *FileStore) ListStale(ctx context.Context, olderThan string) ([]*models.File, error) {
	var out []*models.File
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+fileColumns+` FROM files
		WHERE status IN ($1, $2) AND updated_at < now() - $3::interval`,
		models.FileStatusGenerating, models.FileStatusRegenerating, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale files: %w", err)
	}
	return out, nil
}

// ResetStale moves a stale generating file back to outdated, bumping its
// retry count.
func (s *FileStore) ResetStale(ctx context.Context, id string, from models.FileStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE files
		SET status = $1, retry_count = retry_count + 1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		models.FileStatusOutdated, id, from)
	if err != nil {
		return fmt.Errorf("failed to reset stale file %s: %w", id, err)
	}
	return conflictUnlessOneRow(res)
}

// MarkFailed moves a file to failed with an error message.
func (s *FileStore) MarkFailed(ctx context.Context, id, errorMessage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE files SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3`,
		models.FileStatusFailed, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to mark file %s failed: %w", id, err)
	}
	return nil
}

// SetSummary persists a generated summary and recomputed membership
// stats, moving the file to generated.
func (s *FileStore) SetSummary(ctx context.Context, id string, from models.FileStatus, summaryText string, metadata models.JSONMap, promptID string, memberIDs []string) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal summary metadata: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE files
		SET status = $1, summary_text = $2, summary_metadata = $3, prompt_id = $4,
		    document_count = $5,
		    first_document_date = (SELECT min(created_at) FROM documents WHERE id = ANY($6)),
		    last_document_date = (SELECT max(created_at) FROM documents WHERE id = ANY($6)),
		    error_message = NULL, updated_at = now()
		WHERE id = $7 AND status = $8`,
		models.FileStatusGenerated, summaryText, payload, promptID,
		len(memberIDs), pq.Array(memberIDs), id, from)
	if err != nil {
		return fmt.Errorf("failed to set file summary: %w", err)
	}
	if err := conflictUnlessOneRow(res); err != nil {
		return err
	}

	// Refresh the junction to the computed membership.
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_documents WHERE file_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear file membership: %w", err)
	}
	if len(memberIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_documents (file_id, document_id)
			SELECT $1, unnest($2::uuid[])
			ON CONFLICT DO NOTHING`, id, pq.Array(memberIDs)); err != nil {
			return fmt.Errorf("failed to insert file membership: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file summary: %w", err)
	}
	return nil
}

// MembersByTags returns documents whose tag set intersects the given
// tags (any match), newest first.
func (s *FileStore) MembersByTags(ctx context.Context, userID string, tags []string) ([]*models.Document, error) {
	var docs []*models.Document
	err := s.db.SelectContext(ctx, &docs, `
		SELECT DISTINCT `+prefixedDocumentColumns("d")+` FROM documents d
		JOIN document_tags dt ON dt.document_id = d.id
		JOIN tags t ON t.id = dt.tag_id
		WHERE d.user_id = $1 AND t.tag_normalized = ANY($2)
		ORDER BY d.created_at DESC`,
		userID, pq.Array(normalizedTags(tags)))
	if err != nil {
		return nil, fmt.Errorf("failed to compute file membership: %w", err)
	}
	return docs, nil
}

// List returns files, newest first.
func (s *FileStore) List(ctx context.Context, limit int) ([]*models.File, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*models.File
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+fileColumns+` FROM files
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return out, nil
}

func normalizedTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if n := models.NormalizeTag(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}
