package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/docuflow/docuflow/pkg/models"
)

// documentColumns are the scannable columns of the documents table
// (extracted_text_tsv is derived and never read back into Go).
const documentColumns = `
	id, user_id, filename, folder_path, status, document_type,
	extracted_text, structured_data, structured_data_generic, summary,
	series_prompt_id, extraction_method, avg_confidence, retry_count,
	error_message, created_at, updated_at`

// DocumentStore manages document rows.
type DocumentStore struct {
	db *sqlx.DB
}

// Create inserts a new document in pending state.
func (s *DocumentStore) Create(ctx context.Context, doc *models.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, user_id, filename, folder_path, status)
		VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.UserID, doc.Filename, doc.FolderPath, models.StatusPending)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// Get fetches one document by id.
func (s *DocumentStore) Get(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.db.GetContext(ctx, &doc,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return &doc, nil
}

// Exists reports whether a document row exists.
func (s *DocumentStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("failed to check document existence: %w", err)
	}
	return exists, nil
}

// TransitionStatus moves a document from an expected status to a new one.
// The update succeeds iff the current status matches; otherwise
// ErrConflict is returned and nothing is written.
func (s *DocumentStore) TransitionStatus(ctx context.Context, id string, from, to models.DocumentStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition document %s to %s: %w", id, to, err)
	}
	return conflictUnlessOneRow(res)
}

// TransitionFromAny moves a document to a new status from any of the
// allowed predecessors. Steps whose predecessor may be advanced by a
// background scorer (classified → scored_classification, summarized →
// scored_summary) accept both, so losing that benign race does not burn
// a retry.
func (s *DocumentStore) TransitionFromAny(ctx context.Context, id string, from []models.DocumentStatus, to models.DocumentStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = $1, updated_at = now()
		WHERE id = $2 AND status = ANY($3)`,
		to, id, pq.Array(statusStrings(from)))
	if err != nil {
		return fmt.Errorf("failed to transition document %s to %s: %w", id, to, err)
	}
	return conflictUnlessOneRow(res)
}

// SetOCRResult persists OCR output and advances the status in one write.
func (s *DocumentStore) SetOCRResult(ctx context.Context, id string, from, to models.DocumentStatus, text string, avgConfidence float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, extracted_text = $2, avg_confidence = $3, updated_at = now()
		WHERE id = $4 AND status = $5`,
		to, text, avgConfidence, id, from)
	if err != nil {
		return fmt.Errorf("failed to set OCR result for %s: %w", id, err)
	}
	return conflictUnlessOneRow(res)
}

// SetClassification records the classifier output and advances the status.
func (s *DocumentStore) SetClassification(ctx context.Context, id string, from, to models.DocumentStatus, documentType string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, document_type = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		to, documentType, id, from)
	if err != nil {
		return fmt.Errorf("failed to set classification for %s: %w", id, err)
	}
	return conflictUnlessOneRow(res)
}

// SetGenericExtraction persists the generic structured extraction. It is
// written exactly once per successful summarize; the status condition
// guarantees that. from carries both the unscored and scored predecessor
// because the classification scorer may advance the row mid-step.
func (s *DocumentStore) SetGenericExtraction(ctx context.Context, id string, from []models.DocumentStatus, to models.DocumentStatus, data models.JSONMap, summary string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal generic extraction: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, structured_data_generic = $2, summary = $3,
		    extraction_method = 'generic', updated_at = now()
		WHERE id = $4 AND status = ANY($5)`,
		to, payload, summary, id, pq.Array(statusStrings(from)))
	if err != nil {
		return fmt.Errorf("failed to set generic extraction for %s: %w", id, err)
	}
	return conflictUnlessOneRow(res)
}

// SetSeriesExtraction (re)writes the series-scoped extraction for the
// given prompt. Unlike the generic extraction it is overwritten on every
// series pass, including regeneration, so no status condition applies
// when expected status is empty.
func (s *DocumentStore) SetSeriesExtraction(ctx context.Context, id string, from, to models.DocumentStatus, data models.JSONMap, promptID string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal series extraction: %w", err)
	}

	method := `CASE WHEN structured_data_generic IS NULL THEN 'series' ELSE 'both' END`

	if from == "" {
		_, err = s.db.ExecContext(ctx, `
			UPDATE documents
			SET structured_data = $1, series_prompt_id = $2,
			    extraction_method = `+method+`, updated_at = now()
			WHERE id = $3`,
			payload, promptID, id)
		if err != nil {
			return fmt.Errorf("failed to set series extraction for %s: %w", id, err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, structured_data = $2, series_prompt_id = $3,
		    extraction_method = `+method+`, updated_at = now()
		WHERE id = $4 AND status = $5`,
		to, payload, promptID, id, from)
	if err != nil {
		return fmt.Errorf("failed to set series extraction for %s: %w", id, err)
	}
	return conflictUnlessOneRow(res)
}

func statusStrings(statuses []models.DocumentStatus) []string {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}
	return vals
}

// ListByStatus returns documents in any of the given statuses, oldest
// updated first, capped at limit.
func (s *DocumentStore) ListByStatus(ctx context.Context, statuses []models.DocumentStatus, limit int) ([]*models.Document, error) {
	vals := statusStrings(statuses)
	query, args, err := sqlx.In(`
		SELECT `+documentColumns+` FROM documents
		WHERE status IN (?)
		ORDER BY updated_at ASC
		LIMIT ?`, vals, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build status query: %w", err)
	}

	var docs []*models.Document
	if err := s.db.SelectContext(ctx, &docs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list documents by status: %w", err)
	}
	return docs, nil
}

// ListStale returns documents sitting in any in-flight sub-state whose
// updated_at is older than the threshold. Used by the recovery sweep.
func (s *DocumentStore) ListStale(ctx context.Context, statuses []models.DocumentStatus, olderThan time.Time) ([]*models.Document, error) {
	vals := statusStrings(statuses)
	query, args, err := sqlx.In(`
		SELECT `+documentColumns+` FROM documents
		WHERE status IN (?) AND updated_at < ?`, vals, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to build stale query: %w", err)
	}

	var docs []*models.Document
	if err := s.db.SelectContext(ctx, &docs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list stale documents: %w", err)
	}
	return docs, nil
}

// ResetStale moves a stale in-flight document back to its prior state and
// increments its retry count, conditional on the stale status.
func (s *DocumentStore) ResetStale(ctx context.Context, id string, from, to models.DocumentStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, retry_count = retry_count + 1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("failed to reset stale document %s: %w", id, err)
	}
	return conflictUnlessOneRow(res)
}

// IncrementRetry bumps retry_count and returns the new value.
func (s *DocumentStore) IncrementRetry(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		UPDATE documents SET retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING retry_count`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment retry for %s: %w", id, err)
	}
	return count, nil
}

// MarkFailed moves a document to the terminal failed state.
func (s *DocumentStore) MarkFailed(ctx context.Context, id, errorMessage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND status NOT IN ($4, $5)`,
		models.StatusFailed, errorMessage, id, models.StatusCompleted, models.StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to mark document %s failed: %w", id, err)
	}
	return nil
}

// ResetForReprocess returns a failed document to pending with a clean
// retry budget. Manual operation only.
func (s *DocumentStore) ResetForReprocess(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, retry_count = 0, error_message = NULL, updated_at = now()
		WHERE id = $2 AND status = $3`,
		models.StatusPending, id, models.StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to reset document %s: %w", id, err)
	}
	return conflictUnlessOneRow(res)
}

// ListBySeries returns all documents linked to a series.
func (s *DocumentStore) ListBySeries(ctx context.Context, seriesID string) ([]*models.Document, error) {
	var docs []*models.Document
	err := s.db.SelectContext(ctx, &docs, `
		SELECT `+documentColumns+` FROM documents d
		JOIN document_series ds ON ds.document_id = d.id
		WHERE ds.series_id = $1
		ORDER BY d.created_at ASC`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to list series documents: %w", err)
	}
	return docs, nil
}

// List returns documents, optionally filtered by status, newest first.
func (s *DocumentStore) List(ctx context.Context, status string, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	var docs []*models.Document
	var err error
	if status != "" {
		err = s.db.SelectContext(ctx, &docs, `
			SELECT `+documentColumns+` FROM documents
			WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, status, limit)
	} else {
		err = s.db.SelectContext(ctx, &docs, `
			SELECT `+documentColumns+` FROM documents
			ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// conflictUnlessOneRow maps a zero-row conditional update to ErrConflict.
func conflictUnlessOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// isUniqueViolation detects PostgreSQL unique_violation (23505) without
// binding the store layer to a specific driver error type.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
