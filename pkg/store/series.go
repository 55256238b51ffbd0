package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/docuflow/docuflow/pkg/models"
)

const seriesColumns = `
	id, user_id, title, entity, entity_normalized, series_type,
	series_type_normalized, frequency, metadata, active_prompt_id,
	regeneration_pending, document_count, created_at, updated_at`

// SeriesStore manages series rows and the document_series junction.
type SeriesStore struct {
	db *sqlx.DB
}

// Get fetches one series by id.
func (s *SeriesStore) Get(ctx context.Context, id string) (*models.Series, error) {
	var sr models.Series
	err := s.db.GetContext(ctx, &sr,
		`SELECT `+seriesColumns+` FROM series WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get series %s: %w", id, err)
	}
	return &sr, nil
}

// FindOrCreate looks up a series by its normalized identity inside a
// transaction with SELECT … FOR UPDATE, creating it when absent. The
// caller must hold the matching advisory lock; the row lock makes the
// read-or-create atomic even if a second orchestrator skips the advisory
// lock discipline.
func (s *SeriesStore) FindOrCreate(ctx context.Context, sr *models.Series) (*models.Series, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing models.Series
	err = tx.GetContext(ctx, &existing, `
		SELECT `+seriesColumns+` FROM series
		WHERE entity_normalized = $1 AND series_type_normalized = $2 AND user_id = $3
		FOR UPDATE`,
		sr.EntityNormalized, sr.SeriesTypeNormalized, sr.UserID)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit series lookup: %w", err)
		}
		return &existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("failed to look up series: %w", err)
	}

	metadata, err := json.Marshal(sr.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal series metadata: %w", err)
	}

	created := *sr
	created.ID = uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO series (id, user_id, title, entity, entity_normalized,
		                    series_type, series_type_normalized, frequency, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		created.ID, created.UserID, created.Title, created.Entity,
		created.EntityNormalized, created.SeriesType, created.SeriesTypeNormalized,
		created.Frequency, metadata)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, ErrAlreadyExists
		}
		return nil, false, fmt.Errorf("failed to create series: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit series create: %w", err)
	}
	return &created, true, nil
}

// AssignDocument links a document to a series (idempotent) and bumps the
// series document count on first link.
func (s *SeriesStore) AssignDocument(ctx context.Context, seriesID, documentID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO document_series (document_id, series_id)
		VALUES ($1, $2)
		ON CONFLICT (document_id, series_id) DO NOTHING`,
		documentID, seriesID)
	if err != nil {
		return fmt.Errorf("failed to assign document %s to series %s: %w", documentID, seriesID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE series SET document_count = document_count + 1, updated_at = now()
		WHERE id = $1`, seriesID)
	if err != nil {
		return fmt.Errorf("failed to bump series document count: %w", err)
	}
	return nil
}

// SeriesForDocument returns the series a document belongs to, or
// ErrNotFound when unfiled.
func (s *SeriesStore) SeriesForDocument(ctx context.Context, documentID string) (*models.Series, error) {
	var sr models.Series
	err := s.db.GetContext(ctx, &sr, `
		SELECT `+seriesColumns+` FROM series sr
		JOIN document_series ds ON ds.series_id = sr.id
		WHERE ds.document_id = $1
		LIMIT 1`, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get series for document %s: %w", documentID, err)
	}
	return &sr, nil
}

// SetActivePrompt points the series at a prompt version. Used only under
// the series_prompt_lock.
func (s *SeriesStore) SetActivePrompt(ctx context.Context, seriesID, promptID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE series SET active_prompt_id = $1, updated_at = now()
		WHERE id = $2`, promptID, seriesID)
	if err != nil {
		return fmt.Errorf("failed to set active prompt for series %s: %w", seriesID, err)
	}
	return nil
}

// SetRegenerationPending flips the regeneration flag.
func (s *SeriesStore) SetRegenerationPending(ctx context.Context, seriesID string, pending bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE series SET regeneration_pending = $1, updated_at = now()
		WHERE id = $2`, pending, seriesID)
	if err != nil {
		return fmt.Errorf("failed to set regeneration_pending for series %s: %w", seriesID, err)
	}
	return nil
}

// ListCatalog returns the top-n series by document count, for the series
// detector's context.
func (s *SeriesStore) ListCatalog(ctx context.Context, userID string, n int) ([]*models.Series, error) {
	var out []*models.Series
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+seriesColumns+` FROM series
		WHERE user_id = $1
		ORDER BY document_count DESC, created_at ASC
		LIMIT $2`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list series catalog: %w", err)
	}
	return out, nil
}

// ListRegenerationPending returns series awaiting regeneration.
func (s *SeriesStore) ListRegenerationPending(ctx context.Context) ([]*models.Series, error) {
	var out []*models.Series
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+seriesColumns+` FROM series
		WHERE regeneration_pending
		ORDER BY updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list regeneration-pending series: %w", err)
	}
	return out, nil
}

// List returns all series, newest first.
func (s *SeriesStore) List(ctx context.Context, limit int) ([]*models.Series, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*models.Series
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+seriesColumns+` FROM series
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	return out, nil
}
