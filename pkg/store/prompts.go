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

const promptColumns = `
	id, user_id, prompt_type, document_type, prompt_text, version,
	is_active, performance_score, performance_metrics, documents_processed,
	can_evolve, score_ceiling, regenerates_on_update, created_at, updated_at`

// PromptStore manages versioned prompts. A prompt family is
// (prompt_type, document_type, user_id); at most one row per family is
// active, enforced by writers holding the family advisory lock.
type PromptStore struct {
	db *sqlx.DB
}

// Get fetches one prompt by id.
func (s *PromptStore) Get(ctx context.Context, id string) (*models.Prompt, error) {
	var p models.Prompt
	err := s.db.GetContext(ctx, &p,
		`SELECT `+promptColumns+` FROM prompts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get prompt %s: %w", id, err)
	}
	return &p, nil
}

// Active returns the active prompt of a family, or ErrNotFound.
func (s *PromptStore) Active(ctx context.Context, promptType models.PromptType, documentType, userID string) (*models.Prompt, error) {
	var p models.Prompt
	err := s.db.GetContext(ctx, &p, `
		SELECT `+promptColumns+` FROM prompts
		WHERE prompt_type = $1 AND document_type = $2 AND user_id = $3 AND is_active
		LIMIT 1`,
		promptType, documentType, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active %s prompt: %w", promptType, err)
	}
	return &p, nil
}

// ActiveOrDefault returns the active prompt for the document type,
// falling back to the family's "default" document type.
func (s *PromptStore) ActiveOrDefault(ctx context.Context, promptType models.PromptType, documentType, userID string) (*models.Prompt, error) {
	p, err := s.Active(ctx, promptType, documentType, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) || documentType == "default" {
		return nil, err
	}
	return s.Active(ctx, promptType, "default", userID)
}

// Insert creates a new prompt row. The caller supplies version and
// activation state and must hold the family lock when is_active is true.
func (s *PromptStore) Insert(ctx context.Context, p *models.Prompt) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	metrics, err := json.Marshal(p.PerformanceMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal performance metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prompts (id, user_id, prompt_type, document_type, prompt_text,
		                     version, is_active, performance_score, performance_metrics,
		                     documents_processed, can_evolve, score_ceiling,
		                     regenerates_on_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.UserID, p.PromptType, p.DocumentType, p.PromptText,
		p.Version, p.IsActive, p.PerformanceScore, metrics,
		p.DocumentsProcessed, p.CanEvolve, p.ScoreCeiling, p.RegeneratesOnUpdate)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert prompt: %w", err)
	}
	return nil
}

// InsertNextVersion deactivates every row in the prompt's family and
// inserts the evolved text as version prev+1, active, in one
// transaction. Returns the new row. Caller must hold the family lock.
func (s *PromptStore) InsertNextVersion(ctx context.Context, prev *models.Prompt, evolvedText string) (*models.Prompt, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE prompts SET is_active = FALSE, updated_at = now()
		WHERE prompt_type = $1 AND document_type = $2 AND user_id = $3 AND is_active`,
		prev.PromptType, prev.DocumentType, prev.UserID); err != nil {
		return nil, fmt.Errorf("failed to deactivate prompt family: %w", err)
	}

	var maxVersion int
	if err := tx.GetContext(ctx, &maxVersion, `
		SELECT coalesce(max(version), 0) FROM prompts
		WHERE prompt_type = $1 AND document_type = $2 AND user_id = $3`,
		prev.PromptType, prev.DocumentType, prev.UserID); err != nil {
		return nil, fmt.Errorf("failed to read prompt family version: %w", err)
	}

	next := &models.Prompt{
		ID:                  uuid.NewString(),
		UserID:              prev.UserID,
		PromptType:          prev.PromptType,
		DocumentType:        prev.DocumentType,
		PromptText:          evolvedText,
		Version:             maxVersion + 1,
		IsActive:            true,
		PerformanceMetrics:  prev.PerformanceMetrics,
		CanEvolve:           prev.CanEvolve,
		ScoreCeiling:        prev.ScoreCeiling,
		RegeneratesOnUpdate: prev.RegeneratesOnUpdate,
	}

	metrics, err := json.Marshal(next.PerformanceMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal performance metrics: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO prompts (id, user_id, prompt_type, document_type, prompt_text,
		                     version, is_active, performance_metrics, can_evolve,
		                     score_ceiling, regenerates_on_update)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9, $10)`,
		next.ID, next.UserID, next.PromptType, next.DocumentType, next.PromptText,
		next.Version, metrics, next.CanEvolve, next.ScoreCeiling,
		next.RegeneratesOnUpdate); err != nil {
		return nil, fmt.Errorf("failed to insert evolved prompt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit prompt evolution: %w", err)
	}
	return next, nil
}

// UpdatePerformance folds a new score into the prompt's running average
// and bumps documents_processed. Returns the updated running score.
func (s *PromptStore) UpdatePerformance(ctx context.Context, id string, score float64) (float64, error) {
	var running float64
	err := s.db.GetContext(ctx, &running, `
		UPDATE prompts
		SET performance_score = CASE
		        WHEN performance_score IS NULL THEN $1
		        ELSE (performance_score * documents_processed + $1) / (documents_processed + 1)
		    END,
		    documents_processed = documents_processed + 1,
		    updated_at = now()
		WHERE id = $2
		RETURNING performance_score`, score, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to update prompt performance: %w", err)
	}
	return running, nil
}

// ListByType lists prompts of one type (or all), optionally including
// archived (inactive) versions. Newest versions first.
func (s *PromptStore) ListByType(ctx context.Context, promptType string, includeArchived bool) ([]*models.Prompt, error) {
	query := `SELECT ` + promptColumns + ` FROM prompts WHERE 1=1`
	args := []any{}
	if promptType != "" {
		query += ` AND prompt_type = $1`
		args = append(args, promptType)
	}
	if !includeArchived {
		query += ` AND is_active`
	}
	query += ` ORDER BY prompt_type, document_type, version DESC`

	var out []*models.Prompt
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	return out, nil
}
