package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/docuflow/docuflow/pkg/config"
	"github.com/docuflow/docuflow/pkg/database"
	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/llm"
	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/store"
)

// sampleTextLimit bounds how much document text is sent to schema
// inference.
const sampleTextLimit = 6000

// Engine owns prompt lifecycle decisions. All writes that change which
// version of a family is active happen under the matching advisory lock.
type Engine struct {
	store  *store.Store
	llm    llm.Client
	locker *database.Locker
	events *events.Logger
	cfg    *config.PipelineConfig
	userID string
	logger *slog.Logger
}

// NewEngine wires the prompt engine.
func NewEngine(st *store.Store, client llm.Client, locker *database.Locker, ev *events.Logger, cfg *config.PipelineConfig, userID string, logger *slog.Logger) *Engine {
	return &Engine{
		store:  st,
		llm:    client,
		locker: locker,
		events: ev,
		cfg:    cfg,
		userID: userID,
		logger: logger.With("component", "prompt_engine"),
	}
}

// ShouldEvolve applies the evolution gate to a freshly observed score.
// All conditions must hold: the prompt is evolvable, has a baseline built
// from enough documents, sits below its ceiling, and the new score beats
// the baseline by more than the configured threshold.
func (e *Engine) ShouldEvolve(p *models.Prompt, newScore float64) bool {
	if !p.CanEvolve || p.PerformanceScore == nil {
		return false
	}
	if p.DocumentsProcessed < e.cfg.MinDocumentsForScoring {
		return false
	}
	if p.ScoreCeiling != nil && *p.PerformanceScore >= *p.ScoreCeiling {
		return false
	}
	return newScore > *p.PerformanceScore+e.cfg.PromptUpdateThreshold
}

// Evolve replaces the active version of p's family with evolvedText under
// the family lock. Returns nil without error when another worker already
// evolved past p (the caller's view was stale) or when the lock wait
// timed out; both are soft outcomes, retried naturally by later scores.
func (e *Engine) Evolve(ctx context.Context, p *models.Prompt, evolvedText string) (*models.Prompt, error) {
	lease, err := e.locker.Acquire(ctx, "prompt_family", string(p.PromptType), p.DocumentType, p.UserID)
	if err != nil {
		if database.IsLockTimeout(err) {
			e.logger.Warn("Prompt family lock wait timed out, deferring evolution",
				"prompt_type", p.PromptType, "document_type", p.DocumentType)
			return nil, nil
		}
		return nil, err
	}
	defer lease.Release(ctx)

	// Re-read inside the lock; evolve only if our version is still active.
	current, err := e.store.Prompts.Active(ctx, p.PromptType, p.DocumentType, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read prompt family: %w", err)
	}
	if current.ID != p.ID {
		e.logger.Info("Prompt already evolved by another worker, skipping",
			"prompt_id", p.ID, "active_id", current.ID)
		return nil, nil
	}

	next, err := e.store.Prompts.InsertNextVersion(ctx, current, evolvedText)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Prompt evolved",
		"prompt_type", next.PromptType,
		"document_type", next.DocumentType,
		"version", next.Version,
		"prompt_id", next.ID)
	e.events.PromptEvent(ctx, next.ID, "evolved", map[string]any{
		"prompt_type":   string(next.PromptType),
		"document_type": next.DocumentType,
		"version":       next.Version,
		"previous_id":   p.ID,
	})

	// An evolved series prompt invalidates every extraction made with the
	// old version; flag the series for regeneration.
	if next.PromptType == models.PromptSeriesSummarizer {
		seriesID := next.DocumentType
		if err := e.store.Series.SetActivePrompt(ctx, seriesID, next.ID); err != nil {
			return nil, err
		}
		if err := e.store.Series.SetRegenerationPending(ctx, seriesID, true); err != nil {
			return nil, err
		}
		e.events.Regeneration(ctx, seriesID, "scheduled", map[string]any{
			"prompt_id": next.ID,
		})
	}
	return next, nil
}

// seriesPromptInference is the schema-inference response shape.
type seriesPromptInference struct {
	SchemaDefinition map[string]any `json:"schema_definition"`
	PromptText       string         `json:"prompt_text"`
}

// EnsureSeriesPrompt returns the series' active prompt, creating it on
// first use. Creation runs under the per-series lock with a re-read so
// concurrent documents of a brand-new series produce exactly one prompt.
func (e *Engine) EnsureSeriesPrompt(ctx context.Context, series *models.Series, sampleText string, genericData models.JSONMap) (*models.Prompt, error) {
	if series.ActivePromptID != nil {
		return e.store.Prompts.Get(ctx, *series.ActivePromptID)
	}

	lease, err := e.locker.Acquire(ctx, "series_prompt", series.ID)
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	current, err := e.store.Series.Get(ctx, series.ID)
	if err != nil {
		return nil, err
	}
	if current.ActivePromptID != nil {
		return e.store.Prompts.Get(ctx, *current.ActivePromptID)
	}

	inferred, resp, err := e.inferSeriesPrompt(ctx, current, sampleText, genericData)
	if err != nil {
		return nil, err
	}

	ceiling := e.cfg.ScoreCeilingDefault
	p := &models.Prompt{
		UserID:       e.userID,
		PromptType:   models.PromptSeriesSummarizer,
		DocumentType: current.ID,
		PromptText:   inferred.PromptText,
		Version:      1,
		IsActive:     true,
		PerformanceMetrics: models.JSONMap{
			models.SchemaDefinitionKey: inferred.SchemaDefinition,
		},
		CanEvolve:           true,
		ScoreCeiling:        &ceiling,
		RegeneratesOnUpdate: true,
	}
	if err := e.store.Prompts.Insert(ctx, p); err != nil {
		return nil, err
	}
	if err := e.store.Series.SetActivePrompt(ctx, current.ID, p.ID); err != nil {
		return nil, err
	}

	e.logger.Info("Created series prompt",
		"series_id", current.ID, "entity", current.Entity, "prompt_id", p.ID)
	e.events.PromptEvent(ctx, p.ID, "created", map[string]any{
		"series_id": current.ID,
		"model_id":  resp.ModelID,
	})
	return p, nil
}

func (e *Engine) inferSeriesPrompt(ctx context.Context, series *models.Series, sampleText string, genericData models.JSONMap) (*seriesPromptInference, *llm.Response, error) {
	generic, err := json.Marshal(genericData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal generic extraction: %w", err)
	}

	freq := "unknown"
	if series.Frequency != nil {
		freq = *series.Frequency
	}
	user := fmt.Sprintf(
		"Series: %s (%s, %s)\n\nGeneric extraction of a sample document:\n%s\n\nSample document text:\n%s",
		series.Entity, series.SeriesType, freq,
		generic, truncate(sampleText, sampleTextLimit))

	resp, err := e.llm.Invoke(ctx, llm.Request{
		System: SchemaInferenceInstructions,
		Prompt: user,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("schema inference failed for series %s: %w", series.ID, err)
	}
	e.events.LLMCall(ctx, events.Record{
		EventType:      "series_prompt_inference",
		SeriesID:       series.ID,
		ModelID:        resp.ModelID,
		RequestTokens:  resp.RequestTokens,
		ResponseTokens: resp.ResponseTokens,
		LatencyMS:      resp.LatencyMS,
	})

	var inferred seriesPromptInference
	if err := llm.DecodeJSON(resp.Text, &inferred); err != nil {
		return nil, nil, fmt.Errorf("schema inference returned malformed response: %w", err)
	}
	if inferred.PromptText == "" || len(inferred.SchemaDefinition) == 0 {
		return nil, nil, fmt.Errorf("schema inference returned incomplete response for series %s", series.ID)
	}
	return &inferred, resp, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
