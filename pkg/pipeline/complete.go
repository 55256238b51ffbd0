package pipeline

import (
	"context"
	"errors"

	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/store"
)

// Complete finishes the lifecycle: series_summarized → completed, or
// filed → completed for documents without a series. Before completing a
// series document it checks that the extraction was produced by the
// series' currently active prompt; a pending regeneration defers
// completion until the regeneration worker has caught the document up.
func (p *Pipeline) Complete(ctx context.Context, doc *models.Document, from models.DocumentStatus) error {
	series, err := p.store.Series.SeriesForDocument(ctx, doc.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if series != nil && series.ActivePromptID != nil {
		current := doc.SeriesPromptID != nil && *doc.SeriesPromptID == *series.ActivePromptID
		if !current {
			if series.RegenerationPending {
				// The regeneration worker will rewrite this document;
				// complete on a later tick.
				return nil
			}
			// Stale prompt without a scheduled regeneration points at a
			// regeneration bug. Record it loudly but do not wedge the
			// document.
			p.logger.Error("Completing document with stale series prompt",
				"document_id", doc.ID,
				"series_id", series.ID,
				"document_prompt_id", doc.SeriesPromptID,
				"active_prompt_id", *series.ActivePromptID)
			p.events.Error(ctx, "stale_series_prompt", events.Record{
				DocumentID: doc.ID,
				SeriesID:   series.ID,
				Details: map[string]any{
					"active_prompt_id": *series.ActivePromptID,
				},
			})
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := p.transition(ctx, doc.ID, from, models.StatusCompleted); err != nil {
		return err
	}
	p.logger.Info("Document completed", "document_id", doc.ID)
	return nil
}
