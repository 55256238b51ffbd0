package pipeline

import (
	"context"

	"github.com/docuflow/docuflow/pkg/models"
)

// RegenerateSeries re-extracts every document of a series whose
// series_prompt_id lags the active prompt, then clears
// regeneration_pending. Extractions here never invoke the scorer;
// scoring a regeneration could trigger another evolution and recurse.
func (p *Pipeline) RegenerateSeries(ctx context.Context, series *models.Series) error {
	if series.ActivePromptID == nil {
		// Nothing to regenerate against; clear the flag so the worker
		// stops picking this series up.
		return p.store.Series.SetRegenerationPending(ctx, series.ID, false)
	}

	active, err := p.store.Prompts.Get(ctx, *series.ActivePromptID)
	if err != nil {
		return err
	}

	docs, err := p.store.Documents.ListBySeries(ctx, series.ID)
	if err != nil {
		return err
	}

	regenerated := 0
	for _, doc := range docs {
		if doc.SeriesPromptID != nil && *doc.SeriesPromptID == active.ID {
			continue
		}
		if doc.Status == models.StatusPending || doc.Status == models.StatusFailed {
			// Not yet extracted or dead; the normal lifecycle or a manual
			// reprocess handles these.
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		data, err := p.extractWithSeriesPrompt(ctx, doc, active)
		if err != nil {
			return err
		}
		// Unconditional write: regeneration updates the extraction in
		// place without touching the lifecycle status.
		if err := p.store.Documents.SetSeriesExtraction(ctx, doc.ID, "", "", data, active.ID); err != nil {
			return err
		}
		regenerated++
	}

	if err := p.store.Series.SetRegenerationPending(ctx, series.ID, false); err != nil {
		return err
	}
	p.events.Regeneration(ctx, series.ID, "completed", map[string]any{
		"prompt_id":   active.ID,
		"regenerated": regenerated,
		"documents":   len(docs),
	})
	p.logger.Info("Series regeneration completed",
		"series_id", series.ID, "regenerated", regenerated, "documents", len(docs))
	return nil
}
