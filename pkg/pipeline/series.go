package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/llm"
	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/store"
)

// SummarizeSeries advances filed → series_summarizing →
// series_summarized. Documents without a series go filed → completed
// instead. First contact with a brand-new series creates its prompt under
// the per-series lock.
func (p *Pipeline) SummarizeSeries(ctx context.Context, doc *models.Document) error {
	series, err := p.store.Series.SeriesForDocument(ctx, doc.ID)
	if errors.Is(err, store.ErrNotFound) {
		return p.Complete(ctx, doc, models.StatusFiled)
	}
	if err != nil {
		return err
	}

	if err := p.transition(ctx, doc.ID, models.StatusFiled, models.StatusSeriesSummarizing); err != nil {
		return err
	}

	active, err := p.prompts.EnsureSeriesPrompt(ctx, series, doc.Text(), doc.StructuredDataGeneric)
	if err != nil {
		// Lock timeouts and adapter failures both hand the document back
		// to the dispatcher.
		_ = p.store.Documents.TransitionStatus(ctx, doc.ID, models.StatusSeriesSummarizing, models.StatusFiled)
		return err
	}

	data, err := p.extractWithSeriesPrompt(ctx, doc, active)
	if err != nil {
		_ = p.store.Documents.TransitionStatus(ctx, doc.ID, models.StatusSeriesSummarizing, models.StatusFiled)
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := p.store.Documents.SetSeriesExtraction(ctx, doc.ID,
		models.StatusSeriesSummarizing, models.StatusSeriesSummarized,
		data, active.ID); err != nil {
		return err
	}
	p.events.Transition(ctx, doc.ID, models.StatusSeriesSummarizing, models.StatusSeriesSummarized)

	p.logger.Info("Series extraction completed",
		"document_id", doc.ID,
		"series_id", series.ID,
		"prompt_id", active.ID,
		"prompt_version", active.Version)
	return nil
}

// extractWithSeriesPrompt runs the series-scoped extraction. A result
// that misses declared schema fields is persisted anyway with a warning
// event; partial data beats no data, and scoring will push the prompt to
// improve.
func (p *Pipeline) extractWithSeriesPrompt(ctx context.Context, doc *models.Document, active *models.Prompt) (models.JSONMap, error) {
	resp, err := p.invokeLLM(ctx, events.Record{
		EventType:  "series_extract",
		DocumentID: doc.ID,
		PromptID:   active.ID,
	}, llm.Request{
		System: active.PromptText,
		Prompt: fmt.Sprintf("Document text:\n%s", truncate(doc.Text(), documentTextLimit)),
	})
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := llm.DecodeJSON(resp.Text, &data); err != nil {
		return nil, fatal("series extraction returned malformed response for %s: %w", doc.ID, err)
	}

	if missing := missingSchemaFields(active.SchemaDefinition(), data); len(missing) > 0 {
		p.logger.Warn("Series extraction missed schema fields",
			"document_id", doc.ID, "prompt_id", active.ID, "missing", missing)
		p.events.Error(ctx, "schema_mismatch", events.Record{
			DocumentID: doc.ID,
			PromptID:   active.ID,
			Details:    map[string]any{"missing_fields": missing},
		})
	}
	return models.JSONMap(data), nil
}

func missingSchemaFields(schema models.JSONMap, data map[string]any) []string {
	var missing []string
	for field := range schema {
		if _, ok := data[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}
