package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/llm"
	"github.com/docuflow/docuflow/pkg/models"
)

// seriesDetection is the series detector's response shape. An empty
// entity means the model found no recurring series for the document.
type seriesDetection struct {
	Entity     string         `json:"entity"`
	SeriesType string         `json:"series_type"`
	Frequency  string         `json:"frequency"`
	Metadata   map[string]any `json:"metadata"`
}

// FileDocument advances summarized|scored_summary → filed: detect the
// series, find-or-create it under the series identity lock, link the
// document, apply the canonical series tag, and refresh the tag-signature
// file. Detection sees the existing series catalog so the model reuses
// canonical entity names instead of spawning near-duplicates.
func (p *Pipeline) FileDocument(ctx context.Context, doc *models.Document) error {
	detected, err := p.detectSeries(ctx, doc)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if detected.Entity != "" {
		if err := p.fileIntoSeries(ctx, doc, detected); err != nil {
			return err
		}
	}

	if err := p.refreshFileForDocument(ctx, doc.ID); err != nil {
		return err
	}

	// The summary scorer may advance the row to scored_summary while
	// detection runs; both predecessors are fine.
	if err := p.store.Documents.TransitionFromAny(ctx, doc.ID,
		[]models.DocumentStatus{models.StatusSummarized, models.StatusScoredSummary},
		models.StatusFiled); err != nil {
		return err
	}
	p.events.Transition(ctx, doc.ID, doc.Status, models.StatusFiled)
	return nil
}

func (p *Pipeline) detectSeries(ctx context.Context, doc *models.Document) (*seriesDetection, error) {
	active, err := p.store.Prompts.Active(ctx, models.PromptSeriesDetector, "default", p.userID)
	if err != nil {
		return nil, err
	}

	catalog, err := p.store.Series.ListCatalog(ctx, p.userID, p.cfg.SeriesCatalogSize)
	if err != nil {
		return nil, err
	}

	resp, err := p.invokeLLM(ctx, events.Record{
		EventType:  "detect_series",
		DocumentID: doc.ID,
		PromptID:   active.ID,
	}, llm.Request{
		System: active.PromptText,
		Prompt: detectContext(catalog, doc),
	})
	if err != nil {
		return nil, err
	}

	var detected seriesDetection
	if err := llm.DecodeJSON(resp.Text, &detected); err != nil {
		return nil, fatal("series detector returned malformed response for %s: %w", doc.ID, err)
	}
	if detected.Entity != "" && detected.SeriesType == "" {
		return nil, fatal("series detector returned entity without series type for %s", doc.ID)
	}
	return &detected, nil
}

// fileIntoSeries resolves the detected series under its identity lock and
// links the document to it.
func (p *Pipeline) fileIntoSeries(ctx context.Context, doc *models.Document, detected *seriesDetection) error {
	entityNorm := models.NormalizeEntity(detected.Entity)
	typeNorm := models.NormalizeSeriesType(detected.SeriesType)

	lease, err := p.locker.Acquire(ctx, "series", entityNorm, typeNorm, p.userID)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	candidate := &models.Series{
		UserID:               p.userID,
		Title:                fmt.Sprintf("%s %s", detected.Entity, strings.ReplaceAll(detected.SeriesType, "_", " ")),
		Entity:               detected.Entity,
		EntityNormalized:     entityNorm,
		SeriesType:           detected.SeriesType,
		SeriesTypeNormalized: typeNorm,
		Metadata:             models.JSONMap(detected.Metadata),
	}
	if detected.Frequency != "" {
		candidate.Frequency = &detected.Frequency
	}

	series, created, err := p.store.Series.FindOrCreate(ctx, candidate)
	if err != nil {
		return err
	}
	if created {
		p.logger.Info("Created series",
			"series_id", series.ID, "entity", series.Entity, "series_type", series.SeriesType)
	}

	if err := p.store.Series.AssignDocument(ctx, series.ID, doc.ID); err != nil {
		return err
	}
	// Canonical tag keyed on the stored entity, not the detected one, so
	// every document of the series lands on the same tag.
	if _, err := p.store.Tags.Apply(ctx, doc.ID, models.SeriesTag(series.Entity), models.TagCreatedBySystem); err != nil {
		return err
	}
	return nil
}

// refreshFileForDocument upserts the file for the document's full tag set
// and flags every file whose membership the document changed.
func (p *Pipeline) refreshFileForDocument(ctx context.Context, docID string) error {
	tags, err := p.store.Tags.ListForDocument(ctx, docID)
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}

	file, err := p.store.Files.UpsertBySignature(ctx, p.userID, tags)
	if err != nil {
		return err
	}

	seen := map[string]bool{file.ID: true}
	for _, tag := range tags {
		ids, err := p.store.Files.MarkOutdatedByTag(ctx, p.userID, tag)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				p.events.FileTransition(ctx, id, models.FileStatusGenerated, models.FileStatusOutdated)
			}
		}
	}
	return nil
}

func detectContext(catalog []*models.Series, doc *models.Document) string {
	var b strings.Builder
	b.WriteString("Existing series catalog:\n")
	if len(catalog) == 0 {
		b.WriteString("(none yet)\n")
	}
	for _, s := range catalog {
		freq := "unknown"
		if s.Frequency != nil {
			freq = *s.Frequency
		}
		fmt.Fprintf(&b, "- entity: %q, series_type: %q, frequency: %s, tag: %s, documents: %d\n",
			s.Entity, s.SeriesType, freq, models.SeriesTag(s.Entity), s.DocumentCount)
	}

	fmt.Fprintf(&b, "\nDocument type: %s\n", doc.Type())
	if len(doc.StructuredDataGeneric) > 0 {
		if data, err := json.Marshal(doc.StructuredDataGeneric); err == nil {
			fmt.Fprintf(&b, "\nStructured data:\n%s\n", data)
		}
	}
	b.WriteString("\nDocument text:\n")
	b.WriteString(truncate(doc.Text(), documentTextLimit))
	return b.String()
}
