package pipeline

import (
	"context"
	"fmt"

	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/llm"
	"github.com/docuflow/docuflow/pkg/models"
)

// genericExtraction is the summarizer's response shape.
type genericExtraction struct {
	StructuredData map[string]any `json:"structured_data"`
	Summary        string         `json:"summary"`
}

// parseGenericExtraction validates the summarizer response. A completed
// document must carry both a summary and populated structured data, so an
// empty extraction is as fatal as a malformed one.
func parseGenericExtraction(docID, text string) (*genericExtraction, error) {
	var result genericExtraction
	if err := llm.DecodeJSON(text, &result); err != nil {
		return nil, fatal("summarizer returned malformed response for %s: %w", docID, err)
	}
	if result.Summary == "" {
		return nil, fatal("summarizer returned no summary for %s", docID)
	}
	if len(result.StructuredData) == 0 {
		return nil, fatal("summarizer returned no structured data for %s", docID)
	}
	return &result, nil
}

// Summarize advances classified|scored_classification → summarized using
// the active summarizer prompt for the document's type (falling back to
// the default family).
func (p *Pipeline) Summarize(ctx context.Context, doc *models.Document) error {
	active, err := p.store.Prompts.ActiveOrDefault(ctx, models.PromptSummarizer, doc.Type(), p.userID)
	if err != nil {
		return err
	}

	resp, err := p.invokeLLM(ctx, events.Record{
		EventType:  "summarize",
		DocumentID: doc.ID,
		PromptID:   active.ID,
	}, llm.Request{
		System: active.PromptText,
		Prompt: fmt.Sprintf("Document type: %s\n\nDocument text:\n%s",
			doc.Type(), truncate(doc.Text(), documentTextLimit)),
	})
	if err != nil {
		return err
	}

	result, err := parseGenericExtraction(doc.ID, resp.Text)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := p.writeArtifact(doc.ID+"_generic.json", []byte(resp.Text)); err != nil {
		return err
	}

	// The classification scorer may advance the row to
	// scored_classification while the model call runs; both predecessors
	// are fine.
	if err := p.store.Documents.SetGenericExtraction(ctx, doc.ID,
		[]models.DocumentStatus{models.StatusClassified, models.StatusScoredClassification},
		models.StatusSummarized,
		models.JSONMap(result.StructuredData), result.Summary); err != nil {
		return err
	}
	p.events.Transition(ctx, doc.ID, doc.Status, models.StatusSummarized)

	p.logger.Info("Document summarized",
		"document_id", doc.ID,
		"document_type", doc.Type(),
		"fields", len(result.StructuredData))
	return nil
}
