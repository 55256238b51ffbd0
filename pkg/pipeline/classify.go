package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/llm"
	"github.com/docuflow/docuflow/pkg/models"
)

// classification is the classifier's response shape.
type classification struct {
	DocumentType string   `json:"document_type"`
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
	Tags         []string `json:"tags"`
}

// Classify advances ocr_completed → classified. The classifier sees the
// known-type registry and the most common existing tag combinations so it
// converges on an existing vocabulary instead of inventing a new one per
// document.
func (p *Pipeline) Classify(ctx context.Context, doc *models.Document) error {
	active, err := p.store.Prompts.Active(ctx, models.PromptClassifier, "default", p.userID)
	if err != nil {
		return err
	}

	knownTypes, err := p.store.DocTypes.List(ctx)
	if err != nil {
		return err
	}
	combos, err := p.store.Tags.TopCombinations(ctx, p.cfg.TopTagCombinations, models.SeriesTagPrefix)
	if err != nil {
		return err
	}

	resp, err := p.invokeLLM(ctx, events.Record{
		EventType:  "classify",
		DocumentID: doc.ID,
		PromptID:   active.ID,
	}, llm.Request{
		System: active.PromptText,
		Prompt: classifyContext(knownTypes, combos, doc.Text()),
	})
	if err != nil {
		return err
	}

	var result classification
	if err := llm.DecodeJSON(resp.Text, &result); err != nil {
		return fatal("classifier returned malformed response for %s: %w", doc.ID, err)
	}
	if result.DocumentType == "" {
		return fatal("classifier returned no document type for %s", doc.ID)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// A type outside the registry is recorded as a suggestion for review;
	// the classification itself still stands.
	known, err := p.store.DocTypes.Exists(ctx, result.DocumentType)
	if err != nil {
		return err
	}
	if !known {
		if err := p.store.DocTypes.SuggestType(ctx, doc.ID, result.DocumentType); err != nil {
			return err
		}
		p.logger.Info("Classifier proposed unregistered document type",
			"document_id", doc.ID, "suggested_type", result.DocumentType)
	}

	// Tags are idempotent, so they go in before the conditional
	// transition; a conflicting re-run leaves no duplicates.
	if _, err := p.store.Tags.Apply(ctx, doc.ID, strings.ToLower(result.DocumentType), models.TagCreatedBySystem); err != nil {
		return err
	}
	for _, tag := range result.Tags {
		if _, err := p.store.Tags.Apply(ctx, doc.ID, tag, models.TagCreatedByLLM); err != nil {
			return err
		}
	}

	if err := p.store.Documents.SetClassification(ctx, doc.ID,
		models.StatusOCRCompleted, models.StatusClassified, result.DocumentType); err != nil {
		return err
	}
	p.events.Transition(ctx, doc.ID, models.StatusOCRCompleted, models.StatusClassified)

	p.logger.Info("Document classified",
		"document_id", doc.ID,
		"document_type", result.DocumentType,
		"confidence", result.Confidence,
		"tags", len(result.Tags))
	return nil
}

func classifyContext(knownTypes []string, combos [][]string, text string) string {
	var b strings.Builder
	b.WriteString("Known document types:\n")
	if len(knownTypes) == 0 {
		b.WriteString("(none yet)\n")
	}
	for _, t := range knownTypes {
		fmt.Fprintf(&b, "- %s\n", t)
	}

	b.WriteString("\nCommon tag combinations:\n")
	if len(combos) == 0 {
		b.WriteString("(none yet)\n")
	}
	for _, combo := range combos {
		fmt.Fprintf(&b, "- %s\n", strings.Join(combo, ", "))
	}

	b.WriteString("\nDocument text:\n")
	b.WriteString(truncate(text, documentTextLimit))
	return b.String()
}
