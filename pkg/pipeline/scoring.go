package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/llm"
	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/prompt"
	"github.com/docuflow/docuflow/pkg/store"
)

// scorerVerdict is the scorer's response shape.
type scorerVerdict struct {
	Score          float64 `json:"score"`
	Reasoning      string  `json:"reasoning"`
	ImprovedPrompt string  `json:"improved_prompt"`
}

// ScoreClassification grades the classifier output for a document and
// opportunistically advances classified → scored_classification. Runs in
// the background; a conflict on the advance means the summarize step got
// there first, which is fine.
func (p *Pipeline) ScoreClassification(ctx context.Context, doc *models.Document) error {
	active, err := p.store.Prompts.Active(ctx, models.PromptClassifier, "default", p.userID)
	if err != nil {
		return err
	}

	tags, err := p.store.Tags.ListForDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	output, err := json.Marshal(map[string]any{
		"document_type": doc.Type(),
		"tags":          tags,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal classification output: %w", err)
	}

	if err := p.runScorer(ctx, doc, active, string(output)); err != nil {
		return err
	}

	err = p.store.Documents.TransitionStatus(ctx, doc.ID, models.StatusClassified, models.StatusScoredClassification)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	if err == nil {
		p.events.Transition(ctx, doc.ID, models.StatusClassified, models.StatusScoredClassification)
	}
	return nil
}

// ScoreSummary grades the generic extraction and opportunistically
// advances summarized → scored_summary.
func (p *Pipeline) ScoreSummary(ctx context.Context, doc *models.Document) error {
	active, err := p.store.Prompts.ActiveOrDefault(ctx, models.PromptSummarizer, doc.Type(), p.userID)
	if err != nil {
		return err
	}

	output, err := json.Marshal(map[string]any{
		"structured_data": doc.StructuredDataGeneric,
		"summary":         doc.Summary,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal summary output: %w", err)
	}

	if err := p.runScorer(ctx, doc, active, string(output)); err != nil {
		return err
	}

	err = p.store.Documents.TransitionStatus(ctx, doc.ID, models.StatusSummarized, models.StatusScoredSummary)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	if err == nil {
		p.events.Transition(ctx, doc.ID, models.StatusSummarized, models.StatusScoredSummary)
	}
	return nil
}

// ScoreSeriesExtraction grades the series-scoped extraction. Unlike the
// other scorers it claims the document (series_summarized →
// series_scoring) so a concurrent Complete cannot finish the document
// with an evolution in flight, then hands it back. When Complete wins
// the claim race the sample is scored anyway; dropping it would starve
// series prompt evolution.
func (p *Pipeline) ScoreSeriesExtraction(ctx context.Context, doc *models.Document) error {
	if doc.SeriesPromptID == nil {
		return nil
	}
	active, err := p.store.Prompts.Get(ctx, *doc.SeriesPromptID)
	if err != nil {
		return err
	}
	if !active.IsActive {
		// Scoring a superseded prompt would feed a dead baseline.
		return nil
	}

	output, err := json.Marshal(doc.StructuredData)
	if err != nil {
		return fmt.Errorf("failed to marshal series extraction output: %w", err)
	}

	if err := p.transition(ctx, doc.ID, models.StatusSeriesSummarized, models.StatusSeriesScoring); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		// The claim races only against Complete. A finished document still
		// carries the extraction this sample grades, so the score counts;
		// any other state means the sample is stale.
		current, gerr := p.store.Documents.Get(ctx, doc.ID)
		if gerr != nil {
			return gerr
		}
		if current.Status != models.StatusCompleted {
			return nil
		}
		return p.runScorer(ctx, doc, active, string(output))
	}
	// The document goes back regardless of the scoring outcome.
	defer func() {
		if err := p.store.Documents.TransitionStatus(ctx, doc.ID,
			models.StatusSeriesScoring, models.StatusSeriesSummarized); err == nil {
			p.events.Transition(ctx, doc.ID, models.StatusSeriesScoring, models.StatusSeriesSummarized)
		}
	}()

	return p.runScorer(ctx, doc, active, string(output))
}

// runScorer executes one scoring call, folds the score into the prompt's
// running performance, and evolves the prompt when the gate opens.
func (p *Pipeline) runScorer(ctx context.Context, doc *models.Document, active *models.Prompt, output string) error {
	resp, err := p.invokeLLM(ctx, events.Record{
		EventType:  "score",
		DocumentID: doc.ID,
		PromptID:   active.ID,
	}, llm.Request{
		System: prompt.ScorerInstructions,
		Prompt: fmt.Sprintf("Prompt under evaluation:\n%s\n\nDocument text:\n%s\n\nOutput produced:\n%s",
			active.PromptText, truncate(doc.Text(), documentTextLimit), output),
	})
	if err != nil {
		return err
	}

	var verdict scorerVerdict
	if err := llm.DecodeJSON(resp.Text, &verdict); err != nil {
		return fmt.Errorf("scorer returned malformed response for %s: %w", doc.ID, err)
	}
	if verdict.Score < 0 || verdict.Score > 1 {
		return fmt.Errorf("scorer returned out-of-range score %v for %s", verdict.Score, doc.ID)
	}

	running, err := p.store.Prompts.UpdatePerformance(ctx, active.ID, verdict.Score)
	if err != nil {
		return err
	}
	p.events.Scoring(ctx, doc.ID, active.ID, "scored", map[string]any{
		"score":         verdict.Score,
		"running_score": running,
		"reasoning":     verdict.Reasoning,
	})

	// The gate compares against the baseline observed before this score
	// was folded in.
	if verdict.ImprovedPrompt == "" || !p.prompts.ShouldEvolve(active, verdict.Score) {
		return nil
	}
	next, err := p.prompts.Evolve(ctx, active, verdict.ImprovedPrompt)
	if err != nil {
		return err
	}
	if next != nil {
		p.events.Scoring(ctx, doc.ID, next.ID, "evolution_triggered", map[string]any{
			"previous_prompt_id": active.ID,
			"new_version":        next.Version,
			"score":              verdict.Score,
		})
	}
	return nil
}
