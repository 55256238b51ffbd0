package pipeline

import (
	"context"
	"encoding/json"

	"github.com/docuflow/docuflow/pkg/models"
)

// RunOCR advances pending → ocr_in_progress → ocr_completed. The
// in-progress sub-state excludes concurrent OCR of the same document;
// a crash mid-step leaves the row for the recovery sweep.
func (p *Pipeline) RunOCR(ctx context.Context, doc *models.Document) error {
	if err := p.transition(ctx, doc.ID, models.StatusPending, models.StatusOCRInProgress); err != nil {
		return err
	}

	result, elapsed, err := p.extractOCR(ctx, doc.FolderPath)
	if err != nil {
		// Give the document back to the dispatcher; the orchestrator
		// charges the retry budget.
		_ = p.store.Documents.TransitionStatus(ctx, doc.ID, models.StatusOCRInProgress, models.StatusPending)
		return err
	}

	p.events.OCRCall(ctx, doc.ID, elapsed.Milliseconds(), map[string]any{
		"pages":          result.DocumentCount,
		"avg_confidence": result.AvgConfidence,
	})

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if result.FullText == "" {
		return fatalNoRetry("ocr produced no text for document %s", doc.ID)
	}

	if err := p.writeArtifact(doc.ID+".txt", []byte(result.FullText)); err != nil {
		return err
	}
	blocks, err := json.Marshal(result)
	if err == nil {
		err = p.writeArtifact(doc.ID+"_llm.json", blocks)
	}
	if err != nil {
		return err
	}

	if err := p.store.Documents.SetOCRResult(ctx, doc.ID,
		models.StatusOCRInProgress, models.StatusOCRCompleted,
		result.FullText, result.AvgConfidence); err != nil {
		return err
	}
	p.events.Transition(ctx, doc.ID, models.StatusOCRInProgress, models.StatusOCRCompleted)

	p.logger.Info("OCR completed",
		"document_id", doc.ID,
		"pages", result.DocumentCount,
		"avg_confidence", result.AvgConfidence)
	return nil
}
