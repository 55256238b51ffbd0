package orchestrator

import (
	"context"
	"fmt"

	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/pipeline"
)

// dispatchDocuments starts one step per eligible document, up to the
// document flow cap. The in-flight map prevents double dispatch within
// this process; the conditional status updates protect across processes.
func (o *Orchestrator) dispatchDocuments(ctx context.Context) int {
	docs, err := o.store.Documents.ListByStatus(ctx, eligibleStatuses, o.cfg.MaxDocumentFlows*4)
	if err != nil {
		o.logger.Error("Failed to list eligible documents", "error", err)
		return 0
	}

	started := 0
	for _, doc := range docs {
		if o.DocFilter != "" && doc.ID != o.DocFilter {
			continue
		}
		if !o.docFlows.TryAcquire(1) {
			break
		}
		if !o.claim(o.inFlight, doc.ID) {
			o.docFlows.Release(1)
			continue
		}

		started++
		o.spawnScorer(ctx, doc)
		o.wg.Add(1)
		go func(doc *models.Document) {
			defer o.wg.Done()
			defer o.docFlows.Release(1)
			defer o.unclaim(o.inFlight, doc.ID)
			o.runDocumentStep(ctx, doc)
		}(doc)
	}
	return started
}

// runDocumentStep executes the step a document's status calls for.
func (o *Orchestrator) runDocumentStep(ctx context.Context, doc *models.Document) {
	var err error
	switch doc.Status {
	case models.StatusPending:
		err = o.pipeline.RunOCR(ctx, doc)
	case models.StatusOCRCompleted:
		err = o.pipeline.Classify(ctx, doc)
	case models.StatusClassified, models.StatusScoredClassification:
		err = o.pipeline.Summarize(ctx, doc)
	case models.StatusSummarized, models.StatusScoredSummary:
		err = o.pipeline.FileDocument(ctx, doc)
	case models.StatusFiled:
		err = o.pipeline.SummarizeSeries(ctx, doc)
	case models.StatusSeriesSummarized:
		err = o.pipeline.Complete(ctx, doc, models.StatusSeriesSummarized)
	default:
		return
	}
	if err != nil {
		o.handleStepError(ctx, doc, err)
	}
}

// handleStepError applies the retry accounting policy. Conflicts and lock
// timeouts cost nothing; cancellation and no-retry failures end the
// document; everything else consumes retry budget.
func (o *Orchestrator) handleStepError(ctx context.Context, doc *models.Document, err error) {
	switch pipeline.ClassifyErr(err) {
	case pipeline.KindConflict:
		o.logger.Debug("Step lost a status race, skipping",
			"document_id", doc.ID, "status", doc.Status)

	case pipeline.KindLockTimeout:
		o.logger.Info("Step deferred on lock timeout",
			"document_id", doc.ID, "status", doc.Status)

	case pipeline.KindCancelled:
		// The loop context is gone; the failure write gets its own.
		wctx := context.WithoutCancel(ctx)
		if ferr := o.store.Documents.MarkFailed(wctx, doc.ID, "cancelled"); ferr != nil {
			o.logger.Error("Failed to record cancellation",
				"document_id", doc.ID, "error", ferr)
			return
		}
		o.events.Transition(wctx, doc.ID, doc.Status, models.StatusFailed)
		o.logger.Warn("Document cancelled by shutdown", "document_id", doc.ID)

	case pipeline.KindFatalNoRetry:
		o.failDocument(ctx, doc, err.Error())

	default: // transient, fatal
		count, rerr := o.store.Documents.IncrementRetry(ctx, doc.ID)
		if rerr != nil {
			o.logger.Error("Failed to charge retry budget",
				"document_id", doc.ID, "error", rerr)
			return
		}
		// The max_retries-th retry is still attempted; only the failure
		// after it is terminal. Matches the recovery sweep's pre-increment
		// RetryCount >= MaxRetries check.
		if count > o.cfg.MaxRetries {
			o.failDocument(ctx, doc, fmt.Sprintf("max retries exceeded: %v", err))
			return
		}
		o.logger.Warn("Step failed, will retry",
			"document_id", doc.ID,
			"status", doc.Status,
			"retry_count", count,
			"error", err)
		o.events.Error(ctx, "step_retry", events.Record{
			DocumentID: doc.ID,
			Details:    map[string]any{"retry_count": count, "error": err.Error()},
		})
	}
}

func (o *Orchestrator) failDocument(ctx context.Context, doc *models.Document, message string) {
	if err := o.store.Documents.MarkFailed(ctx, doc.ID, message); err != nil {
		o.logger.Error("Failed to mark document failed",
			"document_id", doc.ID, "error", err)
		return
	}
	o.events.Transition(ctx, doc.ID, doc.Status, models.StatusFailed)
	o.events.Error(ctx, "document_failed", events.Record{
		DocumentID: doc.ID,
		Details:    map[string]any{"error": message},
	})
	o.logger.Error("Document failed", "document_id", doc.ID, "error", message)
}

// spawnScorer fires the background scorer matching the document's
// pre-step status. Scorers never fail the lifecycle; their errors are
// logged and the score simply doesn't land.
func (o *Orchestrator) spawnScorer(ctx context.Context, doc *models.Document) {
	var score func(context.Context, *models.Document) error
	switch doc.Status {
	case models.StatusClassified:
		score = o.pipeline.ScoreClassification
	case models.StatusSummarized:
		score = o.pipeline.ScoreSummary
	case models.StatusSeriesSummarized:
		score = o.pipeline.ScoreSeriesExtraction
	default:
		return
	}

	o.scorerWG.Add(1)
	go func() {
		defer o.scorerWG.Done()
		if err := score(ctx, doc); err != nil {
			if pipeline.ClassifyErr(err) == pipeline.KindConflict {
				return
			}
			o.logger.Warn("Background scoring failed",
				"document_id", doc.ID, "status", doc.Status, "error", err)
			o.events.Error(ctx, "scoring_failed", events.Record{
				DocumentID: doc.ID,
				Details:    map[string]any{"error": err.Error()},
			})
		}
	}()
}

// dispatchFiles starts file summary generation up to the file flow cap.
func (o *Orchestrator) dispatchFiles(ctx context.Context) int {
	files, err := o.store.Files.ListReady(ctx, o.cfg.MaxFileFlows*4)
	if err != nil {
		o.logger.Error("Failed to list ready files", "error", err)
		return 0
	}

	started := 0
	for _, file := range files {
		if !o.fileFlows.TryAcquire(1) {
			break
		}
		if !o.claim(o.fileInFlight, file.ID) {
			o.fileFlows.Release(1)
			continue
		}

		started++
		o.wg.Add(1)
		go func(file *models.File) {
			defer o.wg.Done()
			defer o.fileFlows.Release(1)
			defer o.unclaim(o.fileInFlight, file.ID)
			if err := o.pipeline.GenerateFileSummary(ctx, file); err != nil {
				o.handleFileError(ctx, file, err)
			}
		}(file)
	}
	return started
}

func (o *Orchestrator) handleFileError(ctx context.Context, file *models.File, err error) {
	switch pipeline.ClassifyErr(err) {
	case pipeline.KindConflict:
		o.logger.Debug("File step lost a status race, skipping", "file_id", file.ID)
		return
	case pipeline.KindFatalNoRetry:
		o.failFile(ctx, file, err.Error())
		return
	case pipeline.KindCancelled:
		o.logger.Warn("File generation cancelled by shutdown", "file_id", file.ID)
		return
	}

	// The step already charged the file's retry count on its way back to
	// outdated. Same boundary as documents: the max_retries-th retry runs.
	if file.RetryCount+1 > o.cfg.MaxRetries {
		o.failFile(ctx, file, fmt.Sprintf("max retries exceeded: %v", err))
		return
	}
	o.logger.Warn("File generation failed, will retry",
		"file_id", file.ID, "retry_count", file.RetryCount+1, "error", err)
	o.events.Error(ctx, "file_retry", events.Record{
		FileID:  file.ID,
		Details: map[string]any{"retry_count": file.RetryCount + 1, "error": err.Error()},
	})
}

func (o *Orchestrator) failFile(ctx context.Context, file *models.File, message string) {
	if err := o.store.Files.MarkFailed(ctx, file.ID, message); err != nil {
		o.logger.Error("Failed to mark file failed", "file_id", file.ID, "error", err)
		return
	}
	o.events.FileTransition(ctx, file.ID, file.Status, models.FileStatusFailed)
	o.logger.Error("File failed", "file_id", file.ID, "error", message)
}

// dispatchRegeneration starts the regeneration worker for every series
// flagged regeneration_pending. Failures leave the flag set, so the next
// tick picks the series up again.
func (o *Orchestrator) dispatchRegeneration(ctx context.Context) int {
	series, err := o.store.Series.ListRegenerationPending(ctx)
	if err != nil {
		o.logger.Error("Failed to list regeneration-pending series", "error", err)
		return 0
	}

	started := 0
	for _, sr := range series {
		if !o.claim(o.regenRunning, sr.ID) {
			continue
		}

		started++
		o.wg.Add(1)
		go func(sr *models.Series) {
			defer o.wg.Done()
			defer o.unclaim(o.regenRunning, sr.ID)
			if err := o.pipeline.RegenerateSeries(ctx, sr); err != nil {
				o.logger.Warn("Series regeneration interrupted, will resume",
					"series_id", sr.ID, "error", err)
				o.events.Regeneration(ctx, sr.ID, "interrupted", map[string]any{
					"error": err.Error(),
				})
			}
		}(sr)
	}
	return started
}
