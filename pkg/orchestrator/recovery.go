package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/docuflow/docuflow/pkg/models"
)

// recover sweeps in-flight sub-states for work abandoned by a crash or a
// kill. A stale document goes back to the state its sub-state locks
// (retry charged); one that is out of budget fails instead. Stale
// generating files get the same treatment.
func (o *Orchestrator) recover(ctx context.Context) {
	o.mu.Lock()
	o.lastRecovery = time.Now()
	o.mu.Unlock()

	threshold := time.Now().Add(-o.cfg.StaleTimeout)

	statuses := make([]models.DocumentStatus, 0, len(models.InProgressStatuses))
	for st := range models.InProgressStatuses {
		statuses = append(statuses, st)
	}

	docs, err := o.store.Documents.ListStale(ctx, statuses, threshold)
	if err != nil {
		o.logger.Error("Stale document sweep failed", "error", err)
	}
	for _, doc := range docs {
		o.recoverDocument(ctx, doc)
	}

	interval := fmt.Sprintf("%d seconds", int(o.cfg.StaleTimeout.Seconds()))
	files, err := o.store.Files.ListStale(ctx, interval)
	if err != nil {
		o.logger.Error("Stale file sweep failed", "error", err)
	}
	for _, file := range files {
		o.recoverFile(ctx, file)
	}

	if len(docs) > 0 || len(files) > 0 {
		o.logger.Info("Recovery sweep completed",
			"stale_documents", len(docs), "stale_files", len(files))
	}
}

func (o *Orchestrator) recoverDocument(ctx context.Context, doc *models.Document) {
	// Live work in this process is not stale no matter how old its row.
	o.mu.Lock()
	live := o.inFlight[doc.ID]
	o.mu.Unlock()
	if live {
		return
	}

	resetTo, ok := models.InProgressStatuses[doc.Status]
	if !ok {
		return
	}

	if doc.RetryCount >= o.cfg.MaxRetries {
		o.failDocument(ctx, doc, "max retries exceeded")
		o.events.Recovery(ctx, doc.ID, "failed", map[string]any{
			"stale_status": string(doc.Status),
			"retry_count":  doc.RetryCount,
		})
		return
	}

	if err := o.store.Documents.ResetStale(ctx, doc.ID, doc.Status, resetTo); err != nil {
		o.logger.Warn("Failed to reset stale document",
			"document_id", doc.ID, "error", err)
		return
	}
	o.events.Recovery(ctx, doc.ID, "reset", map[string]any{
		"stale_status": string(doc.Status),
		"reset_to":     string(resetTo),
		"retry_count":  doc.RetryCount + 1,
	})
	o.logger.Info("Recovered stale document",
		"document_id", doc.ID,
		"stale_status", doc.Status,
		"reset_to", resetTo)
}

func (o *Orchestrator) recoverFile(ctx context.Context, file *models.File) {
	o.mu.Lock()
	live := o.fileInFlight[file.ID]
	o.mu.Unlock()
	if live {
		return
	}

	if file.RetryCount >= o.cfg.MaxRetries {
		o.failFile(ctx, file, "max retries exceeded")
		return
	}
	if err := o.store.Files.ResetStale(ctx, file.ID, file.Status); err != nil {
		o.logger.Warn("Failed to reset stale file", "file_id", file.ID, "error", err)
		return
	}
	o.logger.Info("Recovered stale file", "file_id", file.ID, "stale_status", file.Status)
}
