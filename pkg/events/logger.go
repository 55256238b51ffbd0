// Package events provides the append-only audit log. Every state
// transition, adapter call, lock operation, and error in the pipeline is
// recorded as a row in the events table.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/docuflow/docuflow/pkg/models"
)

// Logger writes audit events. Methods are best-effort where noted: an
// audit write must never break the lifecycle it describes.
type Logger struct {
	db *sqlx.DB
}

// NewLogger creates an event logger over the shared pool.
func NewLogger(db *sqlx.DB) *Logger {
	return &Logger{db: db}
}

// Record is the input for a single audit row. Zero-value refs are
// persisted as NULL.
type Record struct {
	Category       string
	EventType      string
	DocumentID     string
	SeriesID       string
	FileID         string
	PromptID       string
	ModelID        string
	RequestTokens  int
	ResponseTokens int
	LatencyMS      int64
	Details        map[string]any
}

const insertEventSQL = `
	INSERT INTO events (
		category, event_type, document_id, series_id, file_id, prompt_id,
		model_id, request_tokens, response_tokens, latency_ms, details
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// Append writes one audit row. Returns the insert error; most callers go
// through the typed helpers below which log and swallow it.
func (l *Logger) Append(ctx context.Context, rec Record) error {
	var details any
	if rec.Details != nil {
		b, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
		details = b
	}

	_, err := l.db.ExecContext(ctx, insertEventSQL,
		rec.Category, rec.EventType,
		nullStr(rec.DocumentID), nullStr(rec.SeriesID),
		nullStr(rec.FileID), nullStr(rec.PromptID),
		nullStr(rec.ModelID),
		nullInt(rec.RequestTokens), nullInt(rec.ResponseTokens),
		nullInt64(rec.LatencyMS), details,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// append is the swallow-errors variant used by the typed helpers.
func (l *Logger) append(ctx context.Context, rec Record) {
	if err := l.Append(ctx, rec); err != nil {
		slog.Warn("Failed to write audit event",
			"category", rec.Category, "event_type", rec.EventType, "error", err)
	}
}

// Transition records a document status change.
func (l *Logger) Transition(ctx context.Context, documentID string, from, to models.DocumentStatus) {
	l.append(ctx, Record{
		Category:   models.EventCategoryTransition,
		EventType:  string(to),
		DocumentID: documentID,
		Details:    map[string]any{"from": string(from), "to": string(to)},
	})
}

// FileTransition records a file status change.
func (l *Logger) FileTransition(ctx context.Context, fileID string, from, to models.FileStatus) {
	l.append(ctx, Record{
		Category:  models.EventCategoryTransition,
		EventType: "file_" + string(to),
		FileID:    fileID,
		Details:   map[string]any{"from": string(from), "to": string(to)},
	})
}

// LLMCall records exactly one llm_request event per adapter invocation,
// with token counts and latency.
func (l *Logger) LLMCall(ctx context.Context, rec Record) {
	rec.Category = models.EventCategoryLLMRequest
	if rec.EventType == "" {
		rec.EventType = "invoke"
	}
	l.append(ctx, rec)
}

// OCRCall records an OCR adapter invocation.
func (l *Logger) OCRCall(ctx context.Context, documentID string, latencyMS int64, details map[string]any) {
	l.append(ctx, Record{
		Category:   models.EventCategoryOCRRequest,
		EventType:  "extract",
		DocumentID: documentID,
		LatencyMS:  latencyMS,
		Details:    details,
	})
}

// LockEvent implements database.LockEventSink.
func (l *Logger) LockEvent(ctx context.Context, eventType, key string) {
	l.append(ctx, Record{
		Category:  models.EventCategoryLock,
		EventType: eventType,
		Details:   map[string]any{"key": key},
	})
}

// Error records a pipeline error against its entity refs.
func (l *Logger) Error(ctx context.Context, eventType string, rec Record) {
	rec.Category = models.EventCategoryError
	rec.EventType = eventType
	l.append(ctx, rec)
}

// Scan records an inbox scanner outcome.
func (l *Logger) Scan(ctx context.Context, eventType string, details map[string]any) {
	l.append(ctx, Record{
		Category:  models.EventCategoryScan,
		EventType: eventType,
		Details:   details,
	})
}

// Scoring records a background scorer outcome.
func (l *Logger) Scoring(ctx context.Context, documentID, promptID, eventType string, details map[string]any) {
	l.append(ctx, Record{
		Category:   models.EventCategoryScoring,
		EventType:  eventType,
		DocumentID: documentID,
		PromptID:   promptID,
		Details:    details,
	})
}

// Regeneration records series regeneration progress.
func (l *Logger) Regeneration(ctx context.Context, seriesID, eventType string, details map[string]any) {
	l.append(ctx, Record{
		Category:  models.EventCategoryRegeneration,
		EventType: eventType,
		SeriesID:  seriesID,
		Details:   details,
	})
}

// Recovery records a stale-work recovery action.
func (l *Logger) Recovery(ctx context.Context, documentID, eventType string, details map[string]any) {
	l.append(ctx, Record{
		Category:   models.EventCategoryRecovery,
		EventType:  eventType,
		DocumentID: documentID,
		Details:    details,
	})
}

// PromptEvent records prompt creation and evolution.
func (l *Logger) PromptEvent(ctx context.Context, promptID, eventType string, details map[string]any) {
	l.append(ctx, Record{
		Category:  models.EventCategoryPrompt,
		EventType: eventType,
		PromptID:  promptID,
		Details:   details,
	})
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}

func nullInt64(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}
