package models

import "time"

// Event categories for the append-only audit log.
const (
	EventCategoryTransition   = "state_transition"
	EventCategoryLLMRequest   = "llm_request"
	EventCategoryOCRRequest   = "ocr_request"
	EventCategoryLock         = "lock"
	EventCategoryError        = "error"
	EventCategoryScan         = "inbox_scan"
	EventCategoryScoring      = "scoring"
	EventCategoryRegeneration = "regeneration"
	EventCategoryRecovery     = "recovery"
	EventCategoryPrompt       = "prompt"
)

// Lock event types within EventCategoryLock.
const (
	EventLockRequested = "lock_requested"
	EventLockAcquired  = "lock_acquired"
	EventLockReleased  = "lock_released"
	EventLockTimeout   = "lock_timeout"
)

// Event is an append-only audit record. LLM trace fields are populated
// only for llm_request events.
type Event struct {
	ID             int64     `db:"id" json:"id"`
	Category       string    `db:"category" json:"category"`
	EventType      string    `db:"event_type" json:"event_type"`
	DocumentID     *string   `db:"document_id" json:"document_id,omitempty"`
	SeriesID       *string   `db:"series_id" json:"series_id,omitempty"`
	FileID         *string   `db:"file_id" json:"file_id,omitempty"`
	PromptID       *string   `db:"prompt_id" json:"prompt_id,omitempty"`
	ModelID        *string   `db:"model_id" json:"model_id,omitempty"`
	RequestTokens  *int      `db:"request_tokens" json:"request_tokens,omitempty"`
	ResponseTokens *int      `db:"response_tokens" json:"response_tokens,omitempty"`
	LatencyMS      *int64    `db:"latency_ms" json:"latency_ms,omitempty"`
	Details        JSONMap   `db:"details" json:"details,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
