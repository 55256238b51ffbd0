package models

import "time"

// PromptType identifies the role of a prompt in the pipeline.
type PromptType string

const (
	PromptClassifier       PromptType = "classifier"
	PromptSummarizer       PromptType = "summarizer"
	PromptSeriesSummarizer PromptType = "series_summarizer"
	PromptFileSummarizer   PromptType = "file_summarizer"
	PromptSeriesDetector   PromptType = "series_detector"
)

// SchemaDefinitionKey is the performance_metrics key under which a
// series_summarizer prompt stores its declared extraction schema.
const SchemaDefinitionKey = "schema_definition"

// Prompt is one version of an extraction instruction. Versions are
// monotonic per (prompt_type, document_type, user_id) and at most one row
// per family is active.
//
// DocumentType is overloaded by prompt_type: classifier/series_detector
// use "default"; summarizer holds the document type it summarizes;
// series_summarizer holds the series id as a string (breaking the
// series ↔ prompt cycle via plain ids).
type Prompt struct {
	ID                  string     `db:"id" json:"id"`
	UserID              string     `db:"user_id" json:"user_id"`
	PromptType          PromptType `db:"prompt_type" json:"prompt_type"`
	DocumentType        string     `db:"document_type" json:"document_type"`
	PromptText          string     `db:"prompt_text" json:"prompt_text"`
	Version             int        `db:"version" json:"version"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	PerformanceScore    *float64   `db:"performance_score" json:"performance_score,omitempty"`
	PerformanceMetrics  JSONMap    `db:"performance_metrics" json:"performance_metrics,omitempty"`
	DocumentsProcessed  int        `db:"documents_processed" json:"documents_processed"`
	CanEvolve           bool       `db:"can_evolve" json:"can_evolve"`
	ScoreCeiling        *float64   `db:"score_ceiling" json:"score_ceiling,omitempty"`
	RegeneratesOnUpdate bool       `db:"regenerates_on_update" json:"regenerates_on_update"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// SchemaDefinition returns the declared extraction schema for a
// series_summarizer prompt, or nil when none is recorded.
func (p *Prompt) SchemaDefinition() JSONMap {
	if p.PerformanceMetrics == nil {
		return nil
	}
	if schema, ok := p.PerformanceMetrics[SchemaDefinitionKey].(map[string]any); ok {
		return JSONMap(schema)
	}
	return nil
}
