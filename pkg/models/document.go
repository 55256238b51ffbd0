// Package models defines the persistent data model for the document
// pipeline: documents, tags, series, files, prompts, and audit events.
package models

import "time"

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

// Document lifecycle states. Forward progression is
// pending → ocr_completed → classified → scored_classification →
// summarized → scored_summary → filed → series_summarized → completed.
// The *_in_progress / series_summarizing / series_scoring states act as
// locks against concurrent step execution. Any state may move to failed.
const (
	StatusPending              DocumentStatus = "pending"
	StatusOCRInProgress        DocumentStatus = "ocr_in_progress"
	StatusOCRCompleted         DocumentStatus = "ocr_completed"
	StatusClassified           DocumentStatus = "classified"
	StatusScoredClassification DocumentStatus = "scored_classification"
	StatusSummarized           DocumentStatus = "summarized"
	StatusScoredSummary        DocumentStatus = "scored_summary"
	StatusFiled                DocumentStatus = "filed"
	StatusSeriesSummarizing    DocumentStatus = "series_summarizing"
	StatusSeriesSummarized     DocumentStatus = "series_summarized"
	StatusSeriesScoring        DocumentStatus = "series_scoring"
	StatusCompleted            DocumentStatus = "completed"
	StatusFailed               DocumentStatus = "failed"
)

// ExtractionMethod records which extraction populated a document.
type ExtractionMethod string

const (
	ExtractionGeneric ExtractionMethod = "generic"
	ExtractionSeries  ExtractionMethod = "series"
	ExtractionBoth    ExtractionMethod = "both"
)

// transitions maps each status to the set of statuses it may move to.
// failed is reachable from every non-terminal state and is omitted here.
var transitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:              {StatusOCRInProgress},
	StatusOCRInProgress:        {StatusOCRCompleted, StatusPending},
	StatusOCRCompleted:         {StatusClassified},
	StatusClassified:           {StatusScoredClassification, StatusSummarized},
	StatusScoredClassification: {StatusSummarized},
	StatusSummarized:           {StatusScoredSummary, StatusFiled},
	StatusScoredSummary:        {StatusFiled},
	StatusFiled:                {StatusSeriesSummarizing, StatusCompleted},
	StatusSeriesSummarizing:    {StatusSeriesSummarized, StatusFiled},
	StatusSeriesSummarized:     {StatusSeriesScoring, StatusCompleted},
	StatusSeriesScoring:        {StatusSeriesSummarized, StatusCompleted},
}

// CanTransition reports whether from → to is an allowed lifecycle move.
// Transitions to failed are always allowed from non-terminal states.
func CanTransition(from, to DocumentStatus) bool {
	if from == StatusCompleted || from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the lifecycle.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InProgressStatuses are the in-flight sub-states the recovery sweep
// watches for staleness, mapped to the state they are reset to.
var InProgressStatuses = map[DocumentStatus]DocumentStatus{
	StatusOCRInProgress:     StatusPending,
	StatusSeriesSummarizing: StatusFiled,
	StatusSeriesScoring:     StatusSeriesSummarized,
}

// Document is a unit of user-supplied content moving through the pipeline.
type Document struct {
	ID                    string           `db:"id" json:"id"`
	UserID                string           `db:"user_id" json:"user_id"`
	Filename              string           `db:"filename" json:"filename"`
	FolderPath            string           `db:"folder_path" json:"folder_path"`
	Status                DocumentStatus   `db:"status" json:"status"`
	DocumentType          *string          `db:"document_type" json:"document_type,omitempty"`
	ExtractedText         *string          `db:"extracted_text" json:"extracted_text,omitempty"`
	StructuredData        JSONMap          `db:"structured_data" json:"structured_data,omitempty"`
	StructuredDataGeneric JSONMap          `db:"structured_data_generic" json:"structured_data_generic,omitempty"`
	Summary               *string          `db:"summary" json:"summary,omitempty"`
	SeriesPromptID        *string          `db:"series_prompt_id" json:"series_prompt_id,omitempty"`
	ExtractionMethod      *string          `db:"extraction_method" json:"extraction_method,omitempty"`
	AvgConfidence         *float64         `db:"avg_confidence" json:"avg_confidence,omitempty"`
	RetryCount            int              `db:"retry_count" json:"retry_count"`
	ErrorMessage          *string          `db:"error_message" json:"error_message,omitempty"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
}

// Text returns the extracted text or "".
func (d *Document) Text() string {
	if d.ExtractedText == nil {
		return ""
	}
	return *d.ExtractedText
}

// Type returns the assigned document type or "".
func (d *Document) Type() string {
	if d.DocumentType == nil {
		return ""
	}
	return *d.DocumentType
}

// DocumentTypeSuggestion is inserted when the classifier proposes a type
// that is not yet in the registry. It awaits manual review.
type DocumentTypeSuggestion struct {
	ID            int64     `db:"id" json:"id"`
	SuggestedType string    `db:"suggested_type" json:"suggested_type"`
	DocumentID    string    `db:"document_id" json:"document_id"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
