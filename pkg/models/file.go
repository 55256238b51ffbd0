package models

import (
	"time"

	"github.com/lib/pq"
)

// FileStatus is the lifecycle state of a tag-aggregated file.
type FileStatus string

const (
	FileStatusPending      FileStatus = "pending"
	FileStatusGenerating   FileStatus = "generating"
	FileStatusGenerated    FileStatus = "generated"
	FileStatusOutdated     FileStatus = "outdated"
	FileStatusRegenerating FileStatus = "regenerating"
	FileStatusFailed       FileStatus = "failed"
)

// File is a tag-signature-defined aggregation across documents.
// Membership is computed by tag intersection (any matching tag), not
// solely by explicit junction inserts.
type File struct {
	ID                string         `db:"id" json:"id"`
	UserID            string         `db:"user_id" json:"user_id"`
	Tags              pq.StringArray `db:"tags" json:"tags"`
	TagSignature      string         `db:"tag_signature" json:"tag_signature"`
	DocumentCount     int            `db:"document_count" json:"document_count"`
	FirstDocumentDate *time.Time     `db:"first_document_date" json:"first_document_date,omitempty"`
	LastDocumentDate  *time.Time     `db:"last_document_date" json:"last_document_date,omitempty"`
	SummaryText       *string        `db:"summary_text" json:"summary_text,omitempty"`
	SummaryMetadata   JSONMap        `db:"summary_metadata" json:"summary_metadata,omitempty"`
	Status            FileStatus     `db:"status" json:"status"`
	PromptID          *string        `db:"prompt_id" json:"prompt_id,omitempty"`
	RetryCount        int            `db:"retry_count" json:"retry_count"`
	ErrorMessage      *string        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}
