package models

import (
	"sort"
	"strings"
	"time"
)

// TagCreator identifies the origin of a tag.
type TagCreator string

const (
	TagCreatedByUser   TagCreator = "user"
	TagCreatedByLLM    TagCreator = "llm"
	TagCreatedBySystem TagCreator = "system"
)

// SeriesTagPrefix marks canonical series tags (series:<slug>). These are
// excluded from the tag combinations shown to the classifier.
const SeriesTagPrefix = "series:"

// Tag is a normalized label attached to documents.
type Tag struct {
	ID            string     `db:"id" json:"id"`
	TagName       string     `db:"tag_name" json:"tag_name"`
	TagNormalized string     `db:"tag_normalized" json:"tag_normalized"`
	CreatedBy     TagCreator `db:"created_by" json:"created_by"`
	Category      *string    `db:"category" json:"category,omitempty"`
	UsageCount    int        `db:"usage_count" json:"usage_count"`
	LastUsed      *time.Time `db:"last_used" json:"last_used,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// NormalizeTag lowercases and trims a tag name.
func NormalizeTag(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TagSignature computes the canonical identifier for a tag set:
// sorted, lowercased, joined with ":".
func TagSignature(tags []string) string {
	normalized := make([]string, 0, len(tags))
	for _, t := range tags {
		if n := NormalizeTag(t); n != "" {
			normalized = append(normalized, n)
		}
	}
	sort.Strings(normalized)
	return strings.Join(normalized, ":")
}
