package models

import (
	"strings"
	"time"
	"unicode"
)

// Series is a recurring collection of documents from one entity with one
// recurring pattern (e.g. a monthly utility bill from a single provider).
type Series struct {
	ID                   string    `db:"id" json:"id"`
	UserID               string    `db:"user_id" json:"user_id"`
	Title                string    `db:"title" json:"title"`
	Entity               string    `db:"entity" json:"entity"`
	EntityNormalized     string    `db:"entity_normalized" json:"entity_normalized"`
	SeriesType           string    `db:"series_type" json:"series_type"`
	SeriesTypeNormalized string    `db:"series_type_normalized" json:"series_type_normalized"`
	Frequency            *string   `db:"frequency" json:"frequency,omitempty"`
	Metadata             JSONMap   `db:"metadata" json:"metadata,omitempty"`
	ActivePromptID       *string   `db:"active_prompt_id" json:"active_prompt_id,omitempty"`
	RegenerationPending  bool      `db:"regeneration_pending" json:"regeneration_pending"`
	DocumentCount        int       `db:"document_count" json:"document_count"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// NormalizeEntity canonicalizes an entity name for series identity:
// lowercase, interior whitespace collapsed, surrounding whitespace and
// trailing punctuation removed. Accents and corporate suffixes are kept
// deliberately — over-aggressive folding merges distinct entities.
func NormalizeEntity(entity string) string {
	s := strings.ToLower(strings.TrimSpace(entity))
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r)
	})
	return strings.TrimSpace(s)
}

// NormalizeSeriesType canonicalizes a series type: lowercase, with
// whitespace runs replaced by single underscores.
func NormalizeSeriesType(seriesType string) string {
	s := strings.ToLower(strings.TrimSpace(seriesType))
	return strings.Join(strings.Fields(s), "_")
}

// SlugifyEntity builds the slug used in canonical series tags
// (series:<slug>). Non-alphanumeric runs collapse to single hyphens.
func SlugifyEntity(entity string) string {
	norm := NormalizeEntity(entity)
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range norm {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// SeriesTag returns the canonical tag for a series entity.
func SeriesTag(entity string) string {
	return SeriesTagPrefix + SlugifyEntity(entity)
}
