package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/docuflow/docuflow/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestMissingSchemaFields(t *testing.T) {
	schema := models.JSONMap{"amount": "number", "period": "string", "provider": "string"}

	missing := missingSchemaFields(schema, map[string]any{
		"amount": 42.5, "period": "2026-07", "provider": "Acme",
	})
	assert.Empty(t, missing)

	missing = missingSchemaFields(schema, map[string]any{"amount": 42.5})
	assert.ElementsMatch(t, []string{"period", "provider"}, missing)

	// Extra fields in the extraction are not a mismatch.
	missing = missingSchemaFields(schema, map[string]any{
		"amount": 1, "period": "x", "provider": "y", "notes": "extra",
	})
	assert.Empty(t, missing)

	assert.Empty(t, missingSchemaFields(nil, map[string]any{"anything": 1}))
}

func TestFileCorpusRendersNewestFirstMembers(t *testing.T) {
	file := &models.File{Tags: []string{"acme", "invoice"}}
	members := []*models.Document{
		{
			DocumentType:   strPtr("invoice"),
			Summary:        strPtr("July invoice for consulting."),
			StructuredData: models.JSONMap{"amount": 1200},
			CreatedAt:      time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			DocumentType:          strPtr("invoice"),
			Summary:               strPtr("June invoice for consulting."),
			StructuredDataGeneric: models.JSONMap{"amount": 900},
			CreatedAt:             time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	corpus := fileCorpus(file, members)
	assert.Contains(t, corpus, "Collection tags: acme, invoice")
	assert.Contains(t, corpus, "Documents (2, newest first)")
	assert.Contains(t, corpus, "July invoice for consulting.")
	assert.Contains(t, corpus, "June invoice for consulting.")
	// Series extraction wins over generic when both exist; the second
	// document only has generic data.
	assert.Contains(t, corpus, `"amount":1200`)
	assert.Contains(t, corpus, `"amount":900`)
}

func TestFileCorpusTruncatesOversizedCollections(t *testing.T) {
	file := &models.File{Tags: []string{"archive"}}
	big := strings.Repeat("x", fileCorpusLimit)
	members := []*models.Document{
		{Summary: &big, CreatedAt: time.Now()},
		{Summary: strPtr("never reached"), CreatedAt: time.Now()},
	}

	corpus := fileCorpus(file, members)
	assert.Contains(t, corpus, "(1 more documents omitted)")
	assert.NotContains(t, corpus, "never reached")
}
