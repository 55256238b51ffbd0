// Package prompt manages the versioned, self-evolving prompt catalog:
// builtin seeds, the evolution gate, and first-time series prompt
// creation.
package prompt

import (
	"context"
	"errors"
	"fmt"

	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/store"
)

const classifierSeed = `You are a document classifier for a personal document archive.
Given the extracted text of a document, the list of known document types, and the
most common existing tag combinations, classify the document.

Prefer a known document type when one fits. Propose a new type only when none of
the known types describes the document. Reuse existing tags where they apply.

Respond with a single JSON object:
{"document_type": "<snake_case type>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>", "tags": ["<tag>", ...]}`

const summarizerSeed = `You are a document summarizer for a personal document archive.
Given the extracted text of a document and its type, extract the key facts as
structured data and write a short summary.

Respond with a single JSON object:
{"structured_data": {<key facts as flat JSON>}, "summary": "<2-3 sentence summary>"}`

const seriesDetectorSeed = `You identify recurring document series in a personal archive.
Given a document's text, type, and structured data, plus the catalog of existing
series, decide which real-world series this document belongs to.

Reuse an existing series when the issuing entity and series type match; copy its
entity and series_type verbatim. Otherwise name a new series. If the document is
one-off and clearly not part of any recurring series, return an empty entity.

Respond with a single JSON object:
{"entity": "<issuing entity, or empty>", "series_type": "<snake_case kind>", "frequency": "<monthly|quarterly|yearly|irregular>", "metadata": {<optional extra facts>}}`

const fileSummarizerSeed = `You summarize a collection of related documents that share a tag set.
Given the documents' summaries and structured data, newest first, produce an
overview of the collection: what it contains, the time span, and notable trends.

Respond with a single JSON object:
{"summary_text": "<overview, a few paragraphs>", "metadata": {<aggregate facts, e.g. totals or date ranges>}}`

// SchemaInferenceInstructions drives first-time series prompt creation.
// It is not stored as a prompt row; the row it produces is.
const SchemaInferenceInstructions = `You design extraction prompts for recurring document series.
Given a sample document's text and its generic extraction, infer the strict schema
that every document in this series should produce, then write a specialized
extraction prompt that instructs a model to emit exactly that schema as JSON.

Respond with a single JSON object:
{"schema_definition": {<field name>: "<type and meaning>", ...}, "prompt_text": "<the specialized extraction prompt>"}`

// ScorerInstructions drives the background scorers. Scorer output is not
// persisted as a prompt row.
const ScorerInstructions = `You grade the output of an extraction prompt against its source document.
Given the prompt, the document text, and the output it produced, score the output's
accuracy and completeness from 0.0 to 1.0. If you can see how to improve the prompt,
include a full rewritten prompt text.

Respond with a single JSON object:
{"score": <0.0-1.0>, "reasoning": "<one sentence>", "improved_prompt": "<full rewritten prompt, or empty string>"}`

// builtin describes one seed prompt family.
type builtin struct {
	promptType models.PromptType
	text       string
	canEvolve  bool
}

var builtins = []builtin{
	{models.PromptClassifier, classifierSeed, true},
	{models.PromptSummarizer, summarizerSeed, true},
	{models.PromptSeriesDetector, seriesDetectorSeed, false},
	{models.PromptFileSummarizer, fileSummarizerSeed, false},
}

// EnsureBuiltins seeds the builtin prompt families that have no active
// version yet. Idempotent; runs once at startup.
func (e *Engine) EnsureBuiltins(ctx context.Context) error {
	for _, b := range builtins {
		_, err := e.store.Prompts.Active(ctx, b.promptType, "default", e.userID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to check builtin %s prompt: %w", b.promptType, err)
		}

		p := &models.Prompt{
			UserID:       e.userID,
			PromptType:   b.promptType,
			DocumentType: "default",
			PromptText:   b.text,
			Version:      1,
			IsActive:     true,
			CanEvolve:    b.canEvolve,
		}
		if b.canEvolve {
			ceiling := e.cfg.ScoreCeilingDefault
			p.ScoreCeiling = &ceiling
		}
		if err := e.store.Prompts.Insert(ctx, p); err != nil {
			// A concurrent process seeded it first.
			if errors.Is(err, store.ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("failed to seed builtin %s prompt: %w", b.promptType, err)
		}
		e.logger.Info("Seeded builtin prompt",
			"prompt_type", b.promptType, "prompt_id", p.ID)
		e.events.PromptEvent(ctx, p.ID, "seeded", map[string]any{
			"prompt_type": string(b.promptType),
		})
	}
	return nil
}
