package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/llm"
	"github.com/docuflow/docuflow/pkg/models"
)

// fileCorpusLimit caps the aggregated member content sent to the model.
const fileCorpusLimit = 24000

// fileSummary is the file summarizer's response shape.
type fileSummary struct {
	SummaryText string         `json:"summary_text"`
	Metadata    map[string]any `json:"metadata"`
}

// GenerateFileSummary advances a file from pending|outdated through its
// generating sub-state to generated. Membership is recomputed from the
// live any-tag intersection at generation time, so a file always
// summarizes its current members.
func (p *Pipeline) GenerateFileSummary(ctx context.Context, file *models.File) error {
	inProgress := models.FileStatusGenerating
	if file.Status == models.FileStatusOutdated {
		inProgress = models.FileStatusRegenerating
	}
	if err := p.store.Files.TransitionStatus(ctx, file.ID, file.Status, inProgress); err != nil {
		return err
	}
	p.events.FileTransition(ctx, file.ID, file.Status, inProgress)

	summary, members, promptID, err := p.summarizeFileMembers(ctx, file)
	if err != nil {
		// ResetStale moves the file back to outdated and charges its
		// retry count.
		_ = p.store.Files.ResetStale(ctx, file.ID, inProgress)
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	memberIDs := make([]string, len(members))
	for i, m := range members {
		memberIDs[i] = m.ID
	}
	if err := p.store.Files.SetSummary(ctx, file.ID, inProgress,
		summary.SummaryText, models.JSONMap(summary.Metadata), promptID, memberIDs); err != nil {
		return err
	}
	p.events.FileTransition(ctx, file.ID, inProgress, models.FileStatusGenerated)

	p.logger.Info("File summary generated",
		"file_id", file.ID,
		"tag_signature", file.TagSignature,
		"members", len(members))
	return nil
}

func (p *Pipeline) summarizeFileMembers(ctx context.Context, file *models.File) (*fileSummary, []*models.Document, string, error) {
	members, err := p.store.Files.MembersByTags(ctx, p.userID, file.Tags)
	if err != nil {
		return nil, nil, "", err
	}
	if len(members) == 0 {
		return nil, nil, "", fatalNoRetry("file %s has no member documents", file.ID)
	}

	active, err := p.store.Prompts.Active(ctx, models.PromptFileSummarizer, "default", p.userID)
	if err != nil {
		return nil, nil, "", err
	}

	// The file_generation semaphore bounds concurrent aggregations on top
	// of the per-call bedrock cap.
	if err := p.fileGenSem.Acquire(ctx, 1); err != nil {
		return nil, nil, "", err
	}
	defer p.fileGenSem.Release(1)

	resp, err := p.invokeLLM(ctx, events.Record{
		EventType: "file_summary",
		FileID:    file.ID,
		PromptID:  active.ID,
	}, llm.Request{
		System: active.PromptText,
		Prompt: fileCorpus(file, members),
	})
	if err != nil {
		return nil, nil, "", err
	}

	var result fileSummary
	if err := llm.DecodeJSON(resp.Text, &result); err != nil {
		return nil, nil, "", fatal("file summarizer returned malformed response for %s: %w", file.ID, err)
	}
	if result.SummaryText == "" {
		return nil, nil, "", fatal("file summarizer returned no summary for %s", file.ID)
	}
	return &result, members, active.ID, nil
}

// fileCorpus renders the member documents newest first, summaries and
// structured data only; full texts would blow the context on any
// non-trivial file.
func fileCorpus(file *models.File, members []*models.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Collection tags: %s\nDocuments (%d, newest first):\n",
		strings.Join(file.Tags, ", "), len(members))

	for i, doc := range members {
		fmt.Fprintf(&b, "\n--- Document %d (%s, %s) ---\n",
			i+1, doc.Type(), doc.CreatedAt.Format("2006-01-02"))
		if doc.Summary != nil {
			b.WriteString(*doc.Summary)
			b.WriteString("\n")
		}
		data := doc.StructuredData
		if len(data) == 0 {
			data = doc.StructuredDataGeneric
		}
		if len(data) > 0 {
			if payload, err := json.Marshal(data); err == nil {
				b.Write(payload)
				b.WriteString("\n")
			}
		}
		if b.Len() > fileCorpusLimit {
			fmt.Fprintf(&b, "\n(%d more documents omitted)\n", len(members)-i-1)
			break
		}
	}
	return b.String()
}
