package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docuflow/docuflow/pkg/config"
	"github.com/docuflow/docuflow/pkg/database"
	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/llm"
	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/ocr"
	"github.com/docuflow/docuflow/pkg/prompt"
	"github.com/docuflow/docuflow/pkg/store"
)

// documentTextLimit caps the document text sent to any single model call.
const documentTextLimit = 12000

// Pipeline holds the step functions' shared dependencies. The resource
// semaphores wrap adapter calls only; DB work is never held behind them.
type Pipeline struct {
	store        *store.Store
	llm          llm.Client
	ocr          ocr.Extractor
	prompts      *prompt.Engine
	locker       *database.Locker
	events       *events.Logger
	cfg          *config.PipelineConfig
	userID       string
	artifactsDir string
	logger       *slog.Logger

	textractSem *semaphore.Weighted
	fileGenSem  *semaphore.Weighted
}

// New wires a Pipeline.
func New(st *store.Store, client llm.Client, extractor ocr.Extractor, engine *prompt.Engine, locker *database.Locker, ev *events.Logger, cfg *config.PipelineConfig, userID, artifactsDir string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:        st,
		llm:          client,
		ocr:          extractor,
		prompts:      engine,
		locker:       locker,
		events:       ev,
		cfg:          cfg,
		userID:       userID,
		artifactsDir: artifactsDir,
		logger:       logger.With("component", "pipeline"),
		textractSem:  semaphore.NewWeighted(int64(cfg.TextractWorkers)),
		fileGenSem:   semaphore.NewWeighted(int64(cfg.FileGenerationWorkers)),
	}
}

// invokeLLM runs one model call and records exactly one llm_request
// event. The bedrock concurrency cap and the per-call timeout live in the
// client itself (llm.Limit wraps the adapter once at startup), so they
// also cover model calls made outside the step functions. rec supplies
// the entity refs and event type; trace fields are filled in here.
func (p *Pipeline) invokeLLM(ctx context.Context, rec events.Record, req llm.Request) (*llm.Response, error) {
	resp, err := p.llm.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	rec.ModelID = resp.ModelID
	rec.RequestTokens = resp.RequestTokens
	rec.ResponseTokens = resp.ResponseTokens
	rec.LatencyMS = resp.LatencyMS
	p.events.LLMCall(ctx, rec)
	return resp, nil
}

// extractOCR runs the OCR adapter under the textract semaphore and the
// configured timeout.
func (p *Pipeline) extractOCR(ctx context.Context, folder string) (*ocr.Result, time.Duration, error) {
	if err := p.textractSem.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	defer p.textractSem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.OCRTimeout)
	defer cancel()

	start := time.Now()
	result, err := p.ocr.Extract(callCtx, folder)
	return result, time.Since(start), err
}

// transition performs a conditional status move and records it.
func (p *Pipeline) transition(ctx context.Context, docID string, from, to models.DocumentStatus) error {
	if err := p.store.Documents.TransitionStatus(ctx, docID, from, to); err != nil {
		return err
	}
	p.events.Transition(ctx, docID, from, to)
	return nil
}

// writeArtifact persists a processing artifact under the artifacts dir.
func (p *Pipeline) writeArtifact(name string, data []byte) error {
	if err := os.MkdirAll(p.artifactsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts dir: %w", err)
	}
	path := filepath.Join(p.artifactsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
