// Package orchestrator runs the processing loop: scan the inbox,
// dispatch document and file steps up to the flow caps, run the
// regeneration worker, and periodically recover stale in-flight work.
// It is the only component that mutates retry counts.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docuflow/docuflow/pkg/config"
	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/inbox"
	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/store"
)

// eligibleStatuses are the document states the dispatcher picks up.
// Scored and unscored variants are equally eligible; scoring is a
// background concern, never a gate.
var eligibleStatuses = []models.DocumentStatus{
	models.StatusPending,
	models.StatusOCRCompleted,
	models.StatusClassified,
	models.StatusScoredClassification,
	models.StatusSummarized,
	models.StatusScoredSummary,
	models.StatusFiled,
	models.StatusSeriesSummarized,
}

// Steps is the pipeline surface the orchestrator drives.
// *pipeline.Pipeline implements it.
type Steps interface {
	RunOCR(ctx context.Context, doc *models.Document) error
	Classify(ctx context.Context, doc *models.Document) error
	Summarize(ctx context.Context, doc *models.Document) error
	FileDocument(ctx context.Context, doc *models.Document) error
	SummarizeSeries(ctx context.Context, doc *models.Document) error
	Complete(ctx context.Context, doc *models.Document, from models.DocumentStatus) error
	ScoreClassification(ctx context.Context, doc *models.Document) error
	ScoreSummary(ctx context.Context, doc *models.Document) error
	ScoreSeriesExtraction(ctx context.Context, doc *models.Document) error
	GenerateFileSummary(ctx context.Context, file *models.File) error
	RegenerateSeries(ctx context.Context, series *models.Series) error
}

// Orchestrator drives the pipeline.
type Orchestrator struct {
	store    *store.Store
	pipeline Steps
	scanner  *inbox.Scanner
	events   *events.Logger
	cfg      *config.PipelineConfig
	logger   *slog.Logger

	// DocFilter restricts dispatch to a single document id (--doc-id).
	DocFilter string

	docFlows  *semaphore.Weighted
	fileFlows *semaphore.Weighted

	mu           sync.Mutex
	inFlight     map[string]bool
	fileInFlight map[string]bool
	regenRunning map[string]bool
	running      bool
	lastRecovery time.Time

	wg       sync.WaitGroup
	scorerWG sync.WaitGroup
}

// New wires an Orchestrator.
func New(st *store.Store, pl Steps, scanner *inbox.Scanner, ev *events.Logger, cfg *config.PipelineConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:        st,
		pipeline:     pl,
		scanner:      scanner,
		events:       ev,
		cfg:          cfg,
		logger:       logger.With("component", "orchestrator"),
		docFlows:     semaphore.NewWeighted(int64(cfg.MaxDocumentFlows)),
		fileFlows:    semaphore.NewWeighted(int64(cfg.MaxFileFlows)),
		inFlight:     make(map[string]bool),
		fileInFlight: make(map[string]bool),
		regenRunning: make(map[string]bool),
	}
}

// Health is the orchestrator's status snapshot.
type Health struct {
	Running           bool      `json:"running"`
	InFlightDocuments int       `json:"in_flight_documents"`
	InFlightFiles     int       `json:"in_flight_files"`
	LastRecovery      time.Time `json:"last_recovery,omitempty"`
}

// Health reports the current processing state.
func (o *Orchestrator) Health() Health {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Health{
		Running:           o.running,
		InFlightDocuments: len(o.inFlight),
		InFlightFiles:     len(o.fileInFlight),
		LastRecovery:      o.lastRecovery,
	}
}

// Run executes the processing loop until ctx is cancelled. With runOnce
// it keeps ticking until a full tick finds no work, then returns; this
// drains everything currently reachable and exits.
func (o *Orchestrator) Run(ctx context.Context, runOnce bool) error {
	o.setRunning(true)
	defer o.setRunning(false)

	o.logger.Info("Orchestrator starting",
		"poll_interval", o.cfg.PollInterval,
		"max_document_flows", o.cfg.MaxDocumentFlows,
		"run_once", runOnce)

	// Work abandoned by a previous crash goes back to the dispatcher
	// before anything new starts.
	o.recover(ctx)

	for {
		dispatched := o.tick(ctx)

		if runOnce {
			o.wg.Wait()
			if dispatched == 0 {
				break
			}
			continue
		}

		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}

	o.shutdown()
	return nil
}

// tick runs one scheduling pass and returns how many units of work it
// started or registered.
func (o *Orchestrator) tick(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	total := 0
	registered, err := o.scanner.Scan(ctx)
	if err != nil {
		o.logger.Error("Inbox scan failed", "error", err)
	}
	total += registered

	total += o.dispatchDocuments(ctx)
	total += o.dispatchFiles(ctx)
	total += o.dispatchRegeneration(ctx)

	if time.Since(o.lastRecoveryTime()) >= o.cfg.RecoveryInterval {
		o.recover(ctx)
	}
	return total
}

// shutdown waits for in-flight steps (their adapter calls are allowed to
// finish; result writes observe cancellation) and drains background
// scorers with a finite budget.
func (o *Orchestrator) shutdown() {
	o.logger.Info("Orchestrator stopping, waiting for in-flight work")
	o.wg.Wait()

	done := make(chan struct{})
	go func() {
		o.scorerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("Background scorers drained")
	case <-time.After(o.cfg.ScorerDrainTimeout):
		o.logger.Warn("Scorer drain timeout expired, abandoning remaining scorers")
	}
}

func (o *Orchestrator) setRunning(v bool) {
	o.mu.Lock()
	o.running = v
	o.mu.Unlock()
}

func (o *Orchestrator) lastRecoveryTime() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRecovery
}

// claim marks an id in-flight in one of the tracking maps. Returns false
// when it already is.
func (o *Orchestrator) claim(m map[string]bool, id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m[id] {
		return false
	}
	m[id] = true
	return true
}

func (o *Orchestrator) unclaim(m map[string]bool, id string) {
	o.mu.Lock()
	delete(m, id)
	o.mu.Unlock()
}
