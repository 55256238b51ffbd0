package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/docuflow/pkg/config"
	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/inbox"
	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/store"
	util "github.com/docuflow/docuflow/test/util"
)

// fakeSteps records which steps ran. An optional gate blocks every call
// until released, for exercising the flow caps.
type fakeSteps struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
	gate  chan struct{}
}

func newFakeSteps() *fakeSteps {
	return &fakeSteps{calls: map[string]int{}}
}

func (f *fakeSteps) record(name string) error {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return f.err
}

func (f *fakeSteps) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSteps) RunOCR(ctx context.Context, doc *models.Document) error {
	return f.record("run_ocr")
}
func (f *fakeSteps) Classify(ctx context.Context, doc *models.Document) error {
	return f.record("classify")
}
func (f *fakeSteps) Summarize(ctx context.Context, doc *models.Document) error {
	return f.record("summarize")
}
func (f *fakeSteps) FileDocument(ctx context.Context, doc *models.Document) error {
	return f.record("file_document")
}
func (f *fakeSteps) SummarizeSeries(ctx context.Context, doc *models.Document) error {
	return f.record("summarize_series")
}
func (f *fakeSteps) Complete(ctx context.Context, doc *models.Document, from models.DocumentStatus) error {
	return f.record("complete")
}
func (f *fakeSteps) ScoreClassification(ctx context.Context, doc *models.Document) error {
	return f.record("score_classification")
}
func (f *fakeSteps) ScoreSummary(ctx context.Context, doc *models.Document) error {
	return f.record("score_summary")
}
func (f *fakeSteps) ScoreSeriesExtraction(ctx context.Context, doc *models.Document) error {
	return f.record("score_series_extraction")
}
func (f *fakeSteps) GenerateFileSummary(ctx context.Context, file *models.File) error {
	return f.record("generate_file_summary")
}
func (f *fakeSteps) RegenerateSeries(ctx context.Context, series *models.Series) error {
	return f.record("regenerate_series")
}

func newTestOrchestrator(t *testing.T, steps Steps, cfg *config.PipelineConfig) (*Orchestrator, *store.Store, *sqlx.DB) {
	t.Helper()
	db := util.SetupTestDatabase(t)
	st := store.New(db)
	ev := events.NewLogger(db)
	scanner := inbox.NewScanner(st, ev, t.TempDir(), "local", slog.Default())
	return New(st, steps, scanner, ev, cfg, slog.Default()), st, db
}

// seedDocument creates a document and forces its status, retry count, and
// row age directly, the way a crash would leave it.
func seedDocument(t *testing.T, db *sqlx.DB, st *store.Store, status models.DocumentStatus, retryCount int, age time.Duration) *models.Document {
	t.Helper()
	ctx := context.Background()
	doc := &models.Document{
		ID:         uuid.NewString(),
		UserID:     "local",
		Filename:   "page1.png",
		FolderPath: "/inbox/" + uuid.NewString(),
	}
	require.NoError(t, st.Documents.Create(ctx, doc))
	_, err := db.ExecContext(ctx, `
		UPDATE documents SET status = $1, retry_count = $2,
		       updated_at = now() - $3::interval
		WHERE id = $4`,
		status, retryCount, fmt.Sprintf("%d seconds", int(age.Seconds())), doc.ID)
	require.NoError(t, err)
	doc.Status = status
	doc.RetryCount = retryCount
	return doc
}

func TestRecoverResetsStaleDocument(t *testing.T) {
	o, st, db := newTestOrchestrator(t, newFakeSteps(), config.DefaultPipelineConfig())
	ctx := context.Background()

	stale := seedDocument(t, db, st, models.StatusOCRInProgress, 0, 45*time.Minute)
	fresh := seedDocument(t, db, st, models.StatusSeriesSummarizing, 0, time.Minute)

	o.recover(ctx)

	got, err := st.Documents.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	// Work younger than the stale timeout is left alone.
	got, err = st.Documents.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSeriesSummarizing, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestRecoverFailsDocumentOutOfBudget(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	o, st, db := newTestOrchestrator(t, newFakeSteps(), cfg)
	ctx := context.Background()

	doc := seedDocument(t, db, st, models.StatusOCRInProgress, cfg.MaxRetries, 45*time.Minute)
	o.recover(ctx)

	got, err := st.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "max retries exceeded", *got.ErrorMessage)
}

func TestRecoverSkipsLiveDocument(t *testing.T) {
	o, st, db := newTestOrchestrator(t, newFakeSteps(), config.DefaultPipelineConfig())
	ctx := context.Background()

	// In-flight in this process: the row is old only because the step is
	// slow, not abandoned.
	doc := seedDocument(t, db, st, models.StatusOCRInProgress, 0, 45*time.Minute)
	require.True(t, o.claim(o.inFlight, doc.ID))

	o.recover(ctx)

	got, err := st.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOCRInProgress, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestHandleStepErrorRetryBoundary(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.MaxRetries = 2
	o, st, db := newTestOrchestrator(t, newFakeSteps(), cfg)
	ctx := context.Background()

	doc := seedDocument(t, db, st, models.StatusPending, 1, 0)

	// Failure number max_retries charges the budget but still retries.
	o.handleStepError(ctx, doc, errors.New("throttled"))
	got, err := st.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 2, got.RetryCount)

	// The failure after the max_retries-th retry is terminal.
	o.handleStepError(ctx, doc, errors.New("throttled"))
	got, err = st.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "max retries exceeded")
}

func TestHandleStepErrorConflictCostsNothing(t *testing.T) {
	o, st, db := newTestOrchestrator(t, newFakeSteps(), config.DefaultPipelineConfig())
	ctx := context.Background()

	doc := seedDocument(t, db, st, models.StatusClassified, 0, 0)
	o.handleStepError(ctx, doc, store.ErrConflict)

	got, err := st.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClassified, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestHandleStepErrorCancelledFailsDocument(t *testing.T) {
	o, st, db := newTestOrchestrator(t, newFakeSteps(), config.DefaultPipelineConfig())
	ctx := context.Background()

	doc := seedDocument(t, db, st, models.StatusPending, 0, 0)
	o.handleStepError(ctx, doc, context.Canceled)

	got, err := st.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "cancelled", *got.ErrorMessage)
}

func TestDispatchDocumentsHonorsFlowCap(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.MaxDocumentFlows = 1
	fake := newFakeSteps()
	fake.gate = make(chan struct{})
	o, st, db := newTestOrchestrator(t, fake, cfg)
	ctx := context.Background()

	seedDocument(t, db, st, models.StatusPending, 0, 0)
	seedDocument(t, db, st, models.StatusPending, 0, 0)

	started := o.dispatchDocuments(ctx)
	assert.Equal(t, 1, started)

	close(fake.gate)
	o.wg.Wait()
	assert.Equal(t, 1, fake.count("run_ocr"))
}

func TestDispatchDocumentsRunsStepForStatus(t *testing.T) {
	fake := newFakeSteps()
	o, st, db := newTestOrchestrator(t, fake, config.DefaultPipelineConfig())
	ctx := context.Background()

	seedDocument(t, db, st, models.StatusClassified, 0, 0)
	seedDocument(t, db, st, models.StatusCompleted, 0, 0) // terminal, ineligible

	started := o.dispatchDocuments(ctx)
	assert.Equal(t, 1, started)
	o.wg.Wait()
	o.scorerWG.Wait()

	assert.Equal(t, 1, fake.count("summarize"))
	assert.Equal(t, 1, fake.count("score_classification"))
	assert.Zero(t, fake.count("complete"))
}

func TestDispatchDocumentsAppliesFilter(t *testing.T) {
	fake := newFakeSteps()
	o, st, db := newTestOrchestrator(t, fake, config.DefaultPipelineConfig())
	ctx := context.Background()

	wanted := seedDocument(t, db, st, models.StatusPending, 0, 0)
	seedDocument(t, db, st, models.StatusPending, 0, 0)
	o.DocFilter = wanted.ID

	started := o.dispatchDocuments(ctx)
	assert.Equal(t, 1, started)
	o.wg.Wait()
	assert.Equal(t, 1, fake.count("run_ocr"))
}

func TestHandleFileErrorRetryBoundary(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.MaxRetries = 2
	o, st, db := newTestOrchestrator(t, newFakeSteps(), cfg)
	ctx := context.Background()

	file, err := st.Files.UpsertBySignature(ctx, "local", []string{"acme", "invoice"})
	require.NoError(t, err)

	// One failure already charged; the next one still retries.
	file.RetryCount = 1
	o.handleFileError(ctx, file, errors.New("throttled"))
	got, err := st.Files.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.FileStatusFailed, got.Status)

	// Budget exhausted.
	file.RetryCount = 2
	_, err = db.ExecContext(ctx, `UPDATE files SET retry_count = 2 WHERE id = $1`, file.ID)
	require.NoError(t, err)
	o.handleFileError(ctx, file, errors.New("throttled"))
	got, err = st.Files.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusFailed, got.Status)
}
