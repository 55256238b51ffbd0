package prompt

import (
	"context"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/docuflow/pkg/config"
	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/llm"
	"github.com/docuflow/docuflow/pkg/models"
)

func floatPtr(f float64) *float64 { return &f }

func testEngine() *Engine {
	return &Engine{cfg: &config.PipelineConfig{
		MinDocumentsForScoring: 5,
		PromptUpdateThreshold:  0.1,
	}}
}

func TestShouldEvolve(t *testing.T) {
	e := testEngine()

	base := func() *models.Prompt {
		return &models.Prompt{
			CanEvolve:          true,
			PerformanceScore:   floatPtr(0.6),
			DocumentsProcessed: 10,
		}
	}

	tests := []struct {
		name     string
		mutate   func(p *models.Prompt)
		newScore float64
		want     bool
	}{
		{
			name:     "clears every gate",
			mutate:   func(p *models.Prompt) {},
			newScore: 0.75,
			want:     true,
		},
		{
			name:     "improvement below threshold",
			mutate:   func(p *models.Prompt) {},
			newScore: 0.65,
			want:     false,
		},
		{
			name:     "improvement exactly at threshold",
			mutate:   func(p *models.Prompt) {},
			newScore: 0.7,
			want:     false,
		},
		{
			name:     "static prompt",
			mutate:   func(p *models.Prompt) { p.CanEvolve = false },
			newScore: 0.95,
			want:     false,
		},
		{
			name:     "no baseline yet",
			mutate:   func(p *models.Prompt) { p.PerformanceScore = nil },
			newScore: 0.95,
			want:     false,
		},
		{
			name:     "too few documents",
			mutate:   func(p *models.Prompt) { p.DocumentsProcessed = 4 },
			newScore: 0.95,
			want:     false,
		},
		{
			name:     "baseline at ceiling",
			mutate:   func(p *models.Prompt) { p.ScoreCeiling = floatPtr(0.6) },
			newScore: 0.95,
			want:     false,
		},
		{
			name:     "baseline below ceiling",
			mutate:   func(p *models.Prompt) { p.ScoreCeiling = floatPtr(0.9) },
			newScore: 0.75,
			want:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(p)
			assert.Equal(t, tt.want, e.ShouldEvolve(p, tt.newScore))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcde", truncate("abcdefgh", 5))
	assert.Equal(t, "", truncate("", 5))
}

type fakeLLM struct {
	response string
	err      error
	calls    int
	last     llm.Request
}

func (f *fakeLLM) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.response, ModelID: "test-model"}, nil
}

func inferenceEngine(t *testing.T, client llm.Client) *Engine {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Engine{
		llm:    client,
		events: events.NewLogger(sqlx.NewDb(db, "sqlmock")),
		cfg:    &config.PipelineConfig{},
		logger: slog.Default(),
	}
}

func TestInferSeriesPromptWithoutFrequency(t *testing.T) {
	fake := &fakeLLM{response: `{"schema_definition": {"amount": "number"}, "prompt_text": "Extract the bill fields."}`}
	e := inferenceEngine(t, fake)

	series := &models.Series{ID: "s-1", Entity: "Acme Corp", SeriesType: "utility_bill"}
	inferred, resp, err := e.inferSeriesPrompt(context.Background(), series,
		"sample text", models.JSONMap{"amount": 42})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "Extract the bill fields.", inferred.PromptText)
	assert.Equal(t, 1, fake.calls)
	assert.Contains(t, fake.last.Prompt, "Series: Acme Corp (utility_bill, unknown)")
}

func TestInferSeriesPromptWithFrequency(t *testing.T) {
	fake := &fakeLLM{response: `{"schema_definition": {"amount": "number"}, "prompt_text": "Extract the bill fields."}`}
	e := inferenceEngine(t, fake)

	freq := "monthly"
	series := &models.Series{ID: "s-1", Entity: "Acme Corp", SeriesType: "utility_bill", Frequency: &freq}
	_, _, err := e.inferSeriesPrompt(context.Background(), series, "sample text", nil)
	require.NoError(t, err)
	assert.Contains(t, fake.last.Prompt, "Series: Acme Corp (utility_bill, monthly)")
}

func TestInferSeriesPromptRejectsIncompleteResponse(t *testing.T) {
	fake := &fakeLLM{response: `{"schema_definition": {}, "prompt_text": ""}`}
	e := inferenceEngine(t, fake)

	series := &models.Series{ID: "s-1", Entity: "Acme Corp", SeriesType: "utility_bill"}
	_, _, err := e.inferSeriesPrompt(context.Background(), series, "sample text", nil)
	assert.ErrorContains(t, err, "incomplete")
}
