package ocr

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	txtypes "github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetect struct {
	calls  int
	blocks []txtypes.Block
	err    error
}

func (f *fakeDetect) DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &textract.DetectDocumentTextOutput{Blocks: f.blocks}, nil
}

func lineBlock(text string, confidence float32) txtypes.Block {
	return txtypes.Block{
		BlockType:  txtypes.BlockTypeLine,
		Text:       aws.String(text),
		Confidence: aws.Float32(confidence),
	}
}

func wordBlock(text string, confidence float32, box txtypes.BoundingBox) txtypes.Block {
	return txtypes.Block{
		BlockType:  txtypes.BlockTypeWord,
		Text:       aws.String(text),
		Confidence: aws.Float32(confidence),
		Geometry:   &txtypes.Geometry{BoundingBox: &box},
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestExtractTextPagesOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page1.txt", "First page.\n")
	writeFile(t, dir, "page2.txt", "Second page.")
	writeFile(t, dir, "meta.json", `{"id": "x"}`)

	api := &fakeDetect{}
	e := &TextractExtractor{api: api, logger: slog.Default()}

	result, err := e.Extract(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 0, api.calls, "text pages must not hit Textract")
	assert.Equal(t, 2, result.DocumentCount)
	assert.Equal(t, "First page.\n\nSecond page.", result.FullText)
	assert.Equal(t, float64(100), result.AvgConfidence)
}

func TestExtractMixedPages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_scan.png", "not-really-a-png")
	writeFile(t, dir, "b_note.txt", "Handwritten note transcript.")

	api := &fakeDetect{blocks: []txtypes.Block{
		lineBlock("ACME CORP", 95),
		lineBlock("Invoice #42", 85),
		// Words are kept as blocks but never contribute to page text.
		{BlockType: txtypes.BlockTypeWord, Text: aws.String("ACME")},
	}}
	e := &TextractExtractor{api: api, logger: slog.Default()}

	result, err := e.Extract(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, api.calls)
	require.Len(t, result.Pages, 2)

	// Pages come back in filename order.
	assert.Equal(t, "a_scan.png", result.Pages[0].Filename)
	assert.Equal(t, "ACME CORP\nInvoice #42", result.Pages[0].Text)
	assert.InDelta(t, 90, result.Pages[0].Confidence, 0.001)

	assert.Equal(t, "b_note.txt", result.Pages[1].Filename)
	assert.Equal(t, float64(100), result.Pages[1].Confidence)

	assert.Equal(t, "ACME CORP\nInvoice #42\n\nHandwritten note transcript.", result.FullText)
	assert.InDelta(t, 95, result.AvgConfidence, 0.001)
}

func TestExtractCapturesLayoutBlocks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scan.png", "bytes")

	api := &fakeDetect{blocks: []txtypes.Block{
		{BlockType: txtypes.BlockTypePage,
			Geometry: &txtypes.Geometry{BoundingBox: &txtypes.BoundingBox{Width: 1, Height: 1}}},
		lineBlock("Total due $42", 96),
		wordBlock("Total", 97, txtypes.BoundingBox{Width: 0.1, Height: 0.02, Left: 0.05, Top: 0.4}),
		{BlockType: txtypes.BlockTypeKeyValueSet}, // analysis-only type, dropped
	}}
	e := &TextractExtractor{api: api, logger: slog.Default()}

	result, err := e.Extract(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)

	blocks := result.Pages[0].Blocks
	require.Len(t, blocks, 3)

	assert.Equal(t, "PAGE", blocks[0].Type)
	assert.Empty(t, blocks[0].Text)
	require.NotNil(t, blocks[0].Box)
	assert.Equal(t, float64(1), blocks[0].Box.Width)

	assert.Equal(t, "LINE", blocks[1].Type)
	assert.Equal(t, "Total due $42", blocks[1].Text)
	assert.Nil(t, blocks[1].Box)

	assert.Equal(t, "WORD", blocks[2].Type)
	assert.Equal(t, "Total", blocks[2].Text)
	require.NotNil(t, blocks[2].Box)
	assert.InDelta(t, 0.05, blocks[2].Box.Left, 1e-6)
	assert.InDelta(t, 0.4, blocks[2].Box.Top, 1e-6)
	assert.InDelta(t, 97, blocks[2].Confidence, 0.001)
}

func TestExtractTextPageHasNoBlocks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "note.txt", "plain text")

	e := &TextractExtractor{api: &fakeDetect{}, logger: slog.Default()}
	result, err := e.Extract(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
	assert.Empty(t, result.Pages[0].Blocks)
}

func TestExtractEmptyFolder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "meta.json", `{}`)
	writeFile(t, dir, "notes.pdf", "unsupported format")

	e := &TextractExtractor{api: &fakeDetect{}, logger: slog.Default()}
	result, err := e.Extract(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 0, result.DocumentCount)
	assert.Empty(t, result.FullText)
	assert.Zero(t, result.AvgConfidence)
}

func TestExtractMissingFolder(t *testing.T) {
	e := &TextractExtractor{api: &fakeDetect{}, logger: slog.Default()}
	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestExtractTextractFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scan.jpg", "bytes")

	e := &TextractExtractor{api: &fakeDetect{err: assert.AnError}, logger: slog.Default()}
	_, err := e.Extract(context.Background(), dir)
	assert.Error(t, err)
}

func TestListPagesSkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.txt"), 0o755))
	writeFile(t, dir, "real.txt", "x")

	files, err := listPages(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "real.txt"), files[0])
}
