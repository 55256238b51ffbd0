package inbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScannerForMeta() *Scanner {
	return &Scanner{validate: validator.New()}
}

func writeFolder(t *testing.T, metaJSON string, pages ...string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte(metaJSON), 0o644))
	for _, p := range pages {
		require.NoError(t, os.WriteFile(filepath.Join(dir, p), []byte("content"), 0o644))
	}
	return dir
}

const validMeta = `{
	"id": "5f3c2a4e-8a1b-4c6d-9e2f-1a2b3c4d5e6f",
	"created_at": "2026-08-01T10:30:00Z",
	"documents": [
		{"file": "page2.png", "type": "scan", "order": 2},
		{"file": "page1.png", "type": "scan", "order": 1}
	],
	"metadata": {"source": "scanner", "tags": ["utility", "2026"]}
}`

func TestReadMetaValid(t *testing.T) {
	s := testScannerForMeta()
	dir := writeFolder(t, validMeta, "page1.png", "page2.png")

	meta, err := s.readMeta(dir)
	require.NoError(t, err)
	assert.Equal(t, "5f3c2a4e-8a1b-4c6d-9e2f-1a2b3c4d5e6f", meta.ID)
	// Files are ordered by their declared order, not manifest position.
	assert.Equal(t, "page1.png", meta.Documents[0].File)
	assert.Equal(t, "page2.png", meta.Documents[1].File)
	assert.Equal(t, []string{"utility", "2026"}, meta.Metadata.Tags)
}

func TestReadMetaMissingManifest(t *testing.T) {
	s := testScannerForMeta()
	_, err := s.readMeta(t.TempDir())
	assert.ErrorContains(t, err, "meta.json")
}

func TestReadMetaMalformedJSON(t *testing.T) {
	s := testScannerForMeta()
	dir := writeFolder(t, `{"id": `)
	_, err := s.readMeta(dir)
	assert.ErrorContains(t, err, "malformed")
}

func TestReadMetaInvalidID(t *testing.T) {
	s := testScannerForMeta()
	dir := writeFolder(t, `{
		"id": "not-a-uuid",
		"created_at": "2026-08-01T10:30:00Z",
		"documents": [{"file": "page1.png", "order": 1}]
	}`, "page1.png")
	_, err := s.readMeta(dir)
	assert.ErrorContains(t, err, "invalid meta.json")
}

func TestReadMetaInvalidTimestamp(t *testing.T) {
	s := testScannerForMeta()
	dir := writeFolder(t, `{
		"id": "5f3c2a4e-8a1b-4c6d-9e2f-1a2b3c4d5e6f",
		"created_at": "yesterday",
		"documents": [{"file": "page1.png", "order": 1}]
	}`, "page1.png")
	_, err := s.readMeta(dir)
	assert.ErrorContains(t, err, "created_at")
}

func TestReadMetaNoDocuments(t *testing.T) {
	s := testScannerForMeta()
	dir := writeFolder(t, `{
		"id": "5f3c2a4e-8a1b-4c6d-9e2f-1a2b3c4d5e6f",
		"created_at": "2026-08-01T10:30:00Z",
		"documents": []
	}`)
	_, err := s.readMeta(dir)
	assert.ErrorContains(t, err, "invalid meta.json")
}

func TestReadMetaListedFileMissing(t *testing.T) {
	s := testScannerForMeta()
	dir := writeFolder(t, validMeta, "page1.png") // page2.png absent
	_, err := s.readMeta(dir)
	assert.ErrorContains(t, err, "page2.png")
}
