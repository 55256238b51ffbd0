package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docuflow.yaml"), []byte(content), 0o644))
}

func TestInitializeDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "./inbox", cfg.InboxDir)
	assert.Equal(t, "local", cfg.UserID)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.PollInterval)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 0.95, cfg.Pipeline.ScoreCeilingDefault)
}

func TestInitializeMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
inbox_dir: /srv/docs/inbox
pipeline:
  poll_interval: 1s
  max_retries: 7
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, "/srv/docs/inbox", cfg.InboxDir)
	assert.Equal(t, time.Second, cfg.Pipeline.PollInterval)
	assert.Equal(t, 7, cfg.Pipeline.MaxRetries)
	// Untouched values keep their defaults.
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 5, cfg.Pipeline.BedrockWorkers)
}

func TestInitializeExpandsEnvironment(t *testing.T) {
	t.Setenv("DOCUFLOW_TEST_INBOX", "/mnt/scans")

	dir := t.TempDir()
	writeConfig(t, dir, "inbox_dir: ${DOCUFLOW_TEST_INBOX}\n")

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/scans", cfg.InboxDir)
}

func TestInitializeRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
pipeline:
  score_ceiling_default: 1.5
`)

	_, err := Initialize(dir)
	assert.Error(t, err)
}

func TestInitializeRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "inbox_dir: [unclosed\n")

	_, err := Initialize(dir)
	assert.Error(t, err)
}

func TestArtifactsDir(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/docuflow"}
	assert.Equal(t, filepath.Join("/var/lib/docuflow", "artifacts"), cfg.ArtifactsDir())
}
