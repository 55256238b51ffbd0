// Package config loads and validates docuflow.yaml.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// PipelineConfig controls orchestrator scheduling, concurrency caps,
// retry accounting, and prompt evolution thresholds.
type PipelineConfig struct {
	// Concurrency caps (semaphores).
	TextractWorkers       int `yaml:"textract_workers" validate:"gt=0"`
	BedrockWorkers        int `yaml:"bedrock_workers" validate:"gt=0"`
	FileGenerationWorkers int `yaml:"file_generation_workers" validate:"gt=0"`
	MaxDocumentFlows      int `yaml:"max_document_flows" validate:"gt=0"`
	MaxFileFlows          int `yaml:"max_file_flows" validate:"gt=0"`

	// Orchestrator timing.
	PollInterval     time.Duration `yaml:"poll_interval" validate:"gt=0"`
	RecoveryInterval time.Duration `yaml:"recovery_interval" validate:"gt=0"`
	StaleTimeout     time.Duration `yaml:"stale_timeout" validate:"gt=0"`
	MaxRetries       int           `yaml:"max_retries" validate:"gte=0"`

	// Prompt evolution gate.
	PromptUpdateThreshold  float64 `yaml:"prompt_update_threshold" validate:"gte=0"`
	MinDocumentsForScoring int     `yaml:"min_documents_for_scoring" validate:"gte=0"`
	ScoreCeilingDefault    float64 `yaml:"score_ceiling_default" validate:"gte=0,lte=1"`

	// Locks and adapter timeouts.
	LockWaitTimeout time.Duration `yaml:"lock_wait_timeout" validate:"gt=0"`
	OCRTimeout      time.Duration `yaml:"ocr_timeout" validate:"gt=0"`
	LLMTimeout      time.Duration `yaml:"llm_timeout" validate:"gt=0"`

	// Classifier context sizing.
	TopTagCombinations int `yaml:"top_tag_combinations" validate:"gt=0"`
	SeriesCatalogSize  int `yaml:"series_catalog_size" validate:"gt=0"`

	// Graceful shutdown budget for draining background scorers.
	ScorerDrainTimeout time.Duration `yaml:"scorer_drain_timeout" validate:"gt=0"`
}

// AWSConfig selects the Bedrock model and region for the adapters.
type AWSConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
}

// Config is the full docuflow configuration.
type Config struct {
	InboxDir string          `yaml:"inbox_dir" validate:"required"`
	DataDir  string          `yaml:"data_dir" validate:"required"`
	UserID   string          `yaml:"user_id" validate:"required"`
	HTTPPort string          `yaml:"http_port"`
	AWS      *AWSConfig      `yaml:"aws"`
	Pipeline *PipelineConfig `yaml:"pipeline" validate:"required"`
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		TextractWorkers:        3,
		BedrockWorkers:         5,
		FileGenerationWorkers:  2,
		MaxDocumentFlows:       5,
		MaxFileFlows:           2,
		PollInterval:           5 * time.Second,
		RecoveryInterval:       5 * time.Minute,
		StaleTimeout:           30 * time.Minute,
		MaxRetries:             3,
		PromptUpdateThreshold:  0.05,
		MinDocumentsForScoring: 5,
		ScoreCeilingDefault:    0.95,
		LockWaitTimeout:        30 * time.Second,
		OCRTimeout:             60 * time.Second,
		LLMTimeout:             120 * time.Second,
		TopTagCombinations:     20,
		SeriesCatalogSize:      50,
		ScorerDrainTimeout:     30 * time.Second,
	}
}

func defaultConfig() *Config {
	return &Config{
		InboxDir: "./inbox",
		DataDir:  "./data",
		UserID:   "local",
		AWS: &AWSConfig{
			Region:  "us-west-2",
			ModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0",
		},
		Pipeline: DefaultPipelineConfig(),
	}
}

// Initialize loads docuflow.yaml from configDir, merges it over the
// built-in defaults, expands environment variables, and validates the
// result. A missing file yields the defaults.
func Initialize(configDir string) (*Config, error) {
	cfg := defaultConfig()

	path := filepath.Join(configDir, "docuflow.yaml")
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Warn("No docuflow.yaml found, using built-in defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		expanded := os.ExpandEnv(string(data))
		user := &Config{}
		if err := yaml.Unmarshal([]byte(expanded), user); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.Info("Configuration initialized",
		"inbox_dir", cfg.InboxDir,
		"data_dir", cfg.DataDir,
		"poll_interval", cfg.Pipeline.PollInterval)

	return cfg, nil
}

// ArtifactsDir is where OCR artifacts ({doc_id}.txt, {doc_id}_llm.json)
// are written.
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.DataDir, "artifacts")
}
