// docuflow — personal document processing pipeline: OCR, LLM
// classification and summarization, series detection with self-evolving
// prompts, and tag-aggregated file summaries over PostgreSQL.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/docuflow/docuflow/pkg/config"
	"github.com/docuflow/docuflow/pkg/database"
	"github.com/docuflow/docuflow/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:           "docuflow",
		Short:         "Personal document processing pipeline",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configDir, "config-dir",
		getEnv("CONFIG_DIR", "."), "Path to configuration directory")

	root.AddCommand(
		newStartProcessorCmd(&configDir),
		newViewEventsCmd(&configDir),
		newViewPromptsCmd(&configDir),
		newReprocessCmd(&configDir),
	)
	return root
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setup loads .env and docuflow.yaml and connects to the database. Shared
// by every subcommand.
func setup(ctx context.Context, configDir string) (*config.Config, *database.Client, error) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	cfg, err := config.Initialize(configDir)
	if err != nil {
		return nil, nil, err
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	client, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return nil, nil, err
	}
	return cfg, client, nil
}
