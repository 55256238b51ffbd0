package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docuflow/docuflow/pkg/api"
	"github.com/docuflow/docuflow/pkg/database"
	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/inbox"
	"github.com/docuflow/docuflow/pkg/llm"
	"github.com/docuflow/docuflow/pkg/ocr"
	"github.com/docuflow/docuflow/pkg/orchestrator"
	"github.com/docuflow/docuflow/pkg/pipeline"
	"github.com/docuflow/docuflow/pkg/prompt"
	"github.com/docuflow/docuflow/pkg/store"
)

func newStartProcessorCmd(configDir *string) *cobra.Command {
	var once bool
	var docID string

	cmd := &cobra.Command{
		Use:   "start-processor",
		Short: "Run the document processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcessor(cmd.Context(), *configDir, once, docID)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Process available work and exit")
	cmd.Flags().StringVar(&docID, "doc-id", "", "Restrict processing to one document id")
	return cmd
}

func runProcessor(ctx context.Context, configDir string, once bool, docID string) error {
	logger := slog.Default()
	logger.Info("Starting docuflow processor", "config_dir", configDir)

	// 1. Configuration and database.
	cfg, client, err := setup(ctx, configDir)
	if err != nil {
		logger.Error("Startup failed", "error", err)
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("Error closing database client", "error", err)
		}
	}()
	logger.Info("Connected to PostgreSQL database")

	// 2. Stores, audit log, locks.
	st := store.New(client.DB)
	ev := events.NewLogger(client.DB)
	locker := database.NewLocker(client.DB.DB, cfg.Pipeline.LockWaitTimeout, ev)

	// 3. Adapters.
	bedrock, err := llm.NewBedrockClient(ctx, cfg.AWS.Region, cfg.AWS.ModelID, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client", "error", err)
		return err
	}
	// One shared wrapper enforces the bedrock cap and per-call timeout for
	// every model call, including schema inference in the prompt engine.
	llmClient := llm.Limit(bedrock, cfg.Pipeline.BedrockWorkers, cfg.Pipeline.LLMTimeout)
	extractor, err := ocr.NewTextractExtractor(ctx, cfg.AWS.Region, logger)
	if err != nil {
		logger.Error("Failed to initialize OCR extractor", "error", err)
		return err
	}
	logger.Info("Adapters initialized", "region", cfg.AWS.Region, "model_id", cfg.AWS.ModelID)

	// 4. Prompt engine, builtin seeds, and the type vocabulary.
	engine := prompt.NewEngine(st, llmClient, locker, ev, cfg.Pipeline, cfg.UserID, logger)
	if err := engine.EnsureBuiltins(ctx); err != nil {
		logger.Error("Failed to seed builtin prompts", "error", err)
		return err
	}
	if err := st.DocTypes.EnsureDefaults(ctx); err != nil {
		logger.Error("Failed to seed document types", "error", err)
		return err
	}

	// 5. Pipeline, scanner, orchestrator.
	pl := pipeline.New(st, llmClient, extractor, engine, locker, ev,
		cfg.Pipeline, cfg.UserID, cfg.ArtifactsDir(), logger)
	scanner := inbox.NewScanner(st, ev, cfg.InboxDir, cfg.UserID, logger)
	orch := orchestrator.New(st, pl, scanner, ev, cfg.Pipeline, logger)
	orch.DocFilter = docID

	// 6. Optional read-only API.
	var apiServer *api.Server
	apiErrCh := make(chan error, 1)
	if cfg.HTTPPort != "" && !once {
		apiServer = api.NewServer(st, orch, logger)
		go func() {
			if err := apiServer.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
				apiErrCh <- err
			}
		}()
	}

	// 7. Run until the work drains (--once) or a signal arrives.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- orch.Run(runCtx, once)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
		if err := <-runErrCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Orchestrator stopped with error", "error", err)
		}
	case err := <-runErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Orchestrator stopped with error", "error", err)
			return err
		}
	case err := <-apiErrCh:
		logger.Error("API server error triggered shutdown", "error", err)
		cancel()
		<-runErrCh
		return err
	}

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
