// Command mediacat runs the batch cataloging pipeline over a directory
// of scanned CD or LP images. Runs are resumable: re-invoking with the
// same run ID picks up at the first stage with pending items.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/utlibraries/mediacat/catalog"
	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/llm"
	"github.com/utlibraries/mediacat/llm/providers/openai"
	"github.com/utlibraries/mediacat/pipeline"
	"github.com/utlibraries/mediacat/resilience"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mediacat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		imageDir  = flag.String("images", "", "directory of scanned item images")
		resultDir = flag.String("results", "", "parent directory for run output")
		mediaType = flag.String("media", "", "media profile: cd or lp")
		runID     = flag.String("run", "", "run identifier (reuse to resume a run)")
		workers   = flag.Int("workers", 0, "per-stage worker pool size")
		storeKind = flag.String("store", "", "workflow store backend: file or redis")
		verbose   = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	var opts []core.Option
	if *imageDir != "" {
		opts = append(opts, core.WithImageDir(*imageDir))
	}
	if *resultDir != "" {
		opts = append(opts, core.WithResultDir(*resultDir))
	}
	if *mediaType != "" {
		opts = append(opts, core.WithMediaType(*mediaType))
	}
	if *runID != "" {
		opts = append(opts, core.WithRunID(*runID))
	}
	if *workers > 0 {
		opts = append(opts, core.WithWorkers(*workers))
	}
	if *storeKind != "" {
		opts = append(opts, core.WithStoreProvider(*storeKind))
	}

	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return err
	}
	if cfg.ImageDir == "" {
		return fmt.Errorf("no image directory: pass -images or set MEDIACAT_IMAGE_DIR")
	}
	if cfg.RunID == "" {
		cfg.RunID = fmt.Sprintf("%s-%s",
			time.Now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
	}

	runDir := filepath.Join(cfg.ResultDir, "results-"+cfg.RunID)
	if err := os.MkdirAll(filepath.Join(runDir, "logs"), 0o755); err != nil {
		return fmt.Errorf("failed to create run directory %s: %w", runDir, err)
	}

	logger, closeLog, err := buildLogger(runDir, *verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	profile, err := core.LoadProfile(cfg)
	if err != nil {
		return err
	}

	source := pipeline.NewDirectoryItemSource(cfg.ImageDir, logger)
	manifest, err := source.Scan()
	if err != nil {
		return err
	}
	if len(manifest) == 0 {
		return fmt.Errorf("no items found in %s", cfg.ImageDir)
	}

	store, err := buildStore(cfg, runDir, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	llmRetry := &resilience.RetryConfig{
		MaxAttempts:   cfg.LLM.RetryAttempts,
		InitialDelay:  cfg.LLM.RetryDelay,
		MaxDelay:      8 * time.Minute,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
	llmClient := openai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Timeout, logger)
	ledger := llm.NewCostLedger(llm.DefaultPriceTable(), cfg.LLM.BatchDiscount)
	executor := llm.NewExecutor(llmClient, llmClient, store, ledger, llm.Config{
		BatchThreshold:        cfg.LLM.BatchThreshold,
		MaxPayloadBytes:       cfg.LLM.MaxBatchPayloadBytes,
		MaxConcurrentRequests: cfg.LLM.MaxConcurrentRequests,
		MaxConcurrentChunks:   cfg.LLM.MaxConcurrentChunks,
		CheckInterval:         cfg.LLM.CheckInterval,
		BatchDeadline:         cfg.LLM.BatchDeadline,
	}, llmRetry, logger)

	worldcatLimiter := resilience.NewServiceLimiter("worldcat",
		cfg.WorldCat.RequestsPerSecond, cfg.WorldCat.DailyLimit, logger)
	search := catalog.NewSearchClient(cfg.WorldCat, worldcatLimiter, nil, logger)

	almaLimiter := resilience.NewServiceLimiter("alma", cfg.Alma.RequestsPerSecond, 0, logger)
	alma := catalog.NewAlmaClient(cfg.Alma, almaLimiter, nil, logger)

	respLog := pipeline.NewResponseLog(runDir, logger)
	controller := pipeline.NewController(cfg, profile, store, executor, search, alma,
		ledger, respLog, logger)

	// SIGINT/SIGTERM cancels the run; the active stage drains, state is
	// committed, and the same run ID resumes later.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := controller.Run(ctx, manifest)

	if report != nil {
		report.ExportDir = runDir
		exporter := pipeline.NewExporter(runDir, logger)
		if expErr := exporter.Export(context.Background(), store, report, ledger); expErr != nil {
			logger.Error("Export failed", map[string]interface{}{
				"operation": "main_export_failed",
				"error":     expErr.Error(),
			})
			if runErr == nil {
				runErr = expErr
			}
		}
		printReport(report)
	}

	if runErr != nil {
		return runErr
	}
	if report != nil && report.Interrupted {
		fmt.Printf("\nRun interrupted. Resume with: mediacat -images %s -run %s\n",
			cfg.ImageDir, cfg.RunID)
	}
	return nil
}

// buildLogger writes JSON lines to stderr and to logs/run.log in the
// run directory.
func buildLogger(runDir string, verbose bool) (core.Logger, func(), error) {
	level := core.LevelInfo
	if verbose {
		level = core.LevelDebug
	}

	logFile, err := os.OpenFile(filepath.Join(runDir, "logs", "run.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run log: %w", err)
	}
	logger := core.NewMultiLogger(
		core.NewJSONLogger(os.Stderr, level),
		core.NewJSONLogger(logFile, core.LevelDebug),
	)
	return logger, func() { _ = logFile.Close() }, nil
}

func buildStore(cfg *core.Config, runDir string, logger core.Logger) (pipeline.WorkflowStore, error) {
	switch cfg.Store.Provider {
	case "redis":
		return pipeline.NewRedisStore(cfg.Store.RedisURL, logger)
	default:
		return pipeline.NewFileStore(runDir, logger)
	}
}

func printReport(report *pipeline.RunReport) {
	fmt.Printf("\nRun %s: %d items\n", report.RunID, report.Items)
	for _, st := range report.Stages {
		fmt.Printf("  %-9s pending %3d  succeeded %3d  failed %3d  (%d ms)\n",
			st.Stage, st.Pending, st.Succeeded, st.Failed, st.DurationMS)
	}
	if len(report.Groups) > 0 {
		fmt.Println("Dispositions:")
		for _, g := range []core.DispositionGroup{
			core.GroupAlmaBatchUpload,
			core.GroupHeldByInstitution,
			core.GroupCatalogerReview,
			core.GroupDuplicate,
		} {
			if n := report.Groups[g]; n > 0 {
				fmt.Printf("  %-35s %d\n", g.Label(), n)
			}
		}
	}
	fmt.Printf("LLM spend: $%.4f over %d calls (%d prompt / %d completion tokens)\n",
		report.Costs.TotalUSD, report.Costs.Calls,
		report.Costs.PromptTokens, report.Costs.CompletionTokens)
	if report.ExportDir != "" {
		fmt.Printf("Artifacts: %s\n", report.ExportDir)
	}
}
