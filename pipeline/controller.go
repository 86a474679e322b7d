package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/utlibraries/mediacat/catalog"
	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/llm"
)

// StageMetrics summarizes one stage's pass over the pending items
type StageMetrics struct {
	Stage      string `json:"stage"`
	Pending    int    `json:"pending"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
}

// RunReport is the terminal summary of one controller run
type RunReport struct {
	RunID       string                        `json:"run_id"`
	Items       int                           `json:"items"`
	Stages      []StageMetrics                `json:"stages"`
	Groups      map[core.DispositionGroup]int `json:"groups,omitempty"`
	Costs       llm.CostSummary               `json:"costs"`
	ExportDir   string                        `json:"export_dir,omitempty"`
	Interrupted bool                          `json:"interrupted,omitempty"`
}

// Controller sequences the six stages over the workflow store. Stages
// run strictly in order; within a stage, work is parallel up to the
// worker limit. On cancellation the current stage drains, state is
// persisted, and a later run resumes at the first stage with pending
// items.
type Controller struct {
	cfg      *core.Config
	profile  *core.MediaProfile
	store    WorkflowStore
	executor *llm.Executor
	search   *catalog.SearchClient
	alma     *catalog.AlmaClient
	ledger   *llm.CostLedger
	builder  *QueryBuilder
	verifier *Verifier
	logger   core.Logger
	respLog  *ResponseLog

	// Results reclaimed from provider batch jobs left open by an
	// interrupted run, keyed by barcode. Consumed by the first LLM
	// stage that finds its barcode here.
	resumed llm.Results
}

// NewController wires a controller over constructed components
func NewController(cfg *core.Config, profile *core.MediaProfile, store WorkflowStore,
	executor *llm.Executor, search *catalog.SearchClient, alma *catalog.AlmaClient,
	ledger *llm.CostLedger, respLog *ResponseLog, logger core.Logger) *Controller {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Controller{
		cfg:      cfg,
		profile:  profile,
		store:    store,
		executor: executor,
		search:   search,
		alma:     alma,
		ledger:   ledger,
		builder:  NewQueryBuilder(profile),
		verifier: NewVerifier(cfg.HighConfidenceThreshold, cfg.ReviewThreshold, profile.LeadingArticles),
		logger:   logger,
		respLog:  respLog,
		resumed:  llm.Results{},
	}
}

// fatal reports whether an error must abort the run rather than fail
// one item
func fatal(err error) bool {
	return core.IsPersistence(err) || core.IsInvariantViolation(err) || errors.Is(err, context.Canceled)
}

// Run executes every stage with pending items and writes the exports.
// An interrupted run leaves committed state behind; calling Run again
// re-enters at the first pending stage.
func (c *Controller) Run(ctx context.Context, manifest []ManifestEntry) (*RunReport, error) {
	if err := c.store.CreateOrLoadRun(ctx, c.cfg.RunID, manifest); err != nil {
		return nil, err
	}

	report := &RunReport{RunID: c.cfg.RunID}
	if all, err := c.store.ListAll(ctx); err == nil {
		report.Items = len(all)
	}

	// Reclaim provider batch jobs an interrupted run left open so
	// their payloads are not re-sent.
	resumed, err := c.executor.ResumeOpenJobs(ctx)
	if err != nil {
		if fatal(err) {
			return report, err
		}
		c.logger.Error("Failed to resume open batch jobs", map[string]interface{}{
			"operation": "run_resume_failed",
			"error":     err.Error(),
		})
	}
	c.resumed = resumed

	stages := []struct {
		stage core.Stage
		run   func(context.Context, []*core.Item) (int, int, error)
	}{
		{core.StageExtract, c.runExtract},
		{core.StageClean, c.runClean},
		{core.StageSearch, c.runSearch},
		{core.StageSelect, c.runSelect},
		{core.StageVerify, c.runVerify},
		{core.StageDispose, c.runDispose},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			report.Interrupted = true
			break
		}

		pending, err := c.store.ListPending(ctx, st.stage)
		if err != nil {
			return report, err
		}
		if len(pending) == 0 {
			continue
		}

		c.logger.Info("Stage starting", map[string]interface{}{
			"operation": "stage_start",
			"stage":     st.stage.String(),
			"pending":   len(pending),
		})
		start := time.Now()
		succeeded, failed, err := st.run(ctx, pending)

		metrics := StageMetrics{
			Stage:      st.stage.String(),
			Pending:    len(pending),
			Succeeded:  succeeded,
			Failed:     failed,
			DurationMS: time.Since(start).Milliseconds(),
		}
		report.Stages = append(report.Stages, metrics)
		c.logger.Info("Stage finished", map[string]interface{}{
			"operation":   "stage_done",
			"stage":       st.stage.String(),
			"succeeded":   succeeded,
			"failed":      failed,
			"duration_ms": metrics.DurationMS,
		})

		if err != nil {
			if errors.Is(err, context.Canceled) {
				report.Interrupted = true
				break
			}
			return report, fmt.Errorf("%s aborted: %w", st.stage.String(), err)
		}
	}

	if c.ledger != nil {
		report.Costs = c.ledger.Summary()
	}

	if items, err := c.store.ListAll(context.Background()); err == nil {
		report.Groups = countGroups(items)
	}
	return report, nil
}

func countGroups(items []*core.Item) map[core.DispositionGroup]int {
	groups := make(map[core.DispositionGroup]int)
	for _, item := range items {
		if item.Stage5 != nil {
			groups[item.Stage5.Group]++
		}
	}
	return groups
}

// failItem records a per-item failure without stopping the stage
func (c *Controller) failItem(ctx context.Context, barcode string, stage core.Stage, cause error) error {
	c.logger.Error("Item failed", map[string]interface{}{
		"operation": "item_failed",
		"stage":     stage.String(),
		"barcode":   barcode,
		"error":     cause.Error(),
	})
	return c.store.Update(ctx, barcode, func(item *core.Item) error {
		item.MarkFailed(stage, cause.Error())
		return nil
	})
}
