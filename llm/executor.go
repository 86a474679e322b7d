package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/resilience"
)

// Mode is the caller's execution-mode hint
type Mode int

const (
	// ModeAuto picks batch when the stage is batch-eligible and the
	// request count reaches the batch threshold
	ModeAuto Mode = iota
	// ModeSync forces per-request synchronous calls
	ModeSync
	// ModeBatch forces a provider batch job
	ModeBatch
)

// Config tunes the executor
type Config struct {
	BatchThreshold        int
	MaxPayloadBytes       int64
	MaxConcurrentRequests int
	MaxConcurrentChunks   int
	CheckInterval         time.Duration
	BatchDeadline         time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		BatchThreshold:        10,
		MaxPayloadBytes:       40 * 1024 * 1024,
		MaxConcurrentRequests: 5,
		MaxConcurrentChunks:   5,
		CheckInterval:         60 * time.Second,
		BatchDeadline:         24 * time.Hour,
	}
}

// Executor runs a set of LLM requests in sync or batch mode.
// Batch jobs are registered in the JobRegistry before polling starts,
// so an interrupted run can reclaim them without re-sending payloads.
type Executor struct {
	client   core.LLMClient
	batch    BatchClient
	registry JobRegistry
	ledger   *CostLedger
	retry    *resilience.RetryConfig
	logger   core.Logger
	cfg      Config
}

// NewExecutor wires the executor. batch may be nil, which disables
// batch mode entirely.
func NewExecutor(client core.LLMClient, batch BatchClient, registry JobRegistry,
	ledger *CostLedger, cfg Config, retry *resilience.RetryConfig, logger core.Logger) *Executor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 60 * time.Second
	}
	if cfg.BatchDeadline <= 0 {
		cfg.BatchDeadline = 24 * time.Hour
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 40 * 1024 * 1024
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 5
	}
	if cfg.MaxConcurrentChunks <= 0 {
		cfg.MaxConcurrentChunks = 5
	}
	return &Executor{
		client:   client,
		batch:    batch,
		registry: registry,
		ledger:   ledger,
		retry:    retry,
		logger:   logger,
		cfg:      cfg,
	}
}

// batchEligible reports whether a stage may use provider batches.
// Only the two LLM-heavy stages qualify.
func batchEligible(stage core.Stage) bool {
	return stage == core.StageExtract || stage == core.StageSelect
}

// Submit executes the requests and returns one outcome per request ID.
// Per-request failures are recorded in the Results; the returned error
// is non-nil only for run-level conditions (cancellation).
func (e *Executor) Submit(ctx context.Context, stage core.Stage, reqs []*core.LLMRequest, hint Mode) (Results, error) {
	if len(reqs) == 0 {
		return Results{}, nil
	}

	useBatch := e.batch != nil && batchEligible(stage) && len(reqs) >= e.cfg.BatchThreshold
	switch hint {
	case ModeSync:
		useBatch = false
	case ModeBatch:
		useBatch = e.batch != nil
	}

	e.logger.Info("Submitting LLM requests", map[string]interface{}{
		"operation": "llm_submit",
		"stage":     stage.String(),
		"requests":  len(reqs),
		"mode":      map[bool]string{true: "batch", false: "sync"}[useBatch],
	})

	if useBatch {
		return e.submitBatch(ctx, stage, reqs)
	}
	return e.submitSync(ctx, stage, reqs)
}

// submitSync fans requests out with bounded parallelism. A request's
// definitive failure after retries is recorded; the others proceed.
func (e *Executor) submitSync(ctx context.Context, stage core.Stage, reqs []*core.LLMRequest) (Results, error) {
	results := make(Results, len(reqs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentRequests)

	for _, req := range reqs {
		req := req
		g.Go(func() error {
			var resp *core.LLMResponse
			start := time.Now()
			err := resilience.Retry(gctx, e.retry, func() error {
				var callErr error
				resp, callErr = e.client.Complete(gctx, req)
				return callErr
			})
			elapsed := time.Since(start).Milliseconds()

			if err == nil && e.ledger != nil {
				e.ledger.Record(stage.String(), req.ID, resp.Model, resp.Usage, false)
			}
			if err != nil {
				e.logger.Error("LLM request failed", map[string]interface{}{
					"operation":  "llm_request_failed",
					"stage":      stage.String(),
					"request_id": req.ID,
					"error":      err.Error(),
				})
			}

			mu.Lock()
			results[req.ID] = Result{RequestID: req.ID, Response: resp, DurationMS: elapsed, Err: err}
			mu.Unlock()

			// Per-request failures never abort the group; only
			// cancellation stops the fan-out.
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// submitBatch partitions the requests into payload-bounded chunks, runs
// each chunk as its own provider batch, and merges the outcomes. A
// chunk's failure marks only its own requests failed.
func (e *Executor) submitBatch(ctx context.Context, stage core.Stage, reqs []*core.LLMRequest) (Results, error) {
	chunks := partition(reqs, e.cfg.MaxPayloadBytes)

	e.logger.Info("Partitioned batch submission", map[string]interface{}{
		"operation":     "llm_batch_partition",
		"stage":         stage.String(),
		"requests":      len(reqs),
		"chunks":        len(chunks),
		"payload_limit": e.cfg.MaxPayloadBytes,
	})

	results := make(Results, len(reqs))
	var mu sync.Mutex
	merge := func(rs Results) {
		mu.Lock()
		defer mu.Unlock()
		for id, r := range rs {
			results[id] = r
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentChunks)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			rs := e.runChunk(gctx, stage, i, len(chunks), chunk)
			merge(rs)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	// Every request receives exactly one outcome
	for _, req := range reqs {
		if _, ok := results[req.ID]; !ok {
			results[req.ID] = Result{
				RequestID: req.ID,
				Err:       fmt.Errorf("no batch outcome for request %s: %w", req.ID, core.ErrBatchFailed),
			}
		}
	}
	return results, nil
}

// runChunk submits one chunk as a provider batch and polls it to a
// terminal state. All failure paths return per-request errors.
func (e *Executor) runChunk(ctx context.Context, stage core.Stage, idx, total int, reqs []*core.LLMRequest) Results {
	prefix := ""
	if total > 1 {
		prefix = fmt.Sprintf("chunk_%d_", idx)
	}

	batchReqs := make([]BatchRequest, len(reqs))
	customIDs := make(map[string]string, len(reqs))
	for i, req := range reqs {
		cid := prefix + customID(stage.String(), i, req)
		batchReqs[i] = BatchRequest{CustomID: cid, Request: req}
		customIDs[cid] = req.ID
	}

	failAll := func(err error) Results {
		rs := make(Results, len(reqs))
		for _, req := range reqs {
			rs[req.ID] = Result{RequestID: req.ID, Err: err}
		}
		return rs
	}

	var providerID string
	err := resilience.Retry(ctx, e.retry, func() error {
		var submitErr error
		providerID, submitErr = e.batch.SubmitBatch(ctx, batchReqs)
		return submitErr
	})
	if err != nil {
		e.logger.Error("Batch chunk submission failed", map[string]interface{}{
			"operation": "llm_batch_submit_failed",
			"stage":     stage.String(),
			"chunk":     idx,
			"requests":  len(reqs),
			"error":     err.Error(),
		})
		return failAll(fmt.Errorf("chunk %d submit: %w", idx, err))
	}

	job := &BatchJob{
		ProviderID:  providerID,
		Stage:       stage.String(),
		Chunk:       idx,
		ChunkCount:  total,
		CustomIDs:   customIDs,
		SubmittedAt: time.Now().UTC(),
	}
	if e.registry != nil {
		if regErr := e.registry.RegisterBatchJob(ctx, job); regErr != nil {
			// The job is already running provider-side; losing the
			// registration only loses resumability, not the results.
			e.logger.Error("Failed to register batch job", map[string]interface{}{
				"operation":   "llm_batch_register_failed",
				"provider_id": providerID,
				"error":       regErr.Error(),
			})
		}
	}

	batchResults, err := e.awaitBatch(ctx, job)
	if err != nil {
		return failAll(err)
	}
	return e.collect(job, batchResults)
}

// awaitBatch polls a registered job until it reaches a terminal state
// or the hard deadline. On cancellation the provider job is left
// running and its registration remains, so a later run can reclaim it.
func (e *Executor) awaitBatch(ctx context.Context, job *BatchJob) ([]BatchResult, error) {
	deadline := job.SubmittedAt.Add(e.cfg.BatchDeadline)
	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		var status *BatchStatus
		err := resilience.Retry(ctx, e.retry, func() error {
			var pollErr error
			status, pollErr = e.batch.BatchStatus(ctx, job.ProviderID)
			return pollErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("polling batch %s: %w", job.ProviderID, err)
		}

		e.logger.Debug("Batch job status", map[string]interface{}{
			"operation":   "llm_batch_poll",
			"provider_id": job.ProviderID,
			"state":       string(status.State),
			"completed":   status.Completed,
			"failed":      status.Failed,
			"total":       status.Total,
		})

		if status.State.Terminal() {
			switch status.State {
			case BatchCompleted:
				out, resErr := e.batch.BatchResults(ctx, job.ProviderID)
				if resErr != nil {
					return nil, fmt.Errorf("fetching batch %s results: %w", job.ProviderID, resErr)
				}
				e.closeJob(ctx, job.ProviderID)
				return out, nil
			case BatchExpired:
				e.closeJob(ctx, job.ProviderID)
				return nil, fmt.Errorf("batch %s: %w", job.ProviderID, core.ErrBatchExpired)
			default:
				e.closeJob(ctx, job.ProviderID)
				return nil, fmt.Errorf("batch %s ended %s: %w", job.ProviderID, status.State, core.ErrBatchFailed)
			}
		}

		if time.Now().After(deadline) {
			e.closeJob(ctx, job.ProviderID)
			return nil, fmt.Errorf("batch %s exceeded %s deadline: %w",
				job.ProviderID, e.cfg.BatchDeadline, core.ErrBatchExpired)
		}

		select {
		case <-ctx.Done():
			// Leave the job registered for a future run to reclaim
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// collect maps provider results back to request IDs and records costs.
// The provider reports no per-request timings, so every request in the
// job carries the job's elapsed time.
func (e *Executor) collect(job *BatchJob, batchResults []BatchResult) Results {
	elapsed := time.Since(job.SubmittedAt).Milliseconds()
	results := make(Results, len(job.CustomIDs))
	for _, br := range batchResults {
		reqID, ok := job.CustomIDs[br.CustomID]
		if !ok {
			e.logger.Warn("Batch result with unknown custom_id", map[string]interface{}{
				"operation":   "llm_batch_unknown_custom_id",
				"provider_id": job.ProviderID,
				"custom_id":   br.CustomID,
			})
			continue
		}
		if br.Err == nil && br.Response != nil && e.ledger != nil {
			e.ledger.Record(job.Stage, reqID, br.Response.Model, br.Response.Usage, true)
		}
		results[reqID] = Result{RequestID: reqID, Response: br.Response, DurationMS: elapsed, Err: br.Err}
	}

	// Requests the provider never answered are per-request failures
	for cid, reqID := range job.CustomIDs {
		if _, ok := results[reqID]; !ok {
			results[reqID] = Result{
				RequestID: reqID,
				Err:       fmt.Errorf("batch %s returned no result for %s: %w", job.ProviderID, cid, core.ErrBatchFailed),
			}
		}
	}
	return results
}

// ResumeOpenJobs rehydrates provider batch jobs recorded in the store
// and polls them to completion. Results are keyed by request ID exactly
// as if the jobs had been submitted in this process.
func (e *Executor) ResumeOpenJobs(ctx context.Context) (Results, error) {
	if e.registry == nil || e.batch == nil {
		return Results{}, nil
	}

	jobs, err := e.registry.ListOpenBatchJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing open batch jobs: %w", err)
	}
	if len(jobs) == 0 {
		return Results{}, nil
	}

	e.logger.Info("Resuming open batch jobs", map[string]interface{}{
		"operation": "llm_batch_resume",
		"jobs":      len(jobs),
	})

	results := make(Results)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentChunks)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			batchResults, jobErr := e.awaitBatch(gctx, job)

			var rs Results
			if jobErr != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				rs = make(Results, len(job.CustomIDs))
				for _, reqID := range job.CustomIDs {
					rs[reqID] = Result{RequestID: reqID, Err: jobErr}
				}
			} else {
				rs = e.collect(job, batchResults)
			}

			mu.Lock()
			for id, r := range rs {
				results[id] = r
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Executor) closeJob(ctx context.Context, providerID string) {
	if e.registry == nil {
		return
	}
	if err := e.registry.CloseBatchJob(ctx, providerID); err != nil {
		e.logger.Warn("Failed to close batch job registration", map[string]interface{}{
			"operation":   "llm_batch_close_failed",
			"provider_id": providerID,
			"error":       err.Error(),
		})
	}
}

// partition splits requests greedily into chunks whose estimated
// serialized size stays at or below limit. A single oversize request
// gets its own chunk and is left for the provider to reject.
func partition(reqs []*core.LLMRequest, limit int64) [][]*core.LLMRequest {
	var chunks [][]*core.LLMRequest
	var current []*core.LLMRequest
	var size int64

	for _, req := range reqs {
		s := estimateSize(req)
		if len(current) > 0 && size+s > limit {
			chunks = append(chunks, current)
			current = nil
			size = 0
		}
		current = append(current, req)
		size += s
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// estimateSize approximates a request's share of the batch payload.
// Base64 image data URIs dominate, so the JSON encoding is close enough.
func estimateSize(req *core.LLMRequest) int64 {
	data, err := json.Marshal(req)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// customID derives a stable identifier from the stage, position and
// payload hash so a re-built batch maps results to the same items.
func customID(stageTag string, idx int, req *core.LLMRequest) string {
	h := sha256.New()
	h.Write([]byte(req.ID))
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			h.Write([]byte(p.Text))
			h.Write([]byte(p.ImageURI))
		}
	}
	return fmt.Sprintf("%s_%d_%s", stageTag, idx, hex.EncodeToString(h.Sum(nil))[:12])
}
