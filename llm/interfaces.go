// Package llm executes prompt+attachment requests against an LLM
// provider, choosing between synchronous per-item calls and
// provider-side batch jobs with adaptive sub-batching.
package llm

import (
	"context"
	"time"

	"github.com/utlibraries/mediacat/core"
)

// Result is the terminal outcome of one request, keyed by request ID.
// DurationMS is the wall time of the individual call in sync mode, or
// the time the request spent inside its batch job.
type Result struct {
	RequestID  string
	Response   *core.LLMResponse
	DurationMS int64
	Err        error
}

// Results maps request IDs to their outcomes
type Results map[string]Result

// BatchRequest pairs a request with the stable custom ID the provider
// echoes back in its results file.
type BatchRequest struct {
	CustomID string
	Request  *core.LLMRequest
}

// BatchState is the provider-side lifecycle of a batch job
type BatchState string

const (
	BatchValidating BatchState = "validating"
	BatchInProgress BatchState = "in_progress"
	BatchFinalizing BatchState = "finalizing"
	BatchCompleted  BatchState = "completed"
	BatchFailed     BatchState = "failed"
	BatchExpired    BatchState = "expired"
	BatchCancelled  BatchState = "cancelled"
)

// Terminal reports whether the batch has stopped processing
func (s BatchState) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchExpired, BatchCancelled:
		return true
	}
	return false
}

// BatchStatus is a point-in-time view of a provider batch job
type BatchStatus struct {
	ProviderID string
	State      BatchState
	Total      int
	Completed  int
	Failed     int
}

// BatchResult is one line of a completed batch's output
type BatchResult struct {
	CustomID string
	Response *core.LLMResponse
	Err      error
}

// BatchClient is the provider-side asynchronous batch interface
type BatchClient interface {
	// SubmitBatch uploads the requests and starts a batch job,
	// returning the provider's job identifier.
	SubmitBatch(ctx context.Context, reqs []BatchRequest) (string, error)

	// BatchStatus polls the job state
	BatchStatus(ctx context.Context, providerID string) (*BatchStatus, error)

	// BatchResults downloads and parses the completed job's output
	BatchResults(ctx context.Context, providerID string) ([]BatchResult, error)
}

// BatchJob is the durable handle for an in-flight provider batch.
// Registered in the workflow store before polling begins so an
// interrupted run can reclaim the job without re-sending payloads.
type BatchJob struct {
	ProviderID  string            `json:"provider_id"`
	Stage       string            `json:"stage"`
	Chunk       int               `json:"chunk"`
	ChunkCount  int               `json:"chunk_count"`
	CustomIDs   map[string]string `json:"custom_ids"` // custom_id -> request ID
	SubmittedAt time.Time         `json:"submitted_at"`
}

// JobRegistry persists batch-job handles across interruptions
type JobRegistry interface {
	RegisterBatchJob(ctx context.Context, job *BatchJob) error
	ListOpenBatchJobs(ctx context.Context) ([]*BatchJob, error)
	CloseBatchJob(ctx context.Context, providerID string) error
}
