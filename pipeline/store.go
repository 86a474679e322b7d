// Package pipeline contains the run controller, the six stage
// implementations, and the durable workflow store they share.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/llm"
)

// ManifestEntry is one item observed by the ItemSource
type ManifestEntry struct {
	Barcode string
	Images  []core.ImageRef
}

// WorkflowStore owns all durable run state. Stage workers borrow a
// read view and commit mutations through Update; persisted state is
// the ground truth and survives interruption.
type WorkflowStore interface {
	// CreateOrLoadRun is idempotent: a new run is seeded from the
	// manifest, an existing run is returned as-is so a resumed run
	// keeps its progress.
	CreateOrLoadRun(ctx context.Context, runID string, manifest []ManifestEntry) error

	Get(ctx context.Context, barcode string) (*core.Item, error)

	// Update applies the mutation to the item under the store lock and
	// commits atomically. The mutation sees committed state only.
	Update(ctx context.Context, barcode string, mutate func(*core.Item) error) error

	// ListPending returns items whose status is exactly the stage's
	// entry status, in manifest order.
	ListPending(ctx context.Context, stage core.Stage) ([]*core.Item, error)

	// ListAll returns every item in manifest order
	ListAll(ctx context.Context) ([]*core.Item, error)

	// RecordCandidates merges candidate records keyed by OCLC number
	RecordCandidates(ctx context.Context, candidates []core.Candidate) error

	// Candidates returns all recorded candidates keyed by OCLC number
	Candidates(ctx context.Context) (map[string]core.Candidate, error)

	// Batch-job handles persist across interruptions so open provider
	// jobs can be reclaimed instead of re-sent
	llm.JobRegistry

	Close() error
}

// runState is the serialized form of one run
type runState struct {
	RunID     string                   `json:"run_id"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
	Order     []string                 `json:"order"`
	Items     map[string]*core.Item    `json:"items"`
	BatchJobs map[string]*llm.BatchJob `json:"batch_jobs,omitempty"`
}

// FileStore persists run state as JSON files in a run directory:
// state.json keyed by barcode and candidates.json keyed by OCLC
// number. Every commit writes to a temp file and renames, so readers
// never observe a torn write.
type FileStore struct {
	dir    string
	logger core.Logger

	mu         sync.Mutex
	state      *runState
	candidates map[string]core.Candidate
}

// NewFileStore creates a store rooted at dir, creating it if needed
func NewFileStore(dir string, logger core.Logger) (*FileStore, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory %s: %v: %w", dir, err, core.ErrPersistence)
	}
	return &FileStore{
		dir:        dir,
		logger:     logger,
		candidates: make(map[string]core.Candidate),
	}, nil
}

// Dir returns the run directory this store writes into
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) statePath() string      { return filepath.Join(s.dir, "state.json") }
func (s *FileStore) candidatesPath() string { return filepath.Join(s.dir, "candidates.json") }

// CreateOrLoadRun loads state.json when present, otherwise seeds a new
// run from the manifest.
func (s *FileStore) CreateOrLoadRun(_ context.Context, runID string, manifest []ManifestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.statePath())
	if err == nil {
		var loaded runState
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("corrupt state file %s: %v: %w", s.statePath(), err, core.ErrPersistence)
		}
		if loaded.RunID != runID {
			return fmt.Errorf("run directory %s belongs to run %q, not %q: %w",
				s.dir, loaded.RunID, runID, core.ErrPersistence)
		}
		s.state = &loaded
		if s.state.Items == nil {
			s.state.Items = make(map[string]*core.Item)
		}
		s.loadCandidatesLocked()
		s.logger.Info("Resumed existing run", map[string]interface{}{
			"operation": "store_run_loaded",
			"run_id":    runID,
			"items":     len(s.state.Items),
		})
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read state file: %v: %w", err, core.ErrPersistence)
	}

	now := time.Now().UTC()
	st := &runState{
		RunID:     runID,
		CreatedAt: now,
		UpdatedAt: now,
		Items:     make(map[string]*core.Item, len(manifest)),
	}
	for _, entry := range manifest {
		st.Order = append(st.Order, entry.Barcode)
		st.Items[entry.Barcode] = &core.Item{
			Barcode:   entry.Barcode,
			Images:    entry.Images,
			Status:    core.StatusCreated,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	s.state = st

	if err := s.commitLocked(); err != nil {
		return err
	}
	s.logger.Info("Created new run", map[string]interface{}{
		"operation": "store_run_created",
		"run_id":    runID,
		"items":     len(manifest),
	})
	return nil
}

func (s *FileStore) loadCandidatesLocked() {
	data, err := os.ReadFile(s.candidatesPath())
	if err != nil {
		return
	}
	var loaded map[string]core.Candidate
	if err := json.Unmarshal(data, &loaded); err == nil && loaded != nil {
		s.candidates = loaded
	}
}

// commitLocked writes state.json atomically. Callers hold s.mu.
func (s *FileStore) commitLocked() error {
	s.state.UpdatedAt = time.Now().UTC()
	return writeJSONAtomic(s.statePath(), s.state)
}

func (s *FileStore) commitCandidatesLocked() error {
	return writeJSONAtomic(s.candidatesPath(), s.candidates)
}

// writeJSONAtomic writes via a temp file and rename so a crash never
// leaves a half-written file behind.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %v: %w", path, err, core.ErrPersistence)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %v: %w", err, core.ErrPersistence)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %v: %w", path, err, core.ErrPersistence)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %v: %w", err, core.ErrPersistence)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit %s: %v: %w", path, err, core.ErrPersistence)
	}
	return nil
}

func (s *FileStore) requireRun() error {
	if s.state == nil {
		return fmt.Errorf("no run loaded: %w", core.ErrRunNotFound)
	}
	return nil
}

// Get returns a copy of the item so callers cannot mutate committed
// state outside Update.
func (s *FileStore) Get(_ context.Context, barcode string) (*core.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRun(); err != nil {
		return nil, err
	}
	item, ok := s.state.Items[barcode]
	if !ok {
		return nil, fmt.Errorf("barcode %s: %w", barcode, core.ErrItemNotFound)
	}
	return copyItem(item), nil
}

// Update mutates one item under the store lock and commits
func (s *FileStore) Update(_ context.Context, barcode string, mutate func(*core.Item) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRun(); err != nil {
		return err
	}
	item, ok := s.state.Items[barcode]
	if !ok {
		return fmt.Errorf("barcode %s: %w", barcode, core.ErrItemNotFound)
	}

	// Mutate a copy; only a successful mutation replaces the committed
	// item, so a failed mutation leaves no partial write.
	work := copyItem(item)
	if err := mutate(work); err != nil {
		return err
	}
	work.UpdatedAt = time.Now().UTC()
	s.state.Items[barcode] = work
	return s.commitLocked()
}

// ListPending returns items waiting on the stage, in manifest order
func (s *FileStore) ListPending(_ context.Context, stage core.Stage) ([]*core.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRun(); err != nil {
		return nil, err
	}
	want := stage.EntryStatus()
	var out []*core.Item
	for _, barcode := range s.state.Order {
		if item := s.state.Items[barcode]; item != nil && item.Status == want {
			out = append(out, copyItem(item))
		}
	}
	return out, nil
}

// ListAll returns every item in manifest order
func (s *FileStore) ListAll(_ context.Context) ([]*core.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRun(); err != nil {
		return nil, err
	}
	out := make([]*core.Item, 0, len(s.state.Order))
	for _, barcode := range s.state.Order {
		if item := s.state.Items[barcode]; item != nil {
			out = append(out, copyItem(item))
		}
	}
	return out, nil
}

// RecordCandidates merges candidates into candidates.json keyed by
// OCLC number. Later sightings of the same record win.
func (s *FileStore) RecordCandidates(_ context.Context, candidates []core.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candidates {
		if c.OCLCNumber == "" {
			continue
		}
		s.candidates[c.OCLCNumber] = c
	}
	return s.commitCandidatesLocked()
}

// Candidates returns all recorded candidates keyed by OCLC number
func (s *FileStore) Candidates(_ context.Context) (map[string]core.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.Candidate, len(s.candidates))
	for k, v := range s.candidates {
		out[k] = v
	}
	return out, nil
}

// RegisterBatchJob persists a provider batch handle before polling
// begins, so an interrupted run can reclaim the job.
func (s *FileStore) RegisterBatchJob(_ context.Context, job *llm.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRun(); err != nil {
		return err
	}
	if s.state.BatchJobs == nil {
		s.state.BatchJobs = make(map[string]*llm.BatchJob)
	}
	s.state.BatchJobs[job.ProviderID] = job
	return s.commitLocked()
}

// ListOpenBatchJobs returns every registered, unclosed batch handle
func (s *FileStore) ListOpenBatchJobs(_ context.Context) ([]*llm.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRun(); err != nil {
		return nil, err
	}
	var out []*llm.BatchJob
	for _, job := range s.state.BatchJobs {
		out = append(out, job)
	}
	return out, nil
}

// CloseBatchJob removes a finished batch handle
func (s *FileStore) CloseBatchJob(_ context.Context, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRun(); err != nil {
		return err
	}
	delete(s.state.BatchJobs, providerID)
	return s.commitLocked()
}

// Close flushes nothing extra; commits happen on every write
func (s *FileStore) Close() error {
	return nil
}

// copyItem deep-copies an item through its JSON form. Items are small
// and this keeps the copy honest as records grow fields.
func copyItem(item *core.Item) *core.Item {
	data, err := json.Marshal(item)
	if err != nil {
		clone := *item
		return &clone
	}
	var out core.Item
	if err := json.Unmarshal(data, &out); err != nil {
		clone := *item
		return &clone
	}
	return &out
}
