package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/llm"
)

// RedisStore is the WorkflowStore backend for shared deployments where
// several operators watch the same run. Keys live under
// mediacat:run:<run_id>: and writes are serialized through a store
// mutex, matching the single-writer-per-stage model.
type RedisStore struct {
	client *redis.Client
	runID  string
	logger core.Logger

	mu    sync.Mutex
	order []string
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(redisURL string, logger core.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		// Treat it as a bare address if URL parsing fails
		opt = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed at %s: %v\n"+
			"Hint: check MEDIACAT_REDIS_URL or REDIS_URL: %w", redisURL, err, core.ErrPersistence)
	}

	logger.Info("Redis workflow store initialized", map[string]interface{}{
		"operation":  "store_redis_init",
		"redis_addr": opt.Addr,
	})
	return &RedisStore{client: client, logger: logger}, nil
}

func (s *RedisStore) prefix() string           { return "mediacat:run:" + s.runID + ":" }
func (s *RedisStore) metaKey() string          { return s.prefix() + "meta" }
func (s *RedisStore) itemKey(bc string) string { return s.prefix() + "item:" + bc }
func (s *RedisStore) candidatesKey() string    { return s.prefix() + "candidates" }
func (s *RedisStore) jobsKey() string          { return s.prefix() + "jobs" }

type redisRunMeta struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Order     []string  `json:"order"`
}

func persistErr(op string, err error) error {
	return fmt.Errorf("redis %s failed: %v: %w", op, err, core.ErrPersistence)
}

// CreateOrLoadRun seeds the run keys or adopts an existing run
func (s *RedisStore) CreateOrLoadRun(ctx context.Context, runID string, manifest []ManifestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID

	data, err := s.client.Get(ctx, s.metaKey()).Bytes()
	if err == nil {
		var meta redisRunMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("corrupt run meta for %s: %v: %w", runID, err, core.ErrPersistence)
		}
		s.order = meta.Order
		s.logger.Info("Resumed existing run", map[string]interface{}{
			"operation": "store_run_loaded",
			"run_id":    runID,
			"items":     len(meta.Order),
		})
		return nil
	}
	if err != redis.Nil {
		return persistErr("get meta", err)
	}

	now := time.Now().UTC()
	meta := redisRunMeta{RunID: runID, CreatedAt: now}

	pipe := s.client.TxPipeline()
	for _, entry := range manifest {
		meta.Order = append(meta.Order, entry.Barcode)
		item := &core.Item{
			Barcode:   entry.Barcode,
			Images:    entry.Images,
			Status:    core.StatusCreated,
			CreatedAt: now,
			UpdatedAt: now,
		}
		itemData, mErr := json.Marshal(item)
		if mErr != nil {
			return persistErr("marshal item", mErr)
		}
		pipe.Set(ctx, s.itemKey(entry.Barcode), itemData, 0)
	}
	metaData, mErr := json.Marshal(&meta)
	if mErr != nil {
		return persistErr("marshal meta", mErr)
	}
	pipe.Set(ctx, s.metaKey(), metaData, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistErr("seed run", err)
	}
	s.order = meta.Order

	s.logger.Info("Created new run", map[string]interface{}{
		"operation": "store_run_created",
		"run_id":    runID,
		"items":     len(manifest),
	})
	return nil
}

func (s *RedisStore) getItem(ctx context.Context, barcode string) (*core.Item, error) {
	data, err := s.client.Get(ctx, s.itemKey(barcode)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("barcode %s: %w", barcode, core.ErrItemNotFound)
	}
	if err != nil {
		return nil, persistErr("get item", err)
	}
	var item core.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("corrupt item %s: %v: %w", barcode, err, core.ErrPersistence)
	}
	return &item, nil
}

// Get returns one item
func (s *RedisStore) Get(ctx context.Context, barcode string) (*core.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getItem(ctx, barcode)
}

// Update mutates one item under the store lock and writes it back
func (s *RedisStore) Update(ctx context.Context, barcode string, mutate func(*core.Item) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.getItem(ctx, barcode)
	if err != nil {
		return err
	}
	if err := mutate(item); err != nil {
		return err
	}
	item.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(item)
	if err != nil {
		return persistErr("marshal item", err)
	}
	if err := s.client.Set(ctx, s.itemKey(barcode), data, 0).Err(); err != nil {
		return persistErr("set item", err)
	}
	return nil
}

// ListPending returns items waiting on the stage, in manifest order
func (s *RedisStore) ListPending(ctx context.Context, stage core.Stage) ([]*core.Item, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	want := stage.EntryStatus()
	var out []*core.Item
	for _, item := range all {
		if item.Status == want {
			out = append(out, item)
		}
	}
	return out, nil
}

// ListAll returns every item in manifest order
func (s *RedisStore) ListAll(ctx context.Context) ([]*core.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*core.Item, 0, len(s.order))
	for _, barcode := range s.order {
		item, err := s.getItem(ctx, barcode)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// RecordCandidates merges candidates into a hash keyed by OCLC number
func (s *RedisStore) RecordCandidates(ctx context.Context, candidates []core.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(candidates))
	for _, c := range candidates {
		if c.OCLCNumber == "" {
			continue
		}
		data, err := json.Marshal(c)
		if err != nil {
			return persistErr("marshal candidate", err)
		}
		fields[c.OCLCNumber] = data
	}
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, s.candidatesKey(), fields).Err(); err != nil {
		return persistErr("set candidates", err)
	}
	return nil
}

// Candidates returns all recorded candidates keyed by OCLC number
func (s *RedisStore) Candidates(ctx context.Context) (map[string]core.Candidate, error) {
	raw, err := s.client.HGetAll(ctx, s.candidatesKey()).Result()
	if err != nil {
		return nil, persistErr("get candidates", err)
	}
	out := make(map[string]core.Candidate, len(raw))
	for oclc, data := range raw {
		var c core.Candidate
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("corrupt candidate %s: %v: %w", oclc, err, core.ErrPersistence)
		}
		out[oclc] = c
	}
	return out, nil
}

// RegisterBatchJob persists a provider batch handle
func (s *RedisStore) RegisterBatchJob(ctx context.Context, job *llm.BatchJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return persistErr("marshal batch job", err)
	}
	if err := s.client.HSet(ctx, s.jobsKey(), job.ProviderID, data).Err(); err != nil {
		return persistErr("register batch job", err)
	}
	return nil
}

// ListOpenBatchJobs returns every registered, unclosed batch handle
func (s *RedisStore) ListOpenBatchJobs(ctx context.Context) ([]*llm.BatchJob, error) {
	raw, err := s.client.HGetAll(ctx, s.jobsKey()).Result()
	if err != nil {
		return nil, persistErr("list batch jobs", err)
	}
	var out []*llm.BatchJob
	for id, data := range raw {
		var job llm.BatchJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, fmt.Errorf("corrupt batch job %s: %v: %w", id, err, core.ErrPersistence)
		}
		out = append(out, &job)
	}
	return out, nil
}

// CloseBatchJob removes a finished batch handle
func (s *RedisStore) CloseBatchJob(ctx context.Context, providerID string) error {
	if err := s.client.HDel(ctx, s.jobsKey(), providerID).Err(); err != nil {
		return persistErr("close batch job", err)
	}
	return nil
}

// Close releases the redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
