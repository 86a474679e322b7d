package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the cataloging pipeline.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithImageDir("./scans"),
//	    core.WithWorkers(8),
//	)
type Config struct {
	// Run identity and filesystem layout
	RunID     string `json:"run_id" env:"MEDIACAT_RUN_ID"`
	ImageDir  string `json:"image_dir" env:"MEDIACAT_IMAGE_DIR"`
	ResultDir string `json:"result_dir" env:"MEDIACAT_RESULT_DIR"`

	// Media profile selection: "cd" or "lp"
	MediaType   string `json:"media_type" env:"MEDIACAT_MEDIA_TYPE"`
	ProfilePath string `json:"profile_path" env:"MEDIACAT_PROFILE_PATH"`

	// Stage worker pool size
	Workers int `json:"workers" env:"MEDIACAT_WORKERS"`

	LLM      LLMConfig      `json:"llm"`
	WorldCat WorldCatConfig `json:"worldcat"`
	Alma     AlmaConfig     `json:"alma"`
	Store    StoreConfig    `json:"store"`

	// Confidence thresholds
	HighConfidenceThreshold int     `json:"high_confidence_threshold" env:"MEDIACAT_HIGH_CONFIDENCE"`
	ReviewThreshold         int     `json:"review_threshold" env:"MEDIACAT_REVIEW_THRESHOLD"`
	DuplicateTitleThreshold float64 `json:"duplicate_title_threshold" env:"MEDIACAT_DUP_TITLE_THRESHOLD"`
}

// LLMConfig configures the dual-mode LLM executor
type LLMConfig struct {
	APIKey  string `json:"-" env:"MEDIACAT_LLM_API_KEY,OPENAI_API_KEY"`
	BaseURL string `json:"base_url" env:"MEDIACAT_LLM_BASE_URL"`

	VisionModel    string `json:"vision_model" env:"MEDIACAT_VISION_MODEL"`
	SelectionModel string `json:"selection_model" env:"MEDIACAT_SELECTION_MODEL"`
	MaxTokens      int    `json:"max_tokens" env:"MEDIACAT_LLM_MAX_TOKENS"`

	// Batch-mode knobs
	BatchThreshold        int           `json:"batch_threshold" env:"MEDIACAT_BATCH_THRESHOLD"`
	MaxBatchPayloadBytes  int64         `json:"max_batch_payload_bytes" env:"MEDIACAT_BATCH_MAX_BYTES"`
	MaxConcurrentRequests int           `json:"max_concurrent_requests" env:"MEDIACAT_LLM_CONCURRENCY"`
	MaxConcurrentChunks   int           `json:"max_concurrent_chunks" env:"MEDIACAT_BATCH_CHUNK_CONCURRENCY"`
	CheckInterval         time.Duration `json:"check_interval" env:"MEDIACAT_BATCH_CHECK_INTERVAL"`
	BatchDeadline         time.Duration `json:"batch_deadline" env:"MEDIACAT_BATCH_DEADLINE"`
	BatchDiscount         float64       `json:"batch_discount" env:"MEDIACAT_BATCH_DISCOUNT"`

	Timeout       time.Duration `json:"timeout" env:"MEDIACAT_LLM_TIMEOUT"`
	RetryAttempts int           `json:"retry_attempts" env:"MEDIACAT_LLM_RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `json:"retry_delay" env:"MEDIACAT_LLM_RETRY_DELAY"`
}

// WorldCatConfig configures the union-catalog search and holdings clients
type WorldCatConfig struct {
	ClientID     string `json:"-" env:"MEDIACAT_WORLDCAT_CLIENT_ID,WORLDCAT_CLIENT_ID"`
	ClientSecret string `json:"-" env:"MEDIACAT_WORLDCAT_CLIENT_SECRET,WORLDCAT_CLIENT_SECRET"`
	BaseURL      string `json:"base_url" env:"MEDIACAT_WORLDCAT_BASE_URL"`
	TokenURL     string `json:"token_url" env:"MEDIACAT_WORLDCAT_TOKEN_URL"`

	RequestsPerSecond   float64 `json:"requests_per_second" env:"MEDIACAT_WORLDCAT_RPS"`
	DailyLimit          int     `json:"daily_limit" env:"MEDIACAT_WORLDCAT_DAILY_LIMIT"`
	BroadQueryThreshold int     `json:"broad_query_threshold" env:"MEDIACAT_BROAD_QUERY_THRESHOLD"`
	SearchLimit         int     `json:"search_limit" env:"MEDIACAT_SEARCH_LIMIT"`

	// Symbol denoting the institution running this pipeline
	InstitutionSymbol string `json:"institution_symbol" env:"MEDIACAT_INSTITUTION_SYMBOL"`
}

// AlmaConfig configures the institutional catalog client
type AlmaConfig struct {
	APIKey            string  `json:"-" env:"MEDIACAT_ALMA_API_KEY,ALMA_API_KEY"`
	BaseURL           string  `json:"base_url" env:"MEDIACAT_ALMA_BASE_URL"`
	Region            string  `json:"region" env:"MEDIACAT_ALMA_REGION"`
	RequestsPerSecond float64 `json:"requests_per_second" env:"MEDIACAT_ALMA_RPS"`
}

// StoreConfig selects and configures the workflow store backend
type StoreConfig struct {
	Provider string `json:"provider" env:"MEDIACAT_STORE_PROVIDER"` // "file" or "redis"
	RedisURL string `json:"redis_url" env:"MEDIACAT_REDIS_URL,REDIS_URL"`
}

// Option is a functional configuration option
type Option func(*Config)

// WithRunID sets an explicit run identifier
func WithRunID(id string) Option {
	return func(c *Config) { c.RunID = id }
}

// WithImageDir sets the manifest directory of scanned images
func WithImageDir(dir string) Option {
	return func(c *Config) { c.ImageDir = dir }
}

// WithResultDir sets the parent directory for run outputs
func WithResultDir(dir string) Option {
	return func(c *Config) { c.ResultDir = dir }
}

// WithMediaType selects the "cd" or "lp" profile
func WithMediaType(t string) Option {
	return func(c *Config) { c.MediaType = t }
}

// WithWorkers sets the per-stage worker pool size
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithStoreProvider selects the workflow store backend
func WithStoreProvider(p string) Option {
	return func(c *Config) { c.Store.Provider = p }
}

// NewConfig builds a Config from defaults, environment, then options
func NewConfig(opts ...Option) (*Config, error) {
	cfg := defaultConfig()
	cfg.applyEnvironment()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ResultDir: ".",
		MediaType: "cd",
		Workers:   5,
		LLM: LLMConfig{
			BaseURL:               "https://api.openai.com/v1",
			VisionModel:           "gpt-4o",
			SelectionModel:        "gpt-4o",
			MaxTokens:             4096,
			BatchThreshold:        10,
			MaxBatchPayloadBytes:  40 * 1024 * 1024,
			MaxConcurrentRequests: 5,
			MaxConcurrentChunks:   5,
			CheckInterval:         60 * time.Second,
			BatchDeadline:         24 * time.Hour,
			BatchDiscount:         0.5,
			Timeout:               60 * time.Second,
			RetryAttempts:         3,
			RetryDelay:            30 * time.Second,
		},
		WorldCat: WorldCatConfig{
			BaseURL:             "https://americas.discovery.api.oclc.org/worldcat/search/v2",
			TokenURL:            "https://oauth.oclc.org/token",
			RequestsPerSecond:   5,
			DailyLimit:          50000,
			BroadQueryThreshold: 1000,
			SearchLimit:         10,
			InstitutionSymbol:   "IXA",
		},
		Alma: AlmaConfig{
			BaseURL:           "https://api-na.hosted.exlibrisgroup.com/almaws/v1",
			Region:            "na",
			RequestsPerSecond: 20,
		},
		Store: StoreConfig{
			Provider: "file",
		},
		HighConfidenceThreshold: 80,
		ReviewThreshold:         79,
		DuplicateTitleThreshold: 0.9,
	}
}

// applyEnvironment overrides defaults from process environment.
// Empty environment values are ignored.
func (c *Config) applyEnvironment() {
	setString(&c.RunID, "MEDIACAT_RUN_ID")
	setString(&c.ImageDir, "MEDIACAT_IMAGE_DIR")
	setString(&c.ResultDir, "MEDIACAT_RESULT_DIR")
	setString(&c.MediaType, "MEDIACAT_MEDIA_TYPE")
	setString(&c.ProfilePath, "MEDIACAT_PROFILE_PATH")
	setInt(&c.Workers, "MEDIACAT_WORKERS")
	setInt(&c.HighConfidenceThreshold, "MEDIACAT_HIGH_CONFIDENCE")
	setInt(&c.ReviewThreshold, "MEDIACAT_REVIEW_THRESHOLD")
	setFloat(&c.DuplicateTitleThreshold, "MEDIACAT_DUP_TITLE_THRESHOLD")

	setString(&c.LLM.APIKey, "MEDIACAT_LLM_API_KEY", "OPENAI_API_KEY")
	setString(&c.LLM.BaseURL, "MEDIACAT_LLM_BASE_URL")
	setString(&c.LLM.VisionModel, "MEDIACAT_VISION_MODEL")
	setString(&c.LLM.SelectionModel, "MEDIACAT_SELECTION_MODEL")
	setInt(&c.LLM.MaxTokens, "MEDIACAT_LLM_MAX_TOKENS")
	setInt(&c.LLM.BatchThreshold, "MEDIACAT_BATCH_THRESHOLD")
	setInt64(&c.LLM.MaxBatchPayloadBytes, "MEDIACAT_BATCH_MAX_BYTES")
	setInt(&c.LLM.MaxConcurrentRequests, "MEDIACAT_LLM_CONCURRENCY")
	setInt(&c.LLM.MaxConcurrentChunks, "MEDIACAT_BATCH_CHUNK_CONCURRENCY")
	setDuration(&c.LLM.CheckInterval, "MEDIACAT_BATCH_CHECK_INTERVAL")
	setDuration(&c.LLM.BatchDeadline, "MEDIACAT_BATCH_DEADLINE")
	setFloat(&c.LLM.BatchDiscount, "MEDIACAT_BATCH_DISCOUNT")
	setDuration(&c.LLM.Timeout, "MEDIACAT_LLM_TIMEOUT")
	setInt(&c.LLM.RetryAttempts, "MEDIACAT_LLM_RETRY_ATTEMPTS")
	setDuration(&c.LLM.RetryDelay, "MEDIACAT_LLM_RETRY_DELAY")

	setString(&c.WorldCat.ClientID, "MEDIACAT_WORLDCAT_CLIENT_ID", "WORLDCAT_CLIENT_ID")
	setString(&c.WorldCat.ClientSecret, "MEDIACAT_WORLDCAT_CLIENT_SECRET", "WORLDCAT_CLIENT_SECRET")
	setString(&c.WorldCat.BaseURL, "MEDIACAT_WORLDCAT_BASE_URL")
	setString(&c.WorldCat.TokenURL, "MEDIACAT_WORLDCAT_TOKEN_URL")
	setFloat(&c.WorldCat.RequestsPerSecond, "MEDIACAT_WORLDCAT_RPS")
	setInt(&c.WorldCat.DailyLimit, "MEDIACAT_WORLDCAT_DAILY_LIMIT")
	setInt(&c.WorldCat.BroadQueryThreshold, "MEDIACAT_BROAD_QUERY_THRESHOLD")
	setInt(&c.WorldCat.SearchLimit, "MEDIACAT_SEARCH_LIMIT")
	setString(&c.WorldCat.InstitutionSymbol, "MEDIACAT_INSTITUTION_SYMBOL")

	setString(&c.Alma.APIKey, "MEDIACAT_ALMA_API_KEY", "ALMA_API_KEY")
	setString(&c.Alma.BaseURL, "MEDIACAT_ALMA_BASE_URL")
	setString(&c.Alma.Region, "MEDIACAT_ALMA_REGION")
	setFloat(&c.Alma.RequestsPerSecond, "MEDIACAT_ALMA_RPS")

	setString(&c.Store.Provider, "MEDIACAT_STORE_PROVIDER")
	setString(&c.Store.RedisURL, "MEDIACAT_REDIS_URL", "REDIS_URL")
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.MediaType != "cd" && c.MediaType != "lp" {
		return fmt.Errorf("media_type must be cd or lp, got %q", c.MediaType)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.HighConfidenceThreshold < 0 || c.HighConfidenceThreshold > 100 {
		return fmt.Errorf("high_confidence_threshold out of range: %d", c.HighConfidenceThreshold)
	}
	if c.ReviewThreshold >= c.HighConfidenceThreshold {
		return fmt.Errorf("review_threshold %d must be below high_confidence_threshold %d",
			c.ReviewThreshold, c.HighConfidenceThreshold)
	}
	if c.DuplicateTitleThreshold <= 0 || c.DuplicateTitleThreshold > 1 {
		return fmt.Errorf("duplicate_title_threshold out of range: %f", c.DuplicateTitleThreshold)
	}
	if c.LLM.MaxBatchPayloadBytes <= 0 {
		return fmt.Errorf("max_batch_payload_bytes must be positive")
	}
	if c.Store.Provider != "file" && c.Store.Provider != "redis" {
		return fmt.Errorf("store provider must be file or redis, got %q", c.Store.Provider)
	}
	if c.Store.Provider == "redis" && c.Store.RedisURL == "" {
		return fmt.Errorf("redis store selected but no redis_url configured")
	}
	return nil
}

func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
