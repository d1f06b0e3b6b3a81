package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         int               `json:"port" yaml:"port"`
	// AllowOrigins restricts CORS; empty allows every origin.
	AllowOrigins []string          `json:"allow_origins" yaml:"allow_origins"`
	Database     DatabaseConfig    `json:"database" yaml:"database"`
	LogConfig    logger.LogConfig  `json:"log_config" yaml:"log_config"`
	AI           AIConfig          `json:"ai" yaml:"ai"`
	VectorIndex  VectorIndexConfig `json:"vector_index" yaml:"vector_index"`
	Fetcher      FetcherConfig     `json:"fetcher" yaml:"fetcher"`
	Pipeline     PipelineConfig    `json:"pipeline" yaml:"pipeline"`
	Answer       AnswerConfig      `json:"answer" yaml:"answer"`
	Capability   CapabilityConfig  `json:"capability" yaml:"capability"`
	Snapshot     SnapshotConfig    `json:"snapshot" yaml:"snapshot"`
	Schedule     ScheduleConfig    `json:"schedule" yaml:"schedule"`
	Sources      []SourceConfig    `json:"sources" yaml:"sources"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"dbname" yaml:"dbname"`
	SSLMode  string `json:"sslmode" yaml:"sslmode"`
}

// ProviderConfig names a registered provider and carries its raw arguments.
type ProviderConfig struct {
	Name string                 `json:"name" yaml:"name"`
	Data map[string]interface{} `json:"data" yaml:"data"`
}

type AIConfig struct {
	Embed          []ProviderConfig `json:"embed" yaml:"embed"`
	Generate       []ProviderConfig `json:"generate" yaml:"generate"`
	EmbedModel     string           `json:"embed_model" yaml:"embed_model"`
	EmbedDimension int              `json:"embed_dimension" yaml:"embed_dimension"`
	GenerateModel  string           `json:"generate_model" yaml:"generate_model"`
	Timeout        int              `json:"timeout" yaml:"timeout"`
	CacheSize      int              `json:"cache_size" yaml:"cache_size"`
	CacheTTL       int              `json:"cache_ttl" yaml:"cache_ttl"`
	DBCache        bool             `json:"db_cache" yaml:"db_cache"`
}

type VectorIndexConfig struct {
	Type    string                 `json:"type" yaml:"type"`
	Name    string                 `json:"name" yaml:"name"`
	Timeout int                    `json:"timeout" yaml:"timeout"` // seconds per index call
	Data    map[string]interface{} `json:"data" yaml:"data"`
}

type FetcherConfig struct {
	Timeout   int            `json:"timeout" yaml:"timeout"`
	UserAgent string         `json:"user_agent" yaml:"user_agent"`
	MaxBytes  int64          `json:"max_bytes" yaml:"max_bytes"`
	Render    RendererConfig `json:"render" yaml:"render"`
}

type RendererConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	ExecPath string `json:"exec_path" yaml:"exec_path"`
	Timeout  int    `json:"timeout" yaml:"timeout"`
	WaitMS   int    `json:"wait_ms" yaml:"wait_ms"`
}

type PipelineConfig struct {
	ChunkSize        int     `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap     int     `json:"chunk_overlap" yaml:"chunk_overlap"`
	BatchSize        int     `json:"batch_size" yaml:"batch_size"`
	EmbedLimit       int     `json:"embed_limit" yaml:"embed_limit"`
	ItemDelayMS      int     `json:"item_delay_ms" yaml:"item_delay_ms"`
	BatchDelayMS     int     `json:"batch_delay_ms" yaml:"batch_delay_ms"`
	ScrapeDelayMS    int     `json:"scrape_delay_ms" yaml:"scrape_delay_ms"`
	RatePerSecond    float64 `json:"rate_per_second" yaml:"rate_per_second"`
	RateBurst        int     `json:"rate_burst" yaml:"rate_burst"`
	ConcurrentEmbeds bool    `json:"concurrent_embeds" yaml:"concurrent_embeds"`
}

type AnswerConfig struct {
	TopK          int     `json:"top_k" yaml:"top_k"`
	MinScore      float32 `json:"min_score" yaml:"min_score"`
	HistoryTurns  int     `json:"history_turns" yaml:"history_turns"`
	ExcerptChars  int     `json:"excerpt_chars" yaml:"excerpt_chars"`
	CacheTTL      int     `json:"cache_ttl" yaml:"cache_ttl"`
	ChatRateLimit int     `json:"chat_rate_limit_ms" yaml:"chat_rate_limit_ms"`
}

type CapabilityConfig struct {
	Type      string   `json:"type" yaml:"type"`
	Endpoint  string   `json:"endpoint" yaml:"endpoint"`
	Command   []string `json:"command" yaml:"command"`
	Tools     []string `json:"tools" yaml:"tools"`
	Timeout   int      `json:"timeout" yaml:"timeout"`
	QueryArg  string   `json:"query_arg" yaml:"query_arg"`
	MaxLength int      `json:"max_length" yaml:"max_length"`
}

type SnapshotConfig struct {
	Type string                 `json:"type" yaml:"type"`
	Data map[string]interface{} `json:"data" yaml:"data"`
}

// ScheduleConfig holds cron specs for the background jobs run by serve.
// The value "off" disables a job.
type ScheduleConfig struct {
	EmbedSpec        string `json:"embed_spec" yaml:"embed_spec"`
	ReconcileSpec    string `json:"reconcile_spec" yaml:"reconcile_spec"`
	ReconcileRepair  bool   `json:"reconcile_repair" yaml:"reconcile_repair"`
	CacheCleanupSpec string `json:"cache_cleanup_spec" yaml:"cache_cleanup_spec"`
	CacheMaxAgeDays  int    `json:"cache_max_age_days" yaml:"cache_max_age_days"`
}

type SourceConfig struct {
	URL         string `json:"url" yaml:"url"`
	UseRenderer bool   `json:"use_renderer" yaml:"use_renderer"`
}

// Load decodes the file at path (JSON, or YAML by extension), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	ApplyEnv(&cfg, os.LookupEnv)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults holds the knobs for which zero is a valid setting (no overlap, no
// pacing delay, no score floor). They are seeded before decoding so an
// explicit zero in the file or environment survives.
func Defaults() Config {
	return Config{
		Pipeline: PipelineConfig{
			ChunkOverlap:  200,
			ItemDelayMS:   200,
			BatchDelayMS:  1000,
			ScrapeDelayMS: 1000,
		},
		Answer: AnswerConfig{MinScore: 0.5},
	}
}

// ApplyDefaults fills fields whose zero value means "unset".
func ApplyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.AI.EmbedModel == "" {
		cfg.AI.EmbedModel = "text-embedding-004"
	}
	if cfg.AI.EmbedDimension == 0 {
		cfg.AI.EmbedDimension = 768
	}
	if cfg.AI.GenerateModel == "" {
		cfg.AI.GenerateModel = "gemini-1.5-flash"
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.AI.CacheSize == 0 {
		cfg.AI.CacheSize = 2048
	}
	if cfg.AI.CacheTTL == 0 {
		cfg.AI.CacheTTL = 3600
	}
	if cfg.VectorIndex.Type == "" {
		cfg.VectorIndex.Type = "pgvector"
	}
	if cfg.VectorIndex.Name == "" {
		cfg.VectorIndex.Name = "doc_chunks"
	}
	if cfg.VectorIndex.Timeout == 0 {
		cfg.VectorIndex.Timeout = 10
	}
	if cfg.Fetcher.Timeout == 0 {
		cfg.Fetcher.Timeout = 30
	}
	if cfg.Fetcher.MaxBytes == 0 {
		cfg.Fetcher.MaxBytes = 10 << 20
	}
	if cfg.Fetcher.Render.Timeout == 0 {
		cfg.Fetcher.Render.Timeout = 60
	}
	if cfg.Fetcher.Render.WaitMS == 0 {
		cfg.Fetcher.Render.WaitMS = 2000
	}
	if cfg.Pipeline.ChunkSize == 0 {
		cfg.Pipeline.ChunkSize = 1000
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 5
	}
	if cfg.Pipeline.EmbedLimit == 0 {
		cfg.Pipeline.EmbedLimit = 100
	}
	if cfg.Pipeline.RatePerSecond == 0 {
		cfg.Pipeline.RatePerSecond = 5
	}
	if cfg.Pipeline.RateBurst == 0 {
		cfg.Pipeline.RateBurst = cfg.Pipeline.BatchSize
	}
	if cfg.Answer.TopK == 0 {
		cfg.Answer.TopK = 5
	}
	if cfg.Answer.HistoryTurns == 0 {
		cfg.Answer.HistoryTurns = 6
	}
	if cfg.Answer.ExcerptChars == 0 {
		cfg.Answer.ExcerptChars = 200
	}
	if cfg.Answer.ChatRateLimit == 0 {
		cfg.Answer.ChatRateLimit = 1000
	}
	if cfg.Capability.Type == "" {
		cfg.Capability.Type = "none"
	}
	if cfg.Capability.Timeout == 0 {
		cfg.Capability.Timeout = 10
	}
	if cfg.Capability.QueryArg == "" {
		cfg.Capability.QueryArg = "query"
	}
	if cfg.Capability.MaxLength == 0 {
		cfg.Capability.MaxLength = 4000
	}
	if cfg.Schedule.EmbedSpec == "" {
		cfg.Schedule.EmbedSpec = "*/5 * * * *"
	}
	if cfg.Schedule.ReconcileSpec == "" {
		cfg.Schedule.ReconcileSpec = "0 3 * * *"
	}
	if cfg.Schedule.CacheCleanupSpec == "" {
		cfg.Schedule.CacheCleanupSpec = "30 4 * * *"
	}
	if cfg.Schedule.CacheMaxAgeDays == 0 {
		cfg.Schedule.CacheMaxAgeDays = 30
	}
}

func Validate(cfg *Config) error {
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if len(cfg.AI.Embed) == 0 {
		return fmt.Errorf("ai.embed is required")
	}
	if len(cfg.AI.Generate) == 0 {
		return fmt.Errorf("ai.generate is required")
	}
	if cfg.Pipeline.ChunkOverlap < 0 || cfg.Pipeline.ChunkOverlap >= cfg.Pipeline.ChunkSize {
		return fmt.Errorf("pipeline.chunk_overlap must be in [0, chunk_size)")
	}
	if cfg.Answer.MinScore < 0 || cfg.Answer.MinScore > 1 {
		return fmt.Errorf("answer.min_score must be in [0, 1]")
	}
	switch cfg.Capability.Type {
	case "none":
	case "mcp":
		if cfg.Capability.Endpoint == "" && len(cfg.Capability.Command) == 0 {
			return fmt.Errorf("capability.endpoint or capability.command is required for mcp")
		}
	default:
		return fmt.Errorf("capability.type must be none or mcp")
	}
	for i, src := range cfg.Sources {
		if strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("sources[%d].url is required", i)
		}
	}
	return nil
}
