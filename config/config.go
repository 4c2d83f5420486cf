// Package config loads the memory substrate's ambient configuration from
// the environment, mirroring the teacher gateway's config.Load: a .env
// file loaded best-effort, typed fields parsed with small getEnv helpers,
// and sane production defaults when a variable is unset.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the substrate needs at construction time:
// backend DSNs, CIAR thresholds, lifecycle cadences, and LLM/telemetry
// knobs. Tiers, engines, and the surface facade each take the slice of
// Config they need rather than the whole struct, the way the teacher's
// components take cfg.RedisURL or cfg.DefaultProvider individually.
type Config struct {
	Env string

	RedisURL      string
	PostgresURL   string
	VectorDBPath  string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	OpenSearchURL string

	EmbeddingDim int

	CIARDecayLambda     float64
	CIARRecencyAlpha    float64
	PromotionThreshold  float64
	NearDuplicateThresh float64

	LockTTL         time.Duration
	LockRenewEvery  time.Duration
	WakeupSweepIval time.Duration

	PromotionIdleWindow  time.Duration
	ConsolidationMinSize int
	DistillationCacheTTL time.Duration

	L1WindowSize int
	L1TTL        time.Duration
	L2TTL        time.Duration

	TelemetryStreamMaxLen int64
	TelemetryConsumerName string

	DefaultLLMProvider string
	LLMTimeout         time.Duration
	LLMProviderOrder   []string

	DomainSchemaPath string
	SkillsDir        string

	EnableRuleFallback     bool
	EnableConsolidation    bool
	EnableDistillation     bool
	EnableTelemetry        bool
	EnableRelationalBackup bool
}

// Load reads .env (if present) then the process environment, returning a
// fully populated Config. Load never returns an error: a missing .env
// file is ignored, and a missing or malformed value falls back to its
// default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:           getEnv("MEMORY_ENV", "production"),
		RedisURL:      getEnv("MEMORY_REDIS_URL", "redis://localhost:6379/0"),
		PostgresURL:   getEnv("MEMORY_POSTGRES_URL", "postgres://localhost:5432/memory?sslmode=disable"),
		VectorDBPath:  getEnv("MEMORY_VECTOR_DB_PATH", "./data/vector.db"),
		Neo4jURI:      getEnv("MEMORY_NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:     getEnv("MEMORY_NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("MEMORY_NEO4J_PASSWORD", ""),
		OpenSearchURL: getEnv("MEMORY_OPENSEARCH_URL", "https://localhost:9200"),

		EmbeddingDim: getEnvInt("MEMORY_EMBEDDING_DIM", 1536),

		CIARDecayLambda:     getEnvFloat("MEMORY_CIAR_DECAY_LAMBDA", 0.1),
		CIARRecencyAlpha:    getEnvFloat("MEMORY_CIAR_RECENCY_ALPHA", 0.05),
		PromotionThreshold:  getEnvFloat("MEMORY_PROMOTION_THRESHOLD", 0.6),
		NearDuplicateThresh: getEnvFloat("MEMORY_NEAR_DUPLICATE_THRESHOLD", 0.92),

		LockTTL:         getEnvDuration("MEMORY_LOCK_TTL", 30*time.Second),
		LockRenewEvery:  getEnvDuration("MEMORY_LOCK_RENEW_EVERY", 10*time.Second),
		WakeupSweepIval: getEnvDuration("MEMORY_WAKEUP_SWEEP_INTERVAL", 5*time.Minute),

		PromotionIdleWindow:  getEnvDuration("MEMORY_PROMOTION_IDLE_WINDOW", 10*time.Minute),
		ConsolidationMinSize: getEnvInt("MEMORY_CONSOLIDATION_MIN_CLUSTER", 3),
		DistillationCacheTTL: getEnvDuration("MEMORY_DISTILLATION_CACHE_TTL", time.Hour),

		L1WindowSize: getEnvInt("MEMORY_L1_WINDOW_SIZE", 20),
		L1TTL:        getEnvDuration("MEMORY_L1_TTL", 24*time.Hour),
		L2TTL:        getEnvDuration("MEMORY_L2_TTL", 7*24*time.Hour),

		TelemetryStreamMaxLen: int64(getEnvInt("MEMORY_TELEMETRY_STREAM_MAXLEN", 10000)),
		TelemetryConsumerName: getEnv("MEMORY_TELEMETRY_CONSUMER", "memory-substrate"),

		DefaultLLMProvider: getEnv("MEMORY_DEFAULT_LLM_PROVIDER", "openai"),
		LLMTimeout:         getEnvDuration("MEMORY_LLM_TIMEOUT", 30*time.Second),
		LLMProviderOrder:   getEnvList("MEMORY_LLM_PROVIDER_ORDER", []string{"openai", "anthropic"}),

		DomainSchemaPath: getEnv("MEMORY_DOMAIN_SCHEMA_PATH", "./config/domain_schema.yaml"),
		SkillsDir:        getEnv("MEMORY_SKILLS_DIR", "./skills/manifests"),

		EnableRuleFallback:     getEnvBool("MEMORY_ENABLE_RULE_FALLBACK", true),
		EnableConsolidation:    getEnvBool("MEMORY_ENABLE_CONSOLIDATION", true),
		EnableDistillation:     getEnvBool("MEMORY_ENABLE_DISTILLATION", true),
		EnableTelemetry:        getEnvBool("MEMORY_ENABLE_TELEMETRY", true),
		EnableRelationalBackup: getEnvBool("MEMORY_ENABLE_RELATIONAL_BACKUP", true),
	}

	return cfg, nil
}

// IsDevelopment reports whether the substrate is running in a development
// environment, where components may log at debug level and skip some
// backoff delays.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
