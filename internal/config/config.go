package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	CacheBackendMemory   = "memory"
	CacheBackendRedis    = "redis"
	CacheBackendPostgres = "postgres"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	DBMinConns   int32  `envconfig:"NP_DB_MIN_CONNS" default:"1"`
	DBMaxConns   int32  `envconfig:"NP_DB_MAX_CONNS" default:"8"`

	SimilarityThreshold    float64       `envconfig:"SIMILARITY_THRESHOLD" default:"0.7"`
	WeightTitle            float64       `envconfig:"WEIGHT_TITLE" default:"0.3"`
	WeightSummary          float64       `envconfig:"WEIGHT_SUMMARY" default:"0.3"`
	WeightGeo              float64       `envconfig:"WEIGHT_GEO" default:"0.2"`
	WeightTags             float64       `envconfig:"WEIGHT_TAGS" default:"0.1"`
	WeightSignature        float64       `envconfig:"WEIGHT_SIGNATURE" default:"0.1"`
	CandidateWindow        time.Duration `envconfig:"CANDIDATE_WINDOW" default:"72h"`
	CandidateLimit         int           `envconfig:"CANDIDATE_LIMIT" default:"300"`
	SummaryAppendThreshold float64       `envconfig:"SUMMARY_APPEND_THRESHOLD" default:"0.9"`

	EscalationExpiry      time.Duration `envconfig:"ESCALATION_EXPIRY" default:"48h"`
	EscalationDecayFactor float64       `envconfig:"ESCALATION_DECAY_FACTOR" default:"0.5"`
	EscalationBaseline    float64       `envconfig:"ESCALATION_BASELINE" default:"0"`
	SweepSchedule         string        `envconfig:"SWEEP_SCHEDULE" default:"@every 1h"`

	Workers            int `envconfig:"WORKERS" default:"8"`
	StoreRetryAttempts int `envconfig:"STORE_RETRY_ATTEMPTS" default:"3"`

	GeocodeCacheBackend string        `envconfig:"GEOCODE_CACHE_BACKEND" default:"memory"`
	GeocodeCacheTTL     time.Duration `envconfig:"GEOCODE_CACHE_TTL" default:"24h"`
	RedisURL            string        `envconfig:"REDIS_URL" default:""`

	GeocodeProviders  string        `envconfig:"GEOCODE_PROVIDERS" default:"nominatim,opencage"`
	GeocodeTimeout    time.Duration `envconfig:"GEOCODE_TIMEOUT" default:"15s"`
	GeocoderUserAgent string        `envconfig:"GEOCODER_USER_AGENT" default:"flashpoint-geocoder/1.0"`
	NominatimURL      string        `envconfig:"NOMINATIM_URL" default:"https://nominatim.openstreetmap.org/search"`
	NominatimRPS      float64       `envconfig:"NOMINATIM_RPS" default:"1"`
	OpenCageAPIKey    string        `envconfig:"OPENCAGE_API_KEY" default:""`
	OpenCageURL       string        `envconfig:"OPENCAGE_URL" default:"https://api.opencagedata.com/geocode/v1/json"`
	OpenCageRPS       float64       `envconfig:"OPENCAGE_RPS" default:"1"`

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"conflict-articles"`
	KafkaGroupID string `envconfig:"KAFKA_GROUP_ID" default:"flashpoint"`

	ReportBucket string `envconfig:"REPORT_BUCKET" default:""`
	ReportPrefix string `envconfig:"REPORT_PREFIX" default:"reports"`
	AWSRegion    string `envconfig:"AWS_REGION" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.StoreBackend)) {
	case StoreBackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of postgres, memory (got %q)", c.StoreBackend)
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("NP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NP_DB_MIN_CONNS (%d) cannot exceed NP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in (0,1]")
	}
	for name, w := range map[string]float64{
		"WEIGHT_TITLE":     c.WeightTitle,
		"WEIGHT_SUMMARY":   c.WeightSummary,
		"WEIGHT_GEO":       c.WeightGeo,
		"WEIGHT_TAGS":      c.WeightTags,
		"WEIGHT_SIGNATURE": c.WeightSignature,
	} {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if c.WeightTitle+c.WeightSummary+c.WeightGeo+c.WeightTags+c.WeightSignature <= 0 {
		return fmt.Errorf("at least one similarity weight must be > 0")
	}
	if c.CandidateWindow <= 0 {
		return fmt.Errorf("CANDIDATE_WINDOW must be > 0")
	}
	if c.CandidateLimit < 1 {
		return fmt.Errorf("CANDIDATE_LIMIT must be >= 1")
	}
	if c.SummaryAppendThreshold < 0 || c.SummaryAppendThreshold > 1 {
		return fmt.Errorf("SUMMARY_APPEND_THRESHOLD must be in [0,1]")
	}

	if c.EscalationExpiry <= 0 {
		return fmt.Errorf("ESCALATION_EXPIRY must be > 0")
	}
	if c.EscalationDecayFactor < 0 || c.EscalationDecayFactor >= 1 {
		return fmt.Errorf("ESCALATION_DECAY_FACTOR must be in [0,1)")
	}
	if c.EscalationBaseline < 0 || c.EscalationBaseline > 10 {
		return fmt.Errorf("ESCALATION_BASELINE must be in [0,10]")
	}
	if strings.TrimSpace(c.SweepSchedule) == "" {
		return fmt.Errorf("SWEEP_SCHEDULE is required")
	}

	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("WORKERS must be between 1 and 32")
	}
	if c.StoreRetryAttempts < 1 {
		return fmt.Errorf("STORE_RETRY_ATTEMPTS must be >= 1")
	}

	switch strings.ToLower(strings.TrimSpace(c.GeocodeCacheBackend)) {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when GEOCODE_CACHE_BACKEND=redis")
		}
	case CacheBackendPostgres:
		if !strings.EqualFold(strings.TrimSpace(c.StoreBackend), StoreBackendPostgres) {
			return fmt.Errorf("GEOCODE_CACHE_BACKEND=postgres requires STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("GEOCODE_CACHE_BACKEND must be one of memory, redis, postgres (got %q)", c.GeocodeCacheBackend)
	}
	if c.GeocodeCacheTTL <= 0 {
		return fmt.Errorf("GEOCODE_CACHE_TTL must be > 0")
	}
	if c.GeocodeTimeout <= 0 {
		return fmt.Errorf("GEOCODE_TIMEOUT must be > 0")
	}
	if c.NominatimRPS <= 0 || c.OpenCageRPS <= 0 {
		return fmt.Errorf("NOMINATIM_RPS and OPENCAGE_RPS must be > 0")
	}
	return nil
}

// GeocodeProviderList returns the configured provider names in fallback order.
func (c *Config) GeocodeProviderList() []string {
	return splitList(c.GeocodeProviders)
}

func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

func (c *Config) UsesMemoryStore() bool {
	return strings.EqualFold(strings.TrimSpace(c.StoreBackend), StoreBackendMemory)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		value := strings.ToLower(strings.TrimSpace(part))
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
