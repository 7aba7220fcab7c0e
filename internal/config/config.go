package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the riskforge server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Scoring  ScoringConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type ScoringConfig struct {
	Provider string
	// ModelName is the registry name whose active version workers resolve.
	ModelName string
	Timeout   time.Duration
	Remote    RemoteScorerConfig
}

type RemoteScorerConfig struct {
	BaseURL string
	APIKey  string
}

// PipelineConfig tunes the worker pool and the stale-task reaper. The
// staleness threshold and attempt cap are deliberately configuration, not
// hardcoded business rules.
type PipelineConfig struct {
	Workers            int
	QueueCapacity      int
	MaxAttempts        int
	BackoffBase        time.Duration
	StalenessThreshold time.Duration
	ReapInterval       time.Duration
}

var validProviders = map[string]bool{
	"heuristic": true,
	"remote":    true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("RISKFORGE_PORT", 8080),
			Env:  envString("RISKFORGE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Scoring: ScoringConfig{
			Provider:  envString("SCORER_PROVIDER", "heuristic"),
			ModelName: envString("SCORING_MODEL_NAME", "credit_default"),
			Timeout:   envDuration("SCORER_TIMEOUT", 60*time.Second),
			Remote: RemoteScorerConfig{
				BaseURL: os.Getenv("SCORER_BASE_URL"),
				APIKey:  os.Getenv("SCORER_API_KEY"),
			},
		},
		Pipeline: PipelineConfig{
			Workers:            envInt("PIPELINE_WORKERS", 4),
			QueueCapacity:      envInt("PIPELINE_QUEUE_CAPACITY", 1024),
			MaxAttempts:        envInt("PIPELINE_MAX_ATTEMPTS", 3),
			BackoffBase:        envDuration("PIPELINE_BACKOFF_BASE", 500*time.Millisecond),
			StalenessThreshold: envDuration("PIPELINE_STALENESS_THRESHOLD", 5*time.Minute),
			ReapInterval:       envDuration("PIPELINE_REAP_INTERVAL", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validProviders[c.Scoring.Provider] {
		return fmt.Errorf("SCORER_PROVIDER must be one of heuristic, remote; got %q", c.Scoring.Provider)
	}
	if c.Scoring.ModelName == "" {
		return fmt.Errorf("SCORING_MODEL_NAME is required")
	}

	if c.Scoring.Provider == "remote" {
		if c.Scoring.Remote.BaseURL == "" {
			return fmt.Errorf("SCORER_BASE_URL is required when SCORER_PROVIDER is remote")
		}
		if !strings.HasPrefix(c.Scoring.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Scoring.Remote.BaseURL, "https://") {
			return fmt.Errorf("SCORER_BASE_URL must start with http:// or https://, got %q", c.Scoring.Remote.BaseURL)
		}
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("PIPELINE_MAX_ATTEMPTS must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.StalenessThreshold <= 0 {
		return fmt.Errorf("PIPELINE_STALENESS_THRESHOLD must be positive, got %s", c.Pipeline.StalenessThreshold)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
