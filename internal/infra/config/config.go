package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ragline/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Platforms []PlatformConfig `yaml:"platforms"`
	Retrieval RetrievalConfig  `yaml:"retrieval"`
	Memory    MemoryConfig     `yaml:"memory"`
	Logger    LoggerConfig     `yaml:"logger"`
	Tracer    TracerConfig     `yaml:"tracer"`
}

// PlatformConfig holds settings for one provider platform, including its
// pool of credential/endpoint configs.
type PlatformConfig struct {
	Name    string          `yaml:"name"`
	Type    string          `yaml:"type"` // "openai" (default) or "bedrock"
	Configs []CredentialSet `yaml:"configs"`
	Breaker BreakerConfig   `yaml:"breaker"`
	Pool    PoolConfig      `yaml:"pool"`

	// Models is a static model list for platforms whose runtime API cannot
	// enumerate models (e.g. Bedrock). Ignored when discovery works.
	Models []string `yaml:"models,omitempty"`
}

// CredentialSet is one credential/endpoint entry in a platform's pool.
type CredentialSet struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Region         string        `yaml:"region,omitempty"`
	MaxConcurrency int           `yaml:"max_concurrency"` // 0 = default 8
	Timeout        time.Duration `yaml:"timeout"`         // per-request; 0 = 120s
	MaxRetries     int           `yaml:"max_retries"`     // 0 = default 2
	RPS            float64       `yaml:"rps"`             // 0 = unlimited
}

// BreakerConfig configures the per-config circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// RetrievalConfig holds retrieval pipeline settings.
type RetrievalConfig struct {
	Strategy   string  `yaml:"strategy"` // passthrough | rewrite | compress
	K          int     `yaml:"k"`
	Threshold  float64 `yaml:"threshold"`
	MaxHistory int     `yaml:"max_history"` // turns fed to reformulation, default 20

	// ApplyThresholdAfterRewrite also applies the similarity threshold to
	// results of the reformulated-query search. Off by default: re-search
	// trusts the new ranking.
	ApplyThresholdAfterRewrite bool `yaml:"apply_threshold_after_rewrite"`
}

// MemoryConfig holds long-term memory settings.
type MemoryConfig struct {
	Path            string         `yaml:"path"`             // SQLite database path
	CleanupSchedule string         `yaml:"cleanup_schedule"` // cron spec, default "@hourly"
	Embedder        EmbedderConfig `yaml:"embedder"`
}

// EmbedderConfig selects the embedding backend for the vector store.
type EmbedderConfig struct {
	Type       string `yaml:"type"` // "local" (default) or "platform"
	Platform   string `yaml:"platform,omitempty"`
	Model      string `yaml:"model,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
	Output string `yaml:"output"` // stdout|stderr|<path>
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Defaults returns a config with sensible defaults applied.
func Defaults() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			Strategy:   "passthrough",
			K:          4,
			Threshold:  0.5,
			MaxHistory: 20,
		},
		Memory: MemoryConfig{
			Path:            "ragline.db",
			CleanupSchedule: "@hourly",
			Embedder:        EmbedderConfig{Type: "local", Dimensions: 256},
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
	}
}

// Load reads the YAML file at path, expands ${ENV} references, applies
// defaults, and validates. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrConfigLoad, path, err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfigLoad, path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func Validate(cfg *Config) error {
	seen := map[string]bool{}
	for i, p := range cfg.Platforms {
		if p.Name == "" {
			return fmt.Errorf("%w: platforms[%d]: name is required", domain.ErrConfigLoad, i)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate platform %q", domain.ErrConfigLoad, p.Name)
		}
		seen[p.Name] = true
		if len(p.Configs) == 0 {
			return fmt.Errorf("%w: platform %q has no configs", domain.ErrConfigLoad, p.Name)
		}
		for j, c := range p.Configs {
			if c.MaxConcurrency < 0 || c.MaxRetries < 0 || c.RPS < 0 {
				return fmt.Errorf("%w: platform %q configs[%d]: negative limits", domain.ErrConfigLoad, p.Name, j)
			}
		}
		switch p.Type {
		case "", "openai", "bedrock":
		default:
			return fmt.Errorf("%w: platform %q: unknown type %q", domain.ErrConfigLoad, p.Name, p.Type)
		}
	}

	switch cfg.Retrieval.Strategy {
	case "passthrough", "rewrite", "compress":
	default:
		return fmt.Errorf("%w: unknown retrieval strategy %q", domain.ErrConfigLoad, cfg.Retrieval.Strategy)
	}
	if cfg.Retrieval.K <= 0 {
		return fmt.Errorf("%w: retrieval k must be positive", domain.ErrConfigLoad)
	}
	if cfg.Retrieval.Threshold < 0 || cfg.Retrieval.Threshold > 1 {
		return fmt.Errorf("%w: retrieval threshold must be in [0,1]", domain.ErrConfigLoad)
	}
	return nil
}
