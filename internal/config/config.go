package config

import "time"

// Config is the full gateway configuration, loaded from a single YAML file
// and hot-reloadable via Loader.Watch.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Backend   BackendConfig   `yaml:"backend"`
	Router    RouterConfig    `yaml:"router"`
	Batch     BatchConfig     `yaml:"batch"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// SchemaVersion is prepended to every fingerprint and cache key; bump it
	// to invalidate all existing cache entries en masse.
	SchemaVersion int `yaml:"schema_version"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

func (s ServerConfig) BindAddress() string {
	return s.Host + ":" + itoa(s.Port)
}

// DatabaseConfig describes the Postgres connection backing the admission
// store. When Host is empty the gateway falls back to the in-process
// api_keys table under RateLimit and never touches Postgres.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	s := ""
	for i > 0 {
		s = string(rune('0'+i%10)) + s
		i /= 10
	}
	if neg {
		s = "-" + s
	}
	return s
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

func (r RedisConfig) Enabled() bool { return len(r.Addresses) > 0 && r.Addresses[0] != "" }

// CacheConfig configures the response cache (§4.B).
type CacheConfig struct {
	Backend           string        `yaml:"backend"` // "memory" or "redis"
	TTLDefault        time.Duration `yaml:"ttl_default"`
	NegativeTTL       time.Duration `yaml:"negative_ttl"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// KeyRateLimit is a per-key capacity/refill override, usable from the
// development api_keys table or the admission store record.
type KeyRateLimit struct {
	Capacity         float64 `yaml:"capacity"`
	RefillPerSecond  float64 `yaml:"refill_per_second"`
}

// DevAPIKey is one entry of the in-process fallback key table used when no
// database is configured.
type DevAPIKey struct {
	Key           string        `yaml:"key"`
	Name          string        `yaml:"name"`
	AllowedModels []string      `yaml:"allowed_models"`
	Rate          *KeyRateLimit `yaml:"rate"`
}

// RateLimitConfig configures the per-key token bucket (§4.C).
type RateLimitConfig struct {
	DefaultRate  KeyRateLimit          `yaml:"default_rate"`
	APIKeys      []DevAPIKey           `yaml:"api_keys"`
	IdleEvictionMultiplier int         `yaml:"idle_eviction_multiplier"`
}

// BackendConfig configures the Ollama-compatible text-generation host
// (§4.E).
type BackendConfig struct {
	URL                string        `yaml:"url"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	TotalDeadline      time.Duration `yaml:"total_deadline"`
}

// RouterConfig configures the Model Router (§4.F).
type RouterConfig struct {
	RefreshInterval time.Duration     `yaml:"refresh_interval"`
	AliasMap        map[string]string `yaml:"alias_map"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
	HalfOpenMaxProbes     int           `yaml:"half_open_max_probes"`
}

// BatchConfig configures the Batch Coordinator (§4.H).
type BatchConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	WholeBatchDeadline time.Duration `yaml:"whole_batch_deadline"`
}

// PolicyConfig configures the OPA-backed Access Policy (§4.L).
type PolicyConfig struct {
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type TelemetryConfig struct {
	LogLevel            string `yaml:"log_level"`
	LogFormat           string `yaml:"log_format"`
	MetricsBindAddress  string `yaml:"metrics_bind_address"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Port:            5432,
			Name:            "llmgateway",
			User:            "llmgateway",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:       0,
			PoolSize: 50,
		},
		Cache: CacheConfig{
			Backend:         "memory",
			TTLDefault:      10 * time.Minute,
			NegativeTTL:     30 * time.Second,
			CleanupInterval: time.Minute,
		},
		RateLimit: RateLimitConfig{
			DefaultRate: KeyRateLimit{
				Capacity:        60,
				RefillPerSecond: 1,
			},
			IdleEvictionMultiplier: 10,
		},
		Backend: BackendConfig{
			URL:           "http://ollama:11434",
			Timeout:       30 * time.Second,
			MaxRetries:    3,
			TotalDeadline: 90 * time.Second,
		},
		Router: RouterConfig{
			RefreshInterval: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				RecoveryProbeInterval: 15 * time.Second,
				HalfOpenMaxProbes:     1,
			},
		},
		Batch: BatchConfig{
			MaxConcurrency:     10,
			WholeBatchDeadline: 2 * time.Minute,
		},
		Policy: PolicyConfig{
			EvaluationTimeout: 100 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsBindAddress: ":9090",
		},
		SchemaVersion: 1,
	}
}
