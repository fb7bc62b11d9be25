// Package config provides the configuration schema, loader, backend
// registry and hot-reload watcher for the loreforge generation service.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/loreforge/internal/worldgen"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Backend kinds understood by the built-in factories.
const (
	KindDirect      = "direct"
	KindREST        = "rest"
	KindLLM         = "llm"
	KindOpenAIImage = "openai-image"
	KindElevenLabs  = "elevenlabs"
)

// BackendKinds lists the built-in backend kinds.
var BackendKinds = []string{KindDirect, KindREST, KindLLM, KindOpenAIImage, KindElevenLabs}

// Cache and history store kinds.
const (
	StoreNone     = "none"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config is the root configuration. It is loaded from YAML with [Load] or
// [LoadFromReader]; LOREFORGE_* environment variables override selected
// fields.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Backends   []BackendEntry            `yaml:"backends"`
	Routes     map[string]worldgen.Route `yaml:"routes"`
	Services   []ServiceEntry            `yaml:"services"`
	Generation GenerationConfig          `yaml:"generation"`
	Cache      CacheConfig               `yaml:"cache"`
	History    HistoryConfig             `yaml:"history"`
	Telemetry  TelemetryConfig           `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API. Default ":8080".
	ListenAddr string    `yaml:"listen_addr" env:"LISTEN_ADDR"`
	LogLevel   LogLevel  `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat  LogFormat `yaml:"log_format" env:"LOG_FORMAT"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// BackendEntry configures one generation backend. Kind selects the factory
// in the [Registry].
type BackendEntry struct {
	// Name is unique and is what routes and services refer to.
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// BaseURL is the service root for direct and rest backends and
	// overrides the provider endpoint for the others.
	BaseURL string `yaml:"base_url"`

	// APIKey may also be supplied as LOREFORGE_BACKEND_<NAME>_API_KEY.
	APIKey string `yaml:"api_key"`

	// Provider selects the LLM provider (openai, anthropic, gemini,
	// ollama) for llm backends.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// Timeout bounds one call. Default 30s.
	Timeout time.Duration `yaml:"timeout"`

	// Optional backends may fail to initialise without failing the
	// service.
	Optional bool `yaml:"optional"`

	// Options holds kind-specific settings such as health_path, size or
	// temperature.
	Options map[string]string `yaml:"options"`
}

// ServiceEntry maps a reported health key onto a backend.
type ServiceEntry struct {
	Key     string `yaml:"key"`
	Backend string `yaml:"backend"`
}

// GenerationConfig tunes the orchestrator.
type GenerationConfig struct {
	// MaxRetries is the total number of attempts for a rate-limited call.
	// Default 3.
	MaxRetries int `yaml:"max_retries"`

	// BaseDelay is the wait before the second attempt; it doubles after
	// each further attempt. Default 1s.
	BaseDelay time.Duration `yaml:"base_delay"`

	ParallelEnrichment bool `yaml:"parallel_enrichment"`

	// InitTimeout bounds one lifecycle initialisation. Default 60s.
	InitTimeout time.Duration `yaml:"init_timeout"`

	// HealthTimeout bounds one health probe. Default 5s.
	HealthTimeout time.Duration `yaml:"health_timeout"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	// Kind is none, memory or redis. Default none.
	Kind       string        `yaml:"kind" env:"CACHE_KIND"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig locates the Redis server of a redis cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// HistoryConfig configures the generation history store.
type HistoryConfig struct {
	// Kind is none, memory or postgres. Default memory.
	Kind        string `yaml:"kind" env:"HISTORY_KIND"`
	Capacity    int    `yaml:"capacity"`
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
}

// Trace exporters.
const (
	TraceExporterNone = "none"
	TraceExporterLog  = "log"
)

// TelemetryConfig configures the OpenTelemetry resource and tracing.
// Metrics are always exported on /metrics.
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Default "loreforge".
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`

	// TraceExporter is none or log. log writes every finished span as a
	// debug record. Default none.
	TraceExporter string `yaml:"trace_exporter" env:"TRACE_EXPORTER"`

	// TraceSampleRatio is the fraction of new traces sampled, in (0, 1].
	// Default 1.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio" env:"TRACE_SAMPLE_RATIO"`
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultCacheTTL        = 10 * time.Minute
)

// BackendNames returns the configured backend names in order.
func (c *Config) BackendNames() []string {
	names := make([]string, len(c.Backends))
	for i, b := range c.Backends {
		names[i] = b.Name
	}
	return names
}

// Backend returns the entry named name.
func (c *Config) Backend(name string) (BackendEntry, bool) {
	for _, b := range c.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return BackendEntry{}, false
}

// firstOfKind returns the name of the first backend of kind, or "".
func (c *Config) firstOfKind(kind string) string {
	for _, b := range c.Backends {
		if b.Kind == kind {
			return b.Name
		}
	}
	return ""
}
