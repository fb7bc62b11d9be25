package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/loreforge/internal/lifecycle"
	"github.com/MrWong99/loreforge/internal/observe"
	"github.com/MrWong99/loreforge/internal/resilience"
	"github.com/MrWong99/loreforge/internal/worldgen"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOREFORGE_"

// Load reads the YAML configuration file at path and returns a validated
// [Config] with environment overrides and defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides and defaults, and validates the result. Unknown YAML keys are
// rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from LOREFORGE_* variables. Fixed settings use the
// env tags of the schema (LOREFORGE_LISTEN_ADDR, LOREFORGE_REDIS_ADDR, ...).
// Backend credentials and endpoints use LOREFORGE_BACKEND_<NAME>_API_KEY
// and LOREFORGE_BACKEND_<NAME>_BASE_URL, where NAME is the upper-cased
// backend name with dashes replaced by underscores.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		prefix := EnvPrefix + "BACKEND_" + envName(b.Name) + "_"
		if v, ok := os.LookupEnv(prefix + "API_KEY"); ok {
			b.APIKey = v
		}
		if v, ok := os.LookupEnv(prefix + "BASE_URL"); ok {
			b.BaseURL = v
		}
	}
	return nil
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
}

// ApplyDefaults fills unset fields. Routes and services that are not
// configured are derived from the backends: the first direct and rest
// backends take the standard routes and health keys, an llm backend backs
// up the text routes, an openai-image backend the image routes and an
// elevenlabs backend the voice route.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogFormatText
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	g := &cfg.Generation
	if g.MaxRetries <= 0 {
		g.MaxRetries = resilience.DefaultMaxAttempts
	}
	if g.BaseDelay <= 0 {
		g.BaseDelay = resilience.DefaultBaseDelay
	}
	if g.InitTimeout <= 0 {
		g.InitTimeout = lifecycle.DefaultInitTimeout
	}
	if g.HealthTimeout <= 0 {
		g.HealthTimeout = 5 * time.Second
	}

	if cfg.Cache.Kind == "" {
		cfg.Cache.Kind = StoreNone
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.History.Kind == "" {
		cfg.History.Kind = StoreMemory
	}

	t := &cfg.Telemetry
	if t.ServiceName == "" {
		t.ServiceName = observe.DefaultServiceName
	}
	if t.TraceExporter == "" {
		t.TraceExporter = TraceExporterNone
	}
	if t.TraceSampleRatio == 0 {
		t.TraceSampleRatio = 1
	}

	defaultRoutes(cfg)
	if len(cfg.Services) == 0 {
		cfg.Services = defaultServices(cfg)
	}
}

func defaultRoutes(cfg *Config) {
	if cfg.Routes == nil {
		cfg.Routes = make(map[string]worldgen.Route)
	}
	direct, rest := cfg.firstOfKind(KindDirect), cfg.firstOfKind(KindREST)
	base := worldgen.DefaultRoutes(direct, rest)
	for _, name := range worldgen.RouteNames() {
		if _, ok := cfg.Routes[name]; ok {
			continue
		}
		rt := base[name]
		var backends []string
		if rt.Backends[0] != "" {
			backends = append(backends, rt.Backends[0])
		}
		var extra string
		switch name {
		case worldgen.RoutePortrait, worldgen.RouteSceneImage:
			extra = cfg.firstOfKind(KindOpenAIImage)
		case worldgen.RouteVoice:
			extra = cfg.firstOfKind(KindElevenLabs)
		default:
			extra = cfg.firstOfKind(KindLLM)
		}
		if extra != "" {
			backends = append(backends, extra)
		}
		if len(backends) > 0 {
			cfg.Routes[name] = worldgen.Route{Operation: rt.Operation, Backends: backends}
		}
	}
}

func defaultServices(cfg *Config) []ServiceEntry {
	direct, rest := cfg.firstOfKind(KindDirect), cfg.firstOfKind(KindREST)
	var out []ServiceEntry
	for _, s := range lifecycle.DefaultServices(direct, rest) {
		out = append(out, ServiceEntry{Key: s.Key, Backend: s.Backend})
	}
	for _, b := range cfg.Backends {
		if b.Name != direct && b.Name != rest {
			out = append(out, ServiceEntry{Key: b.Name, Backend: b.Name})
		}
	}
	return out
}

// Validate checks that cfg is coherent. Hard failures are returned joined;
// suspicious but workable settings are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if f := cfg.Server.LogFormat; f != "" && f != LogFormatText && f != LogFormatJSON {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", f))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file"))
	}

	if len(cfg.Backends) == 0 {
		errs = append(errs, errors.New("backends: at least one backend is required"))
	}
	seen := make(map[string]int, len(cfg.Backends))
	for i, b := range cfg.Backends {
		prefix := fmt.Sprintf("backends[%d]", i)
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[b.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of backends[%d]", prefix, b.Name, prev))
			}
			seen[b.Name] = i
		}
		errs = append(errs, validateBackend(prefix, b)...)
	}

	known := func(name string) bool { _, ok := seen[name]; return ok }
	routeNames := worldgen.RouteNames()
	for name := range cfg.Routes {
		if !slices.Contains(routeNames, name) {
			errs = append(errs, fmt.Errorf("routes.%s is not a known route; valid routes: %s", name, strings.Join(routeNames, ", ")))
		}
	}
	if err := worldgen.ValidateRoutes(cfg.Routes, known); err != nil {
		errs = append(errs, fmt.Errorf("routes: %w", err))
	}

	keys := make(map[string]bool, len(cfg.Services))
	for i, s := range cfg.Services {
		prefix := fmt.Sprintf("services[%d]", i)
		switch {
		case s.Key == "":
			errs = append(errs, fmt.Errorf("%s.key is required", prefix))
		case keys[s.Key]:
			errs = append(errs, fmt.Errorf("%s.key %q is a duplicate", prefix, s.Key))
		}
		keys[s.Key] = true
		if !known(s.Backend) {
			errs = append(errs, fmt.Errorf("%s.backend %q is not a configured backend", prefix, s.Backend))
		}
	}

	if cfg.Generation.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("generation.max_retries %d must not be negative", cfg.Generation.MaxRetries))
	}

	switch cfg.Cache.Kind {
	case "", StoreNone, StoreMemory:
	case StoreRedis:
		if cfg.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required when cache.kind is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.kind %q is invalid; valid values: none, memory, redis", cfg.Cache.Kind))
	}
	switch cfg.History.Kind {
	case "", StoreNone, StoreMemory:
	case StorePostgres:
		if cfg.History.PostgresDSN == "" {
			errs = append(errs, errors.New("history.postgres_dsn is required when history.kind is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.kind %q is invalid; valid values: none, memory, postgres", cfg.History.Kind))
	}

	switch cfg.Telemetry.TraceExporter {
	case "", TraceExporterNone, TraceExporterLog:
	default:
		errs = append(errs, fmt.Errorf("telemetry.trace_exporter %q is invalid; valid values: none, log", cfg.Telemetry.TraceExporter))
	}
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v must be within (0, 1]", r))
	}

	if len(errs) == 0 {
		warnUnused(cfg)
	}
	return errors.Join(errs...)
}

func validateBackend(prefix string, b BackendEntry) []error {
	var errs []error
	if b.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
	}
	switch b.Kind {
	case "":
		errs = append(errs, fmt.Errorf("%s.kind is required", prefix))
	case KindDirect, KindREST:
		if b.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for kind %s", prefix, b.Kind))
		}
	case KindLLM:
		if b.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required for kind llm", prefix))
		}
		if b.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for kind llm", prefix))
		}
	case KindOpenAIImage, KindElevenLabs:
		if b.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for kind %s (or set %sBACKEND_%s_API_KEY)", prefix, b.Kind, EnvPrefix, envName(b.Name)))
		}
	default:
		slog.Warn("unknown backend kind; a custom factory must be registered", "backend", b.Name, "kind", b.Kind, "known", BackendKinds)
	}
	return errs
}

// warnUnused logs backends that no route or service refers to.
func warnUnused(cfg *Config) {
	used := make(map[string]bool)
	for _, name := range worldgen.BackendsInUse(cfg.Routes) {
		used[name] = true
	}
	for _, s := range cfg.Services {
		used[s.Backend] = true
	}
	for _, b := range cfg.Backends {
		if !used[b.Name] {
			slog.Warn("backend is configured but not used by any route or service", "backend", b.Name)
		}
	}
}
