package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/loreforge/internal/config"
	"github.com/MrWong99/loreforge/pkg/backend"
	"github.com/MrWong99/loreforge/pkg/backend/direct"
	"github.com/MrWong99/loreforge/pkg/backend/elevenlabs"
	"github.com/MrWong99/loreforge/pkg/backend/llm"
	"github.com/MrWong99/loreforge/pkg/backend/openaiimage"
	"github.com/MrWong99/loreforge/pkg/backend/rest"
)

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the factory of every built-in backend kind
// into reg. Kind-specific settings come from the entry's options map:
//
//	rest:         health_path
//	llm:          temperature, max_tokens
//	openai-image: size
//	elevenlabs:   catalogue_ttl
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterBackend(config.KindDirect, func(e config.BackendEntry) (backend.Backend, error) {
		var opts []direct.Option
		if e.APIKey != "" {
			opts = append(opts, direct.WithAPIKey(e.APIKey))
		}
		return direct.New(e.Name, e.BaseURL, opts...)
	})

	reg.RegisterBackend(config.KindREST, func(e config.BackendEntry) (backend.Backend, error) {
		var opts []rest.Option
		if e.APIKey != "" {
			opts = append(opts, rest.WithAPIKey(e.APIKey))
		}
		if p := optString(e.Options, "health_path"); p != "" {
			opts = append(opts, rest.WithHealthPath(p))
		}
		return rest.New(e.Name, e.BaseURL, opts...)
	})

	// Every any-llm provider shares the same pattern: optional APIKey and
	// optional BaseURL. Local providers such as ollama only need the URL.
	reg.RegisterBackend(config.KindLLM, func(e config.BackendEntry) (backend.Backend, error) {
		var llmOpts []anyllmlib.Option
		if e.APIKey != "" {
			llmOpts = append(llmOpts, anyllmlib.WithAPIKey(e.APIKey))
		}
		if e.BaseURL != "" {
			llmOpts = append(llmOpts, anyllmlib.WithBaseURL(e.BaseURL))
		}
		var opts []llm.Option
		if v, ok, err := optFloat(e.Options, "temperature"); err != nil {
			return nil, err
		} else if ok {
			opts = append(opts, llm.WithTemperature(v))
		}
		if v, ok, err := optInt(e.Options, "max_tokens"); err != nil {
			return nil, err
		} else if ok {
			opts = append(opts, llm.WithMaxTokens(v))
		}
		return llm.New(e.Name, e.Provider, e.Model, llmOpts, opts...)
	})

	reg.RegisterBackend(config.KindOpenAIImage, func(e config.BackendEntry) (backend.Backend, error) {
		var opts []openaiimage.Option
		if e.BaseURL != "" {
			opts = append(opts, openaiimage.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, openaiimage.WithModel(e.Model))
		}
		if size := optString(e.Options, "size"); size != "" {
			opts = append(opts, openaiimage.WithSize(size))
		}
		if e.Timeout > 0 {
			opts = append(opts, openaiimage.WithTimeout(e.Timeout))
		}
		return openaiimage.New(e.Name, e.APIKey, opts...)
	})

	reg.RegisterBackend(config.KindElevenLabs, func(e config.BackendEntry) (backend.Backend, error) {
		var opts []elevenlabs.Option
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(e.BaseURL))
		}
		if s := optString(e.Options, "catalogue_ttl"); s != "" {
			ttl, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("options.catalogue_ttl: %w", err)
			}
			opts = append(opts, elevenlabs.WithCatalogueTTL(ttl))
		}
		return elevenlabs.New(e.Name, e.APIKey, opts...)
	})

	slog.Debug("registered backend kinds", "kinds", reg.Kinds())
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString returns opts[key], or "" when the map is nil or the key absent.
func optString(opts map[string]string, key string) string {
	if opts == nil {
		return ""
	}
	return opts[key]
}

func optFloat(opts map[string]string, key string) (float64, bool, error) {
	s := optString(opts, key)
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("options.%s: %w", key, err)
	}
	return v, true, nil
}

func optInt(opts map[string]string, key string) (int, bool, error) {
	s := optString(opts, key)
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("options.%s: %w", key, err)
	}
	return v, true, nil
}
