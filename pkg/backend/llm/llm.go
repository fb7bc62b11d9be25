// Package llm implements a backend.Backend that produces generation content
// with a large language model instead of a dedicated generation service.
//
// It is backed by github.com/mozilla-ai/any-llm-go, so any provider that
// library supports (OpenAI, Anthropic, Gemini, Ollama, ...) can stand in for
// the text-generation operations:
//
//	b, err := llm.New("writer", "openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//
// Each call renders the operation's payload into a prompt that asks the model
// for a single JSON object; the object is returned verbatim as the response
// data. Image and voice operations are not supported.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
	"github.com/tidwall/gjson"

	"github.com/MrWong99/loreforge/pkg/backend"
)

var _ backend.Backend = (*Backend)(nil)

const defaultMaxTokens = 2048

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(b *Backend) { b.temperature = &t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.maxTokens = n
		}
	}
}

// Backend generates content with an LLM.
type Backend struct {
	name        string
	model       string
	provider    anyllmlib.Provider
	temperature *float64
	maxTokens   int
}

// New creates an LLM Backend. providerName selects the any-llm-go provider
// (openai, anthropic, gemini, ollama); llmOpts configure it (API key, base
// URL). Backend options follow after.
func New(name, providerName, model string, llmOpts []anyllmlib.Option, opts ...Option) (*Backend, error) {
	if name == "" {
		return nil, errors.New("llm: name must not be empty")
	}
	if model == "" {
		return nil, errors.New("llm: model must not be empty")
	}
	p, err := createProvider(providerName, llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create %q provider: %w", providerName, err)
	}
	b := &Backend{
		name:      name,
		model:     model,
		provider:  p,
		maxTokens: defaultMaxTokens,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

func createProvider(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama", providerName)
	}
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return b.name }

// Init implements backend.Backend. Provider construction already validated
// credentials, so Init is a no-op.
func (b *Backend) Init(context.Context) error { return nil }

// Call implements backend.Backend.
func (b *Backend) Call(ctx context.Context, operation string, payload any) (*backend.Response, error) {
	if !Supports(operation) {
		return nil, backend.NewError(backend.KindUnsupported, b.name, operation,
			"operation not supported by llm backend", nil)
	}
	params, err := b.buildParams(operation, payload)
	if err != nil {
		return nil, backend.NewError(backend.KindDecode, b.name, operation, "encode payload", err)
	}

	resp, err := b.provider.Completion(ctx, params)
	if err != nil {
		return nil, classify(ctx, err, b.name, operation)
	}
	if len(resp.Choices) == 0 {
		return nil, backend.NewError(backend.KindDecode, b.name, operation, "empty choices in response", nil)
	}

	obj, ok := extractJSONObject(resp.Choices[0].Message.ContentString())
	if !ok {
		return nil, backend.NewError(backend.KindDecode, b.name, operation, "model did not return a JSON object", nil)
	}
	out := &backend.Response{Data: json.RawMessage(obj)}
	if resp.Usage != nil {
		out.TokensUsed = resp.Usage.TotalTokens
	}
	return out, nil
}

// CheckHealth implements backend.Backend with a one-token completion.
func (b *Backend) CheckHealth(ctx context.Context) error {
	one := 1
	_, err := b.provider.Completion(ctx, anyllmlib.CompletionParams{
		Model:     b.model,
		Messages:  []anyllmlib.Message{{Role: anyllmlib.RoleUser, Content: "ping"}},
		MaxTokens: &one,
	})
	if err != nil {
		return classify(ctx, err, b.name, "health")
	}
	return nil
}

// buildParams renders the system and user messages for operation.
func (b *Backend) buildParams(operation string, payload any) (anyllmlib.CompletionParams, error) {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return anyllmlib.CompletionParams{}, err
	}
	maxTokens := b.maxTokens
	params := anyllmlib.CompletionParams{
		Model: b.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt(operation)},
			{Role: anyllmlib.RoleUser, Content: "Request:\n" + string(body)},
		},
		MaxTokens: &maxTokens,
	}
	if b.temperature != nil {
		t := *b.temperature
		params.Temperature = &t
	}
	return params, nil
}

// extractJSONObject returns the outermost JSON object in text, tolerating
// surrounding prose and markdown code fences.
func extractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := text[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	return candidate, true
}

// classify maps provider SDK errors onto the backend error kinds.
func classify(ctx context.Context, err error, name, operation string) error {
	if ctx.Err() != nil {
		return backend.NewError(backend.KindTimeout, name, operation, "completion timed out", err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") {
		return backend.NewError(backend.KindRateLimit, name, operation, "provider rate limited", err)
	}
	return backend.NewError(backend.KindRemote, name, operation, "completion failed", err)
}
