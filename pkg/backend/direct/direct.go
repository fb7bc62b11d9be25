// Package direct implements a backend.Backend for the multi-service
// generation API that multiplexes character, scene, adventure, voice and
// image generation over a single endpoint.
//
// Every call is a POST to <base>/ai-services with the body
//
//	{"service": "character", "operation": "create", "data": {...}}
//
// Operations are addressed as "service.operation" (e.g. "image.portrait").
// The health probe is a GET to <base>/ai-services-health which must answer
// {"status": "healthy", ...}.
package direct

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/loreforge/pkg/backend"
)

var _ backend.Backend = (*Backend)(nil)

const (
	callPath   = "/ai-services"
	healthPath = "/ai-services-health"

	defaultTimeout = 30 * time.Second
)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client.HTTP = c }
}

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(b *Backend) {
		if key != "" {
			b.client.Header.Set("Authorization", "Bearer "+key)
		}
	}
}

// Backend talks to the multi-service generation API.
type Backend struct {
	name    string
	baseURL string
	client  backend.JSONClient
}

// New creates a direct Backend. baseURL must be non-empty.
func New(name, baseURL string, opts ...Option) (*Backend, error) {
	if name == "" {
		return nil, errors.New("direct: name must not be empty")
	}
	if baseURL == "" {
		return nil, errors.New("direct: baseURL must not be empty")
	}
	b := &Backend{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: backend.JSONClient{
			Backend: name,
			HTTP:    &http.Client{Timeout: defaultTimeout},
			Header:  http.Header{},
		},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// request is the body of every call.
type request struct {
	Service   string `json:"service"`
	Operation string `json:"operation"`
	Data      any    `json:"data"`
}

// HealthStatus is the body returned by the health endpoint.
type HealthStatus struct {
	Status   string   `json:"status"`
	Version  string   `json:"version,omitempty"`
	Services []string `json:"services,omitempty"`
	Caching  string   `json:"caching,omitempty"`
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return b.name }

// Init implements backend.Backend. The multi-service API needs no session
// setup, so Init verifies reachability with a health probe.
func (b *Backend) Init(ctx context.Context) error {
	if err := b.CheckHealth(ctx); err != nil {
		return fmt.Errorf("direct: init %q: %w", b.name, err)
	}
	return nil
}

// Call implements backend.Backend. operation must have the form
// "service.operation".
func (b *Backend) Call(ctx context.Context, operation string, payload any) (*backend.Response, error) {
	service, op, ok := SplitOperation(operation)
	if !ok {
		return nil, backend.NewError(backend.KindUnsupported, b.name, operation,
			"operation must have the form service.operation", nil)
	}
	var env backend.Envelope
	body := request{Service: service, Operation: op, Data: payload}
	if err := b.client.Do(ctx, http.MethodPost, b.baseURL+callPath, operation, body, &env); err != nil {
		return nil, err
	}
	return env.Response(b.name, operation)
}

// CheckHealth implements backend.Backend.
func (b *Backend) CheckHealth(ctx context.Context) error {
	var hs HealthStatus
	if err := b.client.Do(ctx, http.MethodGet, b.baseURL+healthPath, "health", nil, &hs); err != nil {
		return err
	}
	if hs.Status != "healthy" {
		return backend.NewError(backend.KindRemote, b.name, "health",
			fmt.Sprintf("reported status %q", hs.Status), nil)
	}
	return nil
}

// SplitOperation splits "service.operation" into its parts.
func SplitOperation(operation string) (service, op string, ok bool) {
	service, op, ok = strings.Cut(operation, ".")
	if !ok || service == "" || op == "" {
		return "", "", false
	}
	return service, op, true
}
