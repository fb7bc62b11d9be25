// Package rest implements a backend.Backend for the dedicated-endpoint
// generation API, where each content type has its own route
// (world-history-generator, monster-generator, npc-generator, ...).
//
// A call for operation "monster-generator" is a POST to
// <base>/api/monster-generator; the response is the usual
// {"success", "data", "error", "code"} envelope.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/loreforge/pkg/backend"
)

var _ backend.Backend = (*Backend)(nil)

const (
	defaultAPIPrefix  = "/api"
	defaultHealthPath = "/api/health"
	defaultTimeout    = 30 * time.Second
)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client.HTTP = c }
}

// WithHealthPath overrides the health probe path (default "/api/health").
func WithHealthPath(p string) Option {
	return func(b *Backend) {
		if p != "" {
			b.healthPath = "/" + strings.TrimLeft(p, "/")
		}
	}
}

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(b *Backend) {
		if key != "" {
			b.client.Header.Set("Authorization", "Bearer "+key)
		}
	}
}

// Backend talks to the dedicated-endpoint generation API.
type Backend struct {
	name       string
	baseURL    string
	healthPath string
	client     backend.JSONClient
}

// New creates a REST Backend. baseURL must be an absolute URL.
func New(name, baseURL string, opts ...Option) (*Backend, error) {
	if name == "" {
		return nil, errors.New("rest: name must not be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rest: invalid base URL %q", baseURL)
	}
	b := &Backend{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		healthPath: defaultHealthPath,
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

// Name implements backend.Backend.
func (b *Backend) Name() string { return b.name }

// Init implements backend.Backend. The REST API is stateless; Init only
// verifies that the base URL answers.
func (b *Backend) Init(ctx context.Context) error {
	if err := b.CheckHealth(ctx); err != nil {
		return fmt.Errorf("rest: init %q: %w", b.name, err)
	}
	return nil
}

// Call implements backend.Backend.
func (b *Backend) Call(ctx context.Context, operation string, payload any) (*backend.Response, error) {
	endpoint := strings.Trim(operation, "/")
	if endpoint == "" || strings.ContainsAny(endpoint, "?#") {
		return nil, backend.NewError(backend.KindUnsupported, b.name, operation, "invalid endpoint", nil)
	}
	var env backend.Envelope
	if err := b.client.Do(ctx, http.MethodPost, b.baseURL+defaultAPIPrefix+"/"+endpoint, operation, payload, &env); err != nil {
		return nil, err
	}
	return env.Response(b.name, operation)
}

// CheckHealth implements backend.Backend. Any 2xx JSON body counts as
// healthy unless it carries "status" other than "healthy"/"ok" or
// "success": false.
func (b *Backend) CheckHealth(ctx context.Context) error {
	var body struct {
		Status  string `json:"status"`
		Success *bool  `json:"success"`
	}
	if err := b.client.Do(ctx, http.MethodGet, b.baseURL+b.healthPath, "health", nil, &body); err != nil {
		return err
	}
	if body.Success != nil && !*body.Success {
		return backend.NewError(backend.KindRemote, b.name, "health", "reported failure", nil)
	}
	switch strings.ToLower(body.Status) {
	case "", "healthy", "ok":
		return nil
	default:
		return backend.NewError(backend.KindRemote, b.name, "health",
			fmt.Sprintf("reported status %q", body.Status), nil)
	}
}
