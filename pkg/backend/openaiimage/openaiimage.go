// Package openaiimage implements an image-generation backend.Backend on top
// of the OpenAI Images API.
//
// It serves the portrait, scene and cover image enrichment operations. The
// payload must carry a "prompt" string; the response data is
// {"imageUrl": "..."}.
package openaiimage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"github.com/MrWong99/loreforge/pkg/backend"
)

var _ backend.Backend = (*Backend)(nil)

const defaultModel = "dall-e-3"

// Operations served by this backend.
var operations = map[string]bool{
	"image":          true,
	"portrait":       true,
	"scene-image":    true,
	"image.portrait": true,
	"image.scene":    true,
	"image.generate": true,
}

type config struct {
	baseURL string
	model   string
	size    string
	timeout time.Duration
}

// Option is a functional option for Backend.
type Option func(*config)

// WithBaseURL overrides the OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the image model (default "dall-e-3").
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithSize sets the requested image size (e.g. "1024x1024").
func WithSize(size string) Option {
	return func(c *config) { c.size = size }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Backend generates images with the OpenAI Images API.
type Backend struct {
	name   string
	model  string
	size   string
	client oai.Client
}

// New creates an image Backend. apiKey must be non-empty.
func New(name, apiKey string, opts ...Option) (*Backend, error) {
	if name == "" {
		return nil, errors.New("openaiimage: name must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("openaiimage: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel, size: string(oai.ImageGenerateParamsSize1024x1024)}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Backend{
		name:   name,
		model:  cfg.model,
		size:   cfg.size,
		client: oai.NewClient(reqOpts...),
	}, nil
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return b.name }

// Init implements backend.Backend by verifying the configured model exists.
func (b *Backend) Init(ctx context.Context) error {
	if err := b.CheckHealth(ctx); err != nil {
		return fmt.Errorf("openaiimage: init %q: %w", b.name, err)
	}
	return nil
}

// Call implements backend.Backend.
func (b *Backend) Call(ctx context.Context, operation string, payload any) (*backend.Response, error) {
	if !operations[operation] {
		return nil, backend.NewError(backend.KindUnsupported, b.name, operation,
			"operation not supported by image backend", nil)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, backend.NewError(backend.KindDecode, b.name, operation, "encode payload", err)
	}
	prompt := gjson.GetBytes(raw, "prompt").String()
	if prompt == "" {
		return nil, backend.NewError(backend.KindRemote, b.name, operation, "payload has no prompt", nil)
	}

	resp, err := b.client.Images.Generate(ctx, oai.ImageGenerateParams{
		Prompt: prompt,
		Model:  oai.ImageModel(b.model),
		N:      oai.Int(1),
		Size:   oai.ImageGenerateParamsSize(b.size),
	})
	if err != nil {
		return nil, b.classify(ctx, operation, err)
	}
	if len(resp.Data) == 0 {
		return nil, backend.NewError(backend.KindDecode, b.name, operation, "no image in response", nil)
	}

	img := resp.Data[0]
	url := img.URL
	if url == "" && img.B64JSON != "" {
		url = "data:image/png;base64," + img.B64JSON
	}
	if url == "" {
		return nil, backend.NewError(backend.KindDecode, b.name, operation, "image has neither url nor data", nil)
	}
	data, err := json.Marshal(map[string]string{"imageUrl": url})
	if err != nil {
		return nil, backend.NewError(backend.KindDecode, b.name, operation, "encode response", err)
	}
	return &backend.Response{Data: data}, nil
}

// CheckHealth implements backend.Backend.
func (b *Backend) CheckHealth(ctx context.Context) error {
	if _, err := b.client.Models.Get(ctx, b.model); err != nil {
		return b.classify(ctx, "health", err)
	}
	return nil
}

func (b *Backend) classify(ctx context.Context, operation string, err error) error {
	if ctx.Err() != nil {
		return backend.NewError(backend.KindTimeout, b.name, operation, "request timed out", err)
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		te := backend.NewError(backend.KindForStatus(apiErr.StatusCode), b.name, operation,
			fmt.Sprintf("unexpected status %d", apiErr.StatusCode), err)
		te.StatusCode = apiErr.StatusCode
		return te
	}
	return backend.NewError(backend.KindNetwork, b.name, operation, "request failed", err)
}
