// Package elevenlabs implements a voice-assignment backend.Backend on top of
// the ElevenLabs voice catalogue.
//
// For the "voice" enrichment operation it lists the voices available to the
// API key and picks the one whose labels (accent, age, gender, description,
// use case) best match the character's race, personality and occupation.
// Matching is fuzzy (Jaro-Winkler over label tokens) so that "gruff" still
// finds a voice labelled "gravelly" less readily than one labelled "gruff",
// but a voice is always chosen when the catalogue is non-empty.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/tidwall/gjson"

	"github.com/MrWong99/loreforge/pkg/backend"
)

var _ backend.Backend = (*Backend)(nil)

const (
	defaultBaseURL  = "https://api.elevenlabs.io"
	voicesPath      = "/v1/voices"
	defaultCacheTTL = 10 * time.Minute
)

// Operations served by this backend.
var operations = map[string]bool{
	"voice":          true,
	"voice.generate": true,
	"voice.assign":   true,
}

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithBaseURL overrides the API base URL. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(b *Backend) { b.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client.HTTP = c }
}

// WithCatalogueTTL sets how long the voice list is reused between calls.
func WithCatalogueTTL(d time.Duration) Option {
	return func(b *Backend) { b.ttl = d }
}

// Voice is a catalogue entry.
type Voice struct {
	ID       string
	Name     string
	Category string
	Labels   map[string]string
}

// Backend assigns catalogue voices to characters.
type Backend struct {
	name    string
	baseURL string
	client  backend.JSONClient
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	voices    []Voice
	fetchedAt time.Time
}

// New creates a voice Backend. apiKey must be non-empty.
func New(name, apiKey string, opts ...Option) (*Backend, error) {
	if name == "" {
		return nil, errors.New("elevenlabs: name must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	b := &Backend{
		name:    name,
		baseURL: defaultBaseURL,
		client: backend.JSONClient{
			Backend: name,
			HTTP:    &http.Client{Timeout: 15 * time.Second},
			Header:  http.Header{"Xi-Api-Key": {apiKey}},
		},
		ttl: defaultCacheTTL,
		now: time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return b.name }

// Init implements backend.Backend by loading the voice catalogue.
func (b *Backend) Init(ctx context.Context) error {
	if _, err := b.refresh(ctx); err != nil {
		return fmt.Errorf("elevenlabs: init %q: %w", b.name, err)
	}
	return nil
}

// CheckHealth implements backend.Backend.
func (b *Backend) CheckHealth(ctx context.Context) error {
	_, err := b.fetch(ctx)
	return err
}

// Call implements backend.Backend. The payload is read for "race",
// "personality" and "occupation"; the response data is
// {"voiceId": ..., "voiceName": ...}.
func (b *Backend) Call(ctx context.Context, operation string, payload any) (*backend.Response, error) {
	if !operations[operation] {
		return nil, backend.NewError(backend.KindUnsupported, b.name, operation,
			"operation not supported by voice backend", nil)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, backend.NewError(backend.KindDecode, b.name, operation, "encode payload", err)
	}

	voices, err := b.catalogue(ctx)
	if err != nil {
		return nil, err
	}
	if len(voices) == 0 {
		return nil, backend.NewError(backend.KindRemote, b.name, operation, "voice catalogue is empty", nil)
	}

	traits := descriptors(gjson.GetManyBytes(raw, "race", "personality", "occupation")...)
	best := SelectVoice(voices, traits)

	data, err := json.Marshal(map[string]string{"voiceId": best.ID, "voiceName": best.Name})
	if err != nil {
		return nil, backend.NewError(backend.KindDecode, b.name, operation, "encode response", err)
	}
	return &backend.Response{Data: data}, nil
}

// catalogue returns the cached voice list, refreshing it when stale.
func (b *Backend) catalogue(ctx context.Context) ([]Voice, error) {
	b.mu.Lock()
	if b.voices != nil && b.now().Sub(b.fetchedAt) < b.ttl {
		v := b.voices
		b.mu.Unlock()
		return v, nil
	}
	b.mu.Unlock()
	return b.refresh(ctx)
}

func (b *Backend) refresh(ctx context.Context) ([]Voice, error) {
	voices, err := b.fetch(ctx)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.voices = voices
	b.fetchedAt = b.now()
	b.mu.Unlock()
	return voices, nil
}

func (b *Backend) fetch(ctx context.Context) ([]Voice, error) {
	var vr voicesResponse
	if err := b.client.Do(ctx, http.MethodGet, b.baseURL+voicesPath, "voices", nil, &vr); err != nil {
		return nil, err
	}
	voices := make([]Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		voices = append(voices, Voice{ID: v.VoiceID, Name: v.Name, Category: v.Category, Labels: v.Labels})
	}
	return voices, nil
}

// descriptors lower-cases and tokenises the character traits.
func descriptors(results ...gjson.Result) []string {
	var out []string
	for _, r := range results {
		for _, f := range strings.FieldsFunc(strings.ToLower(r.String()), splitToken) {
			if len(f) > 2 {
				out = append(out, f)
			}
		}
	}
	return out
}

func splitToken(r rune) bool {
	return r == ' ' || r == ',' || r == '-' || r == '_' || r == '/' || r == '.'
}

// matchThreshold is the Jaro-Winkler similarity above which a trait counts
// as matching a voice label token.
const matchThreshold = 0.88

// SelectVoice returns the voice whose labels best match traits. Ties are
// broken by voice ID so the choice is deterministic. voices must be
// non-empty.
func SelectVoice(voices []Voice, traits []string) Voice {
	type scored struct {
		v     Voice
		score float64
	}
	ranked := make([]scored, 0, len(voices))
	for _, v := range voices {
		var tokens []string
		for _, label := range v.Labels {
			tokens = append(tokens, strings.FieldsFunc(strings.ToLower(label), splitToken)...)
		}
		tokens = append(tokens, strings.FieldsFunc(strings.ToLower(v.Name), splitToken)...)

		var score float64
		for _, t := range traits {
			var best float64
			for _, tok := range tokens {
				if s := matchr.JaroWinkler(t, tok, false); s > best {
					best = s
				}
			}
			if best >= matchThreshold {
				score += best
			}
		}
		ranked = append(ranked, scored{v: v, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].v.ID < ranked[j].v.ID
	})
	return ranked[0].v
}
