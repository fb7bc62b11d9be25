// Package backend defines the Backend interface for remote content-generation
// services.
//
// A backend wraps one independently deployed generation service (the
// service/operation "direct" API, the dedicated-endpoint REST API, an LLM, an
// image model, a voice catalogue) and presents a uniform call surface: a named
// operation with a JSON-serialisable payload in, a raw JSON document out.
// Backends never interpret the content they return; shaping the loose remote
// JSON into domain objects is the caller's job.
//
// Every failure a backend produces is a [*TransportError] carrying an
// [ErrorKind], so callers above this layer can switch on a closed set of
// failure classes instead of inspecting strings.
//
// Implementations must be safe for concurrent use.
package backend

import (
	"context"
	"encoding/json"
)

// Backend is the abstraction over any remote generation service.
//
// Implementations must be safe for concurrent use. Multiple generation
// requests may call the same backend in parallel.
type Backend interface {
	// Name returns the configured name of this backend instance (e.g.
	// "direct", "immersive"). Names are unique within a gateway.
	Name() string

	// Init prepares the backend for use (credential checks, connectivity
	// verification). It is called by the lifecycle manager and may be called
	// again after a reinitialisation. Implementations must tolerate repeated
	// calls.
	Init(ctx context.Context) error

	// Call performs exactly one outbound request for operation with the given
	// payload. No retries happen inside Call. Every returned error is a
	// [*TransportError].
	Call(ctx context.Context, operation string, payload any) (*Response, error)

	// CheckHealth performs a lightweight reachability probe. A nil return
	// means the backend answered with a well-formed health payload.
	CheckHealth(ctx context.Context) error
}

// Response is the raw result of a successful backend call.
type Response struct {
	// Data is the backend's data document. It is never nil on success; an
	// absent remote data field is represented as "{}".
	Data json.RawMessage

	// TokensUsed is the number of tokens the backend reports having consumed,
	// or zero when the backend does not report usage.
	TokensUsed int

	// ProcessingTimeMS is the processing time the backend reports, in
	// milliseconds. Zero when not reported.
	ProcessingTimeMS int64

	// CacheHit reports whether the backend served the response from its own
	// cache.
	CacheHit bool
}

// emptyObject is the canonical data document for responses without data.
var emptyObject = json.RawMessage(`{}`)

// NormalizeData returns raw if it holds a JSON value other than null, and an
// empty JSON object otherwise.
func NormalizeData(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return emptyObject
	}
	return raw
}
