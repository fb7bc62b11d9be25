// Package mock provides a test double for the backend.Backend interface.
//
// Backend answers each operation from a table of canned results and records
// every call, so tests can assert call order, payloads and counts:
//
//	b := mock.New("rest")
//	b.SetResult("npc-generator", `{"name":"Elara"}`)
//	b.SetError("image.portrait", backend.NewError(backend.KindStatus, "rest", "image.portrait", "boom", nil))
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MrWong99/loreforge/pkg/backend"
)

var _ backend.Backend = (*Backend)(nil)

// Call records a single invocation of Call.
type Call struct {
	// Operation is the operation passed to Call.
	Operation string
	// Payload is the JSON encoding of the payload passed to Call.
	Payload json.RawMessage
}

// Backend is a mock implementation of backend.Backend.
type Backend struct {
	mu sync.Mutex

	name string

	// --- Configurable responses ---

	results map[string]*backend.Response
	errs    map[string][]error

	// InitErr, if non-nil, is returned by Init.
	InitErr error

	// HealthErr, if non-nil, is returned by CheckHealth.
	HealthErr error

	// HealthPanic makes CheckHealth panic with this value when non-nil.
	HealthPanic any

	// CallHook, if set, runs at the start of every Call (e.g. to block or
	// panic).
	CallHook func(ctx context.Context, operation string)

	// --- Call records ---

	calls       []Call
	initCalls   int
	healthCalls int
}

// New creates a mock Backend named name.
func New(name string) *Backend {
	return &Backend{
		name:    name,
		results: make(map[string]*backend.Response),
		errs:    make(map[string][]error),
	}
}

// SetResult makes Call(operation) succeed with the given JSON data.
func (b *Backend) SetResult(operation, data string) {
	b.SetResponse(operation, &backend.Response{Data: json.RawMessage(data)})
}

// SetResponse makes Call(operation) succeed with resp.
func (b *Backend) SetResponse(operation string, resp *backend.Response) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[operation] = resp
}

// SetError queues errs for Call(operation). Each call consumes one error;
// once the queue is empty the configured result (if any) is returned. The
// last queued error is sticky when no result is configured.
func (b *Backend) SetError(operation string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[operation] = append(b.errs[operation], errs...)
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return b.name }

// Init implements backend.Backend.
func (b *Backend) Init(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initCalls++
	return b.InitErr
}

// Call implements backend.Backend.
func (b *Backend) Call(ctx context.Context, operation string, payload any) (*backend.Response, error) {
	raw, _ := json.Marshal(payload)

	b.mu.Lock()
	b.calls = append(b.calls, Call{Operation: operation, Payload: raw})
	hook := b.CallHook
	b.mu.Unlock()

	if hook != nil {
		hook(ctx, operation)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if q := b.errs[operation]; len(q) > 0 {
		err := q[0]
		_, hasResult := b.results[operation]
		if len(q) > 1 || hasResult {
			b.errs[operation] = q[1:]
		}
		return nil, err
	}
	if resp, ok := b.results[operation]; ok {
		cp := *resp
		cp.Data = backend.NormalizeData(resp.Data)
		return &cp, nil
	}
	return nil, backend.NewError(backend.KindUnsupported, b.name, operation, "no mock result configured", nil)
}

// CheckHealth implements backend.Backend.
func (b *Backend) CheckHealth(context.Context) error {
	b.mu.Lock()
	b.healthCalls++
	p, err := b.HealthPanic, b.HealthErr
	b.mu.Unlock()
	if p != nil {
		panic(p)
	}
	return err
}

// Calls returns a copy of all recorded calls in order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallCount returns the number of calls made for operation, or for all
// operations when operation is empty.
func (b *Backend) CallCount(operation string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if operation == "" {
		return len(b.calls)
	}
	n := 0
	for _, c := range b.calls {
		if c.Operation == operation {
			n++
		}
	}
	return n
}

// InitCalls returns how many times Init was called.
func (b *Backend) InitCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initCalls
}

// HealthCalls returns how many times CheckHealth was called.
func (b *Backend) HealthCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthCalls
}

// Reset clears all call records.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
	b.initCalls = 0
	b.healthCalls = 0
}
