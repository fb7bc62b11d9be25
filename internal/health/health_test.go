package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/loreforge/internal/cache"
	"github.com/MrWong99/loreforge/internal/lifecycle"
)

type fakeLifecycle struct {
	state lifecycle.State
	err   error
}

func (f fakeLifecycle) State() lifecycle.State { return f.state }
func (f fakeLifecycle) Err() error             { return f.err }

func readyz(t *testing.T, h *Handler) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz_LifecycleStates(t *testing.T) {
	tests := []struct {
		name   string
		lc     fakeLifecycle
		status int
		check  string
	}{
		{"ready", fakeLifecycle{state: lifecycle.StateReady}, http.StatusOK, "ok"},
		{"uninitialized", fakeLifecycle{state: lifecycle.StateUninitialized}, http.StatusServiceUnavailable, "fail: backends uninitialized"},
		{"initializing", fakeLifecycle{state: lifecycle.StateInitializing}, http.StatusServiceUnavailable, "fail: backends initializing"},
		{"failed", fakeLifecycle{state: lifecycle.StateFailed, err: errors.New("bad key")}, http.StatusServiceUnavailable, "fail: initialisation failed: bad key"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := readyz(t, New(LifecycleReady(tc.lc)))
			if code != tc.status {
				t.Errorf("status = %d, want %d", code, tc.status)
			}
			if body.Checks["generation"] != tc.check {
				t.Errorf("check = %q, want %q", body.Checks["generation"], tc.check)
			}
		})
	}
}

func TestReadyz_PingRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedis(cache.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	h := New(LifecycleReady(fakeLifecycle{state: lifecycle.StateReady}), Ping("cache", rc))

	if code, body := readyz(t, h); code != http.StatusOK || body.Checks["cache"] != "ok" {
		t.Fatalf("status = %d, body = %+v", code, body)
	}

	mr.Close()
	code, body := readyz(t, h)
	if code != http.StatusServiceUnavailable || body.Status != "fail" {
		t.Errorf("status = %d, body = %+v", code, body)
	}
	if !strings.HasPrefix(body.Checks["cache"], "fail: ") || body.Checks["generation"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	if code, body := readyz(t, New()); code != http.StatusOK || body.Status != "ok" {
		t.Errorf("status = %d, body = %+v", code, body)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	r := chi.NewRouter()
	New(LifecycleReady(fakeLifecycle{state: lifecycle.StateReady})).Register(r)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
