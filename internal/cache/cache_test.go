package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemory(t *testing.T, max int) (*Memory, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(max)
	m.now = clk.Now
	return m, clk
}

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

// ── Key ──────────────────────────────────────────────────────────────────────

func TestKey(t *testing.T) {
	a := Key("npc", "npc-generator", `{"race":"elf"}`)
	if !strings.HasPrefix(a, KeyPrefix) {
		t.Errorf("key %q lacks prefix", a)
	}
	if a != Key("npc", "npc-generator", `{"race":"elf"}`) {
		t.Error("Key is not deterministic")
	}
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("part boundaries must affect the key")
	}
}

// ── Memory ───────────────────────────────────────────────────────────────────

func TestMemory_GetSet(t *testing.T) {
	m, _ := newMemory(t, 0)
	ctx := context.Background()

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("hit on empty cache")
	}
	val := []byte(`{"name":"Elara"}`)
	_ = m.Set(ctx, "k", val, time.Minute)
	val[0] = 'X'

	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || string(got) != `{"name":"Elara"}` {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}
}

func TestMemory_Expiry(t *testing.T) {
	m, clk := newMemory(t, 0)
	ctx := context.Background()
	_ = m.Set(ctx, "short", []byte("1"), time.Minute)
	_ = m.Set(ctx, "forever", []byte("2"), 0)

	clk.Advance(time.Minute)
	if _, ok, _ := m.Get(ctx, "short"); ok {
		t.Error("entry should have expired")
	}
	if _, ok, _ := m.Get(ctx, "forever"); !ok {
		t.Error("entry without ttl should not expire")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, expired entry not removed", m.Len())
	}
}

func TestMemory_EvictsSoonestExpiry(t *testing.T) {
	m, _ := newMemory(t, 2)
	ctx := context.Background()
	_ = m.Set(ctx, "late", []byte("1"), time.Hour)
	_ = m.Set(ctx, "early", []byte("2"), time.Minute)
	_ = m.Set(ctx, "new", []byte("3"), time.Hour)

	if _, ok, _ := m.Get(ctx, "early"); ok {
		t.Error("entry expiring soonest should be evicted")
	}
	for _, k := range []string{"late", "new"} {
		if _, ok, _ := m.Get(ctx, k); !ok {
			t.Errorf("%s evicted", k)
		}
	}
}

func TestMemory_EvictsExpiredFirst(t *testing.T) {
	m, clk := newMemory(t, 2)
	ctx := context.Background()
	_ = m.Set(ctx, "a", []byte("1"), time.Minute)
	_ = m.Set(ctx, "b", []byte("2"), 0)
	clk.Advance(2 * time.Minute)
	_ = m.Set(ctx, "c", []byte("3"), time.Minute)

	if _, ok, _ := m.Get(ctx, "b"); !ok {
		t.Error("live entry evicted while an expired one existed")
	}
}

// ── Redis ────────────────────────────────────────────────────────────────────

func TestRedis_GetSet(t *testing.T) {
	r, _ := newRedis(t)
	ctx := context.Background()

	if _, ok, err := r.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := r.Set(ctx, "k", []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := r.Get(ctx, "k")
	if err != nil || !ok || string(got) != `{"a":1}` {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}
	if err := r.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestRedis_TTL(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()
	_ = r.Set(ctx, "k", []byte("v"), time.Minute)

	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Error("entry should have expired")
	}
}

func TestRedis_ServerDown(t *testing.T) {
	r, mr := newRedis(t)
	mr.Close()
	if _, _, err := r.Get(context.Background(), "k"); err == nil {
		t.Error("expected error with server down")
	}
}

func TestNewRedis_RequiresAddr(t *testing.T) {
	if _, err := NewRedis(RedisConfig{}); err == nil {
		t.Fatal("expected error")
	}
}
