package counter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/smokelock/smokelock/internal/store"
)

// memCreds is an in-memory CredentialStore for tests.
type memCreds struct {
	mu    sync.Mutex
	creds map[string]string
}

func newMemCreds() *memCreds {
	return &memCreds{creds: make(map[string]string)}
}

func (m *memCreds) Credential(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.creds[key]; ok {
		return c, nil
	}
	return "", store.ErrNotFound
}

func (m *memCreds) PutCredential(_ context.Context, key, adminKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[key] = adminKey
	return nil
}

func (m *memCreds) DeleteCredential(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, key)
	return nil
}

// fakeClock advances manually so cache TTL tests don't sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *fakeClock, *memCreds) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	creds := newMemCreds()
	c := New(Config{
		BaseURL:     srv.URL,
		Namespace:   "smokelock",
		Credentials: creds,
		HTTPClient:  srv.Client(),
		Now:         clock.Now,
	})
	return c, clock, creds
}

func TestGetParsesBareInteger(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "42")
	}))

	v, ok := c.Get(context.Background(), "Home_increment")
	if !ok || v != 42 {
		t.Errorf("expected 42, got %d, %v", v, ok)
	}
}

func TestGetParsesJSONValue(t *testing.T) {
	for _, body := range []string{`{"value": 7}`, `{"Value": 7}`} {
		c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		v, ok := c.Get(context.Background(), "Home_increment")
		if !ok || v != 7 {
			t.Errorf("body %s: expected 7, got %d, %v", body, v, ok)
		}
	}
}

func TestGetCacheWithinTTL(t *testing.T) {
	var requests int
	c, clock, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, "1")
	}))

	ctx := context.Background()
	c.Get(ctx, "Home_is_locked")
	c.Get(ctx, "Home_is_locked")
	if requests != 1 {
		t.Errorf("expected exactly one request within TTL, got %d", requests)
	}

	clock.Advance(31 * time.Second)
	c.Get(ctx, "Home_is_locked")
	if requests != 2 {
		t.Errorf("expected re-fetch after TTL, got %d requests", requests)
	}
}

func TestGetFallsBackToStaleCacheOnServerError(t *testing.T) {
	var fail bool
	c, clock, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "99")
	}))

	ctx := context.Background()
	if v, ok := c.Get(ctx, "Home_increment"); !ok || v != 99 {
		t.Fatalf("seed get: %d, %v", v, ok)
	}

	fail = true
	clock.Advance(time.Minute) // past TTL, forces a fetch
	v, ok := c.Get(ctx, "Home_increment")
	if !ok || v != 99 {
		t.Errorf("expected stale value 99 on server error, got %d, %v", v, ok)
	}
}

func TestGetMissesQuietlyWithoutCache(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	if v, ok := c.Get(context.Background(), "Home_is_locked"); ok {
		t.Errorf("expected miss, got %d", v)
	}
}

func TestGetConfigFallsBackThroughSchemaVariants(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only the legacy bare key has a value.
		if r.URL.Path == "/get/smokelock/Home_base_duration_minutes" {
			fmt.Fprint(w, "35")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	v, ok := c.GetConfig(context.Background(), "Home", KeyBaseDuration)
	if !ok || v != 35 {
		t.Errorf("expected legacy fallback 35, got %d, %v", v, ok)
	}
}

func TestGetConfigPrefersV2(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/get/smokelock/Home_base_duration_minutes_config_v2":
			fmt.Fprint(w, "40")
		case "/get/smokelock/Home_base_duration_minutes_config":
			fmt.Fprint(w, "30")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	v, ok := c.GetConfig(context.Background(), "Home", KeyBaseDuration)
	if !ok || v != 40 {
		t.Errorf("expected v2 value 40, got %d, %v", v, ok)
	}
}

func TestCreateParsesCredentialShapes(t *testing.T) {
	bodies := map[string]string{
		`{"admin_key": "k1"}`: "k1",
		`{"adminKey": "k2"}`:  "k2",
		`{"token": "k3"}`:     "k3",
		`raw-token`:           "raw-token",
	}
	for body, want := range bodies {
		c, _, creds := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		got, err := c.Create(context.Background(), "Home_is_locked")
		if err != nil {
			t.Errorf("body %s: %v", body, err)
			continue
		}
		if got != want {
			t.Errorf("body %s: expected %q, got %q", body, want, got)
		}
		if stored, _ := creds.Credential(context.Background(), "Home_is_locked"); stored != want {
			t.Errorf("body %s: credential not persisted, got %q", body, stored)
		}
	}
}

func TestSetCreatesCredentialLazilyAndAuthenticates(t *testing.T) {
	var gotAuth string
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/create/smokelock/Home_is_locked":
			fmt.Fprint(w, `{"admin_key": "secret"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/set/smokelock/Home_is_locked":
			gotAuth = r.Header.Get("Authorization")
			if r.URL.Query().Get("value") != "1" {
				t.Errorf("unexpected value %q", r.URL.Query().Get("value"))
			}
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	if err := c.Set(context.Background(), "Home_is_locked", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer credential, got %q", gotAuth)
	}
}

func TestSetOptimisticCache(t *testing.T) {
	var gets int
	c, _, creds := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets++
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	creds.PutCredential(context.Background(), "Home_increment", "k")

	if err := c.Set(context.Background(), "Home_increment", 5); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok := c.Get(context.Background(), "Home_increment")
	if !ok || v != 5 {
		t.Errorf("expected optimistic 5, got %d, %v", v, ok)
	}
	if gets != 0 {
		t.Errorf("expected no network round trip after set, got %d gets", gets)
	}
}

func TestSetRecreatesCredentialOn401(t *testing.T) {
	var creates int
	c, _, creds := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/create/smokelock/Home_is_locked":
			creates++
			fmt.Fprint(w, `{"admin_key": "fresh"}`)
		case r.URL.Path == "/set/smokelock/Home_is_locked":
			if r.Header.Get("Authorization") == "Bearer stale" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	creds.PutCredential(context.Background(), "Home_is_locked", "stale")

	if err := c.Set(context.Background(), "Home_is_locked", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if creates != 1 {
		t.Errorf("expected one recreate, got %d", creates)
	}
	if stored, _ := creds.Credential(context.Background(), "Home_is_locked"); stored != "fresh" {
		t.Errorf("expected fresh credential persisted, got %q", stored)
	}
}

func TestSetRetriesOn429(t *testing.T) {
	var attempts int
	c, _, creds := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, "rate limited, retry in 0s")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	creds.PutCredential(context.Background(), "Home_is_locked", "k")

	if err := c.Set(context.Background(), "Home_is_locked", 1); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestSetPersistentFailureInvalidatesCache(t *testing.T) {
	var fail bool
	c, _, creds := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
			} else {
				w.WriteHeader(http.StatusOK)
			}
			return
		}
		fmt.Fprint(w, "10")
	}))
	creds.PutCredential(context.Background(), "Home_increment", "k")
	ctx := context.Background()

	fail = true
	if err := c.Set(ctx, "Home_increment", 5); err == nil {
		t.Fatal("expected error")
	}
	// The optimistic entry is gone: the next Get goes to the network.
	v, ok := c.Get(ctx, "Home_increment")
	if !ok || v != 10 {
		t.Errorf("expected re-fetched 10, got %d, %v", v, ok)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter([]byte("too many requests, retry in 7s")); d != 7*time.Second {
		t.Errorf("expected 7s, got %v", d)
	}
	if d := parseRetryAfter([]byte("nope")); d != time.Second {
		t.Errorf("expected 1s default, got %v", d)
	}
}

func TestTrackHitSwallowsFailures(t *testing.T) {
	var path string
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusInternalServerError)
	}))

	// Must not panic or error.
	c.TrackHit(context.Background(), HitKey("Home"))
	if path != "/hit/smokelock/Home_locks" {
		t.Errorf("unexpected hit path %q", path)
	}
}
