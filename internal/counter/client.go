// Package counter is a rate-limited, cached client for the remote
// namespaced key/value counter service. All methods degrade rather than
// fail: reads fall back to cached values, writes report errors the
// caller is expected to swallow.
package counter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/smokelock/smokelock/internal/store"
)

const (
	defaultCacheTTL   = 30 * time.Second
	defaultTimeout    = 5 * time.Second
	defaultRateWindow = time.Minute
	defaultRateMax    = 30
	setRetries        = 2
)

// CredentialStore persists write credentials per counter key, surviving
// restarts. A counter must be created (credential obtained) before it
// can be set; get never needs one.
type CredentialStore interface {
	Credential(ctx context.Context, key string) (string, error)
	PutCredential(ctx context.Context, key, adminKey string) error
	DeleteCredential(ctx context.Context, key string) error
}

// Config assembles a Client. Zero values get the recommended defaults.
type Config struct {
	BaseURL     string
	Namespace   string
	Credentials CredentialStore
	Logger      *slog.Logger
	HTTPClient  *http.Client
	CacheTTL    time.Duration
	RateWindow  time.Duration
	RateMax     int
	Now         func() time.Time
}

type cacheEntry struct {
	value    int64
	storedAt time.Time
}

// Client is an explicitly constructed service object: tests build a
// fresh one per case so cache and limiter state never leak across tests.
type Client struct {
	baseURL   string
	namespace string
	http      *http.Client
	logger    *slog.Logger
	creds     CredentialStore
	limiter   *limiter
	now       func() time.Time
	ttl       time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func New(cfg Config) *Client {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = defaultRateWindow
	}
	if cfg.RateMax == 0 {
		cfg.RateMax = defaultRateMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		namespace: cfg.Namespace,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger,
		creds:     cfg.Credentials,
		limiter:   newLimiter(cfg.RateWindow, cfg.RateMax, cfg.Now),
		now:       cfg.Now,
		ttl:       cfg.CacheTTL,
		cache:     make(map[string]cacheEntry),
	}
}

// Get reads a counter value, cache-first. A fresh cache entry answers
// without a network round trip. On any remote failure the last cached
// value is returned even past its TTL (stale beats unavailable); with no
// cache at all the second return is false. Get never returns an error.
func (c *Client) Get(ctx context.Context, key string) (int64, bool) {
	c.mu.Lock()
	entry, cached := c.cache[key]
	fresh := cached && c.now().Sub(entry.storedAt) < c.ttl
	c.mu.Unlock()
	if fresh {
		return entry.value, true
	}

	value, err := c.fetch(ctx, key)
	if err != nil {
		c.logger.Debug("counter get failed", "key", key, "error", err)
		if cached {
			return entry.value, true
		}
		return 0, false
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{value: value, storedAt: c.now()}
	c.mu.Unlock()
	return value, true
}

func (c *Client) fetch(ctx context.Context, key string) (int64, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/get/%s/%s", c.baseURL, c.namespace, url.PathEscape(key)), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("get %s: status %d", key, resp.StatusCode)
	}

	value, ok := parseValue(body)
	if !ok {
		return 0, fmt.Errorf("get %s: unparseable body %q", key, body)
	}
	return value, nil
}

// GetConfig reads a per-place configuration value, trying the current
// schema suffix first and falling back to the two older variants.
func (c *Client) GetConfig(ctx context.Context, placeID, logical string) (int64, bool) {
	for _, key := range configKeys(placeID, logical) {
		if v, ok := c.Get(ctx, key); ok {
			return v, true
		}
	}
	return 0, false
}

// Create obtains and persists a write credential for a counter key. The
// service may reject re-creation; callers treat an error as "cannot
// write", not as fatal.
func (c *Client) Create(ctx context.Context, key string) (string, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/create/%s/%s", c.baseURL, c.namespace, url.PathEscape(key)), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("create %s: status %d", key, resp.StatusCode)
	}

	cred := parseCredential(body)
	if cred == "" {
		return "", fmt.Errorf("create %s: empty credential", key)
	}
	if err := c.creds.PutCredential(ctx, key, cred); err != nil {
		return "", fmt.Errorf("persisting credential for %s: %w", key, err)
	}
	return cred, nil
}

// Set writes a counter value. The cache is updated optimistically before
// the network call so concurrent local readers see the new value
// immediately. The credential is created lazily on first write; a 401
// discards it and recreates once; a 429 is retried with the
// server-supplied backoff. Persistent failure invalidates the optimistic
// cache entry so a later Get re-fetches the truth.
func (c *Client) Set(ctx context.Context, key string, value int64) error {
	c.mu.Lock()
	c.cache[key] = cacheEntry{value: value, storedAt: c.now()}
	c.mu.Unlock()

	err := c.set(ctx, key, value)
	if err != nil {
		c.mu.Lock()
		delete(c.cache, key)
		c.mu.Unlock()
	}
	return err
}

func (c *Client) set(ctx context.Context, key string, value int64) error {
	cred, err := c.creds.Credential(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		cred, err = c.Create(ctx, key)
	}
	if err != nil {
		return fmt.Errorf("no credential for %s: %w", key, err)
	}

	recreated := false
	for attempt := 0; ; attempt++ {
		status, body, err := c.doSet(ctx, key, value, cred)
		if err != nil {
			return err
		}

		switch {
		case status >= 200 && status < 300:
			return nil

		case status == http.StatusUnauthorized && !recreated:
			// Stale admin key: discard and recreate, once.
			recreated = true
			if err := c.creds.DeleteCredential(ctx, key); err != nil {
				return err
			}
			cred, err = c.Create(ctx, key)
			if err != nil {
				return fmt.Errorf("recreating credential for %s: %w", key, err)
			}

		case status == http.StatusTooManyRequests && attempt < setRetries:
			delay := parseRetryAfter(body)
			c.logger.Debug("counter set rate limited", "key", key, "retry_in", delay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

		default:
			return fmt.Errorf("set %s: status %d: %s", key, status, body)
		}
	}
}

func (c *Client) doSet(ctx context.Context, key string, value int64, cred string) (int, []byte, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return 0, nil, err
	}

	u := fmt.Sprintf("%s/set/%s/%s?value=%d", c.baseURL, c.namespace, url.PathEscape(key), value)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, nil
}

// TrackHit bumps a hit counter, fire-and-forget. Failures are logged and
// swallowed, never surfaced.
func (c *Client) TrackHit(ctx context.Context, key string) {
	if err := c.limiter.wait(ctx); err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/hit/%s/%s", c.baseURL, c.namespace, url.PathEscape(key)), nil)
	if err != nil {
		c.logger.Warn("hit counter request failed", "key", key, "error", err)
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("hit counter failed", "key", key, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("hit counter failed", "key", key, "status", resp.StatusCode)
	}
}

// Ping reports whether the counter service is reachable at all. Health
// checks call this instead of Get so they don't consume the rate budget
// or pollute the cache.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// parseValue accepts both response shapes the service has used: a bare
// integer body, or a JSON object with a value/Value field.
func parseValue(body []byte) (int64, bool) {
	text := string(bytes.TrimSpace(body))
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v, true
	}

	var obj map[string]json.Number
	if err := json.Unmarshal(body, &obj); err != nil {
		return 0, false
	}
	for _, field := range []string{"value", "Value"} {
		if n, ok := obj[field]; ok {
			if v, err := n.Int64(); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

// parseCredential accepts a JSON object with any of the credential field
// names the service has used, or a raw token body.
func parseCredential(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, field := range []string{"admin_key", "adminKey", "token"} {
			if s, ok := obj[field].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	return string(bytes.TrimSpace(body))
}

var retryAfterRe = regexp.MustCompile(`retry in (\d+)s`)

// parseRetryAfter extracts the "retry in Ns" hint from a 429 body,
// defaulting to one second when the hint is missing.
func parseRetryAfter(body []byte) time.Duration {
	m := retryAfterRe.FindSubmatch(body)
	if m == nil {
		return time.Second
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return time.Second
	}
	return time.Duration(n) * time.Second
}
