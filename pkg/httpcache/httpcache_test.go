package httpcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// mapCache is a minimal in-memory Cacher for exercising the GetSet path.
type mapCache struct {
	data map[string][]byte
	mu   sync.Mutex
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) GetSet(ctx context.Context, key string, fetch func(context.Context) ([]byte, error), _ ...time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.data[key]; ok {
		return v, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.data[key] = v
	return v, nil
}

func (*mapCache) TTL() time.Duration { return time.Minute }

func newRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestFetchURLNoCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("hello")) //nolint:errcheck // test server
	}))
	defer server.Close()

	ctx := context.Background()
	body, err := FetchURL(ctx, nil, server.Client(), newRequest(t, server.URL+"/ok"), nil)
	if err != nil {
		t.Fatalf("FetchURL() error = %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("FetchURL() = %q, want %q", body, "hello")
	}

	_, err = FetchURL(ctx, nil, server.Client(), newRequest(t, server.URL+"/missing"), nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("FetchURL() error = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want %d", httpErr.StatusCode, http.StatusNotFound)
	}
}

func TestFetchURLRetries(t *testing.T) {
	tests := []struct {
		name      string
		opts      []FetchOption
		wantCalls int32
		wantErr   bool
	}{
		{"default does not retry", nil, 1, true},
		{"two attempts recover", []FetchOption{WithAttempts(2)}, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if calls.Add(1) == 1 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				w.Write([]byte("ok")) //nolint:errcheck // test server
			}))
			defer server.Close()

			_, err := FetchURL(context.Background(), nil, server.Client(), newRequest(t, server.URL), nil, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("FetchURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestFetchURLDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := FetchURL(context.Background(), nil, server.Client(), newRequest(t, server.URL), nil, WithAttempts(3))
	if err == nil {
		t.Fatal("FetchURL() expected error for 404")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestFetchURLCachesBodiesAndErrors(t *testing.T) {
	ResetStats()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.Write([]byte("body")) //nolint:errcheck // test server
	}))
	defer server.Close()

	ctx := context.Background()
	cache := newMapCache()
	for range 2 {
		if _, err := FetchURL(ctx, cache, server.Client(), newRequest(t, server.URL+"/ok"), nil); err != nil {
			t.Fatalf("FetchURL() error = %v", err)
		}
		_, err := FetchURL(ctx, cache, server.Client(), newRequest(t, server.URL+"/gone"), nil)
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusGone {
			t.Fatalf("FetchURL() error = %v, want HTTP 410", err)
		}
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
	if stats := CacheStats(); stats.Hits != 2 || stats.Misses != 2 {
		t.Errorf("CacheStats() = %+v, want 2 hits and 2 misses", stats)
	}
}

func TestFetchURLDoesNotCacheServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch {
		case r.URL.Path == "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		case n == 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Write([]byte("recovered")) //nolint:errcheck // test server
		}
	}))
	defer server.Close()

	ctx := context.Background()
	cache := newMapCache()

	_, err := FetchURL(ctx, cache, server.Client(), newRequest(t, server.URL+"/page"), nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("first FetchURL() error = %v, want HTTP 503", err)
	}
	body, err := FetchURL(ctx, cache, server.Client(), newRequest(t, server.URL+"/page"), nil)
	if err != nil || string(body) != "recovered" {
		t.Fatalf("second FetchURL() = %q, %v, want recovered body", body, err)
	}

	for range 2 {
		if _, err := FetchURL(ctx, cache, server.Client(), newRequest(t, server.URL+"/busy"), nil); err == nil {
			t.Fatal("FetchURL(/busy) succeeded, want HTTP 429")
		}
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("upstream calls = %d, want 4", got)
	}
}

func TestFetchURLNullCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("fresh")) //nolint:errcheck // test server
	}))
	defer server.Close()

	cache := NewNull()
	defer cache.Close() //nolint:errcheck // test
	if cache.TTL() != 0 {
		t.Errorf("TTL() = %v, want 0", cache.TTL())
	}

	body, err := FetchURL(context.Background(), cache, server.Client(), newRequest(t, server.URL), nil)
	if err != nil || string(body) != "fresh" {
		t.Fatalf("FetchURL() = %q, %v", body, err)
	}
}

func TestFetchURLValidatorSkipsCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte("shell")) //nolint:errcheck // test server
	}))
	defer server.Close()

	ctx := context.Background()
	cache := newMapCache()
	reject := WithValidator(func([]byte) bool { return false })
	for range 2 {
		body, err := FetchURL(ctx, cache, server.Client(), newRequest(t, server.URL), nil, reject)
		if err != nil {
			t.Fatalf("FetchURL() error = %v", err)
		}
		if string(body) != "shell" {
			t.Errorf("FetchURL() = %q, want %q", body, "shell")
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestFetchURLLimiterHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok")) //nolint:errcheck // test server
	}))
	defer server.Close()

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow() // drain the only token

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := FetchURL(ctx, nil, server.Client(), newRequest(t, server.URL), nil, WithLimiter(limiter)); err == nil {
		t.Error("FetchURL() expected error when the limiter cannot grant a token before the deadline")
	}
}

func TestURLToKey(t *testing.T) {
	a := URLToKey("https://platzi.com/p/ada/")
	if len(a) != 64 {
		t.Errorf("URLToKey() length = %d, want 64", len(a))
	}
	if a == URLToKey("https://platzi.com/p/bob/") {
		t.Error("URLToKey() collided for different URLs")
	}
}
