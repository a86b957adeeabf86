package intercept

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dukerupert/fichador/internal/cache"
	"github.com/dukerupert/fichador/internal/database"
	"github.com/dukerupert/fichador/internal/store"
)

var testOrigin, _ = url.Parse("https://app.example.com")

// fakeNetwork answers every request with a fixed status and body and counts calls.
type fakeNetwork struct {
	calls  atomic.Int32
	status int
	body   string
	err    error
}

func (f *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: f.status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(f.body)),
		Request:    req,
	}, nil
}

func setupEngine(t *testing.T, net http.RoundTripper) (*Engine, *cache.Cache) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c := cache.New(store.NewCacheStore(db), cache.Name("test"), slog.Default())
	if _, err := c.Open(context.Background()); err != nil {
		t.Fatalf("open generation: %v", err)
	}
	return New(testOrigin, c, net, slog.Default()), c
}

func staticRequest(path string) *http.Request {
	req := httptest.NewRequest("GET", "https://app.example.com"+path, nil)
	req.Header.Set("Sec-Fetch-Dest", "script")
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		header map[string]string
		want   Strategy
	}{
		{"style", "GET", "https://app.example.com/static/css/style.css", map[string]string{"Sec-Fetch-Dest": "style"}, StrategyCacheFirst},
		{"script", "GET", "https://app.example.com/static/js/app.js", map[string]string{"Sec-Fetch-Dest": "script"}, StrategyCacheFirst},
		{"image", "GET", "https://app.example.com/static/icon.png", map[string]string{"Sec-Fetch-Dest": "image"}, StrategyCacheFirst},
		{"font", "GET", "https://app.example.com/static/f.woff2", map[string]string{"Sec-Fetch-Dest": "font"}, StrategyCacheFirst},
		{"navigate", "GET", "https://app.example.com/dashboard", map[string]string{"Sec-Fetch-Mode": "navigate", "Sec-Fetch-Dest": "document"}, StrategyNetworkFirst},
		{"accepts html", "GET", "https://app.example.com/dashboard", map[string]string{"Accept": "text/html,application/xhtml+xml"}, StrategyNetworkFirst},
		{"api", "GET", "https://app.example.com/api/schedules", map[string]string{"Accept": "application/json"}, StrategyPassThrough},
		{"post static", "POST", "https://app.example.com/static/js/app.js", map[string]string{"Sec-Fetch-Dest": "script"}, StrategyPassThrough},
		{"cross origin static", "GET", "https://cdn.example.net/lib.js", map[string]string{"Sec-Fetch-Dest": "script"}, StrategyPassThrough},
		{"other scheme", "GET", "http://app.example.com/static/js/app.js", map[string]string{"Sec-Fetch-Dest": "script"}, StrategyPassThrough},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := Classify(req, testOrigin); got != tt.want {
				t.Errorf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheFirstHitSkipsNetwork(t *testing.T) {
	net := &fakeNetwork{status: 200, body: "network"}
	e, c := setupEngine(t, net)

	req := staticRequest("/static/js/app.js")
	c.Put(context.Background(), cache.Key(req), cache.Snapshot{Status: 200, Body: []byte("cached")})

	resp, err := e.Handle(req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := readBody(t, resp); got != "cached" {
		t.Errorf("body = %q, want %q", got, "cached")
	}
	if n := net.calls.Load(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestCacheFirstMissStoresOK(t *testing.T) {
	net := &fakeNetwork{status: 200, body: "fresh"}
	e, c := setupEngine(t, net)

	req := staticRequest("/static/js/app.js")
	trace := &Trace{}
	req = req.WithContext(WithTrace(req.Context(), trace))

	resp, err := e.Handle(req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := readBody(t, resp); got != "fresh" {
		t.Errorf("caller body = %q, want %q", got, "fresh")
	}
	if !trace.Stored || trace.CacheHit || trace.Strategy != StrategyCacheFirst {
		t.Errorf("trace = %+v", trace)
	}

	snap, ok, _ := c.Match(context.Background(), cache.Key(req))
	if !ok || string(snap.Body) != "fresh" {
		t.Fatalf("expected stored copy, got ok=%v body=%q", ok, snap.Body)
	}

	// Second request is served from cache.
	resp, _ = e.Handle(staticRequest("/static/js/app.js"))
	readBody(t, resp)
	if n := net.calls.Load(); n != 1 {
		t.Errorf("network calls = %d, want 1", n)
	}
}

func TestFailuresAreNeverCached(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError} {
		net := &fakeNetwork{status: status, body: "nope"}
		e, c := setupEngine(t, net)

		req := staticRequest("/static/js/app.js")
		resp, err := e.Handle(req)
		if err != nil {
			t.Fatalf("status %d: handle: %v", status, err)
		}
		if resp.StatusCode != status {
			t.Errorf("status = %d, want %d", resp.StatusCode, status)
		}
		readBody(t, resp)

		if _, ok, _ := c.Match(context.Background(), cache.Key(req)); ok {
			t.Errorf("status %d response was cached", status)
		}
	}
}

func TestCacheFirstNetworkErrorPropagates(t *testing.T) {
	net := &fakeNetwork{err: errors.New("offline")}
	e, _ := setupEngine(t, net)

	if _, err := e.Handle(staticRequest("/static/js/app.js")); err == nil {
		t.Error("expected miss with network failure to fail")
	}
}

func TestNavigationHasNoOfflineFallback(t *testing.T) {
	net := &fakeNetwork{err: errors.New("offline")}
	e, c := setupEngine(t, net)

	root := httptest.NewRequest("GET", "https://app.example.com/", nil)
	c.Put(context.Background(), cache.Key(root), cache.Snapshot{Status: 200, Body: []byte("<html>stale</html>")})

	req := httptest.NewRequest("GET", "https://app.example.com/", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	if _, err := e.Handle(req); err == nil {
		t.Error("expected navigation to fail instead of serving a cached page")
	}
}

func TestPassThroughNeverCaches(t *testing.T) {
	net := &fakeNetwork{status: 200, body: "ok"}
	e, c := setupEngine(t, net)

	reqs := []*http.Request{
		httptest.NewRequest("POST", "https://app.example.com/static/js/app.js", strings.NewReader("x")),
		httptest.NewRequest("GET", "https://cdn.example.net/static/js/app.js", nil),
		httptest.NewRequest("GET", "https://app.example.com/api/active_record", nil),
	}
	reqs[0].Header.Set("Sec-Fetch-Dest", "script")
	reqs[1].Header.Set("Sec-Fetch-Dest", "script")

	for _, req := range reqs {
		resp, err := e.Handle(req)
		if err != nil {
			t.Fatalf("%s %s: %v", req.Method, req.URL, err)
		}
		readBody(t, resp)
		if _, ok, _ := c.Match(context.Background(), cache.Key(req)); ok {
			t.Errorf("%s %s was cached", req.Method, req.URL)
		}
	}
	if n := net.calls.Load(); n != 3 {
		t.Errorf("network calls = %d, want 3", n)
	}
}

// headerNetwork answers with fixed headers and records the last request.
type headerNetwork struct {
	header http.Header
	last   *http.Request
}

func (h *headerNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	h.last = req
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     h.header.Clone(),
		Body:       io.NopCloser(strings.NewReader("body{}")),
		Request:    req,
	}, nil
}

func TestCacheFirstStripsClientSpecificHeaders(t *testing.T) {
	net := &headerNetwork{header: http.Header{
		"Content-Type": {"text/css"},
		"Set-Cookie":   {"session=abc; HttpOnly"},
	}}
	e, c := setupEngine(t, net)

	req := staticRequest("/static/css/style.css")
	req.Header.Set("Accept-Encoding", "br")
	resp, err := e.Handle(req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	readBody(t, resp)

	if got := net.last.Header.Get("Accept-Encoding"); got != "" {
		t.Errorf("origin saw Accept-Encoding %q, want none", got)
	}
	if req.Header.Get("Accept-Encoding") != "br" {
		t.Error("caller's request was modified")
	}

	snap, ok, _ := c.Match(context.Background(), cache.Key(req))
	if !ok {
		t.Fatal("expected stored copy")
	}
	if snap.Header.Get("Set-Cookie") != "" {
		t.Errorf("stored Set-Cookie %q", snap.Header.Get("Set-Cookie"))
	}
	if snap.Header.Get("Content-Type") != "text/css" {
		t.Errorf("stored Content-Type %q", snap.Header.Get("Content-Type"))
	}

	hit, err := e.Handle(staticRequest("/static/css/style.css"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	readBody(t, hit)
	if hit.Header.Get("Set-Cookie") != "" {
		t.Error("cache hit replayed Set-Cookie")
	}
}

func TestEncodedResponsesAreNotCached(t *testing.T) {
	net := &headerNetwork{header: http.Header{"Content-Encoding": {"br"}}}
	e, c := setupEngine(t, net)

	req := staticRequest("/static/js/app.js")
	resp, err := e.Handle(req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	readBody(t, resp)

	if _, ok, _ := c.Match(context.Background(), cache.Key(req)); ok {
		t.Error("encoded response was cached")
	}
}
