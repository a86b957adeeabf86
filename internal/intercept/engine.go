// Package intercept decides, for every outgoing request, whether it is
// served cache-first, network-first or passed through untouched.
package intercept

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukerupert/fichador/internal/cache"
)

// Strategy is the routing decision for one request.
type Strategy string

const (
	StrategyPassThrough  Strategy = "pass-through"
	StrategyCacheFirst   Strategy = "cache-first"
	StrategyNetworkFirst Strategy = "network-first"
)

var staticDestinations = map[string]bool{
	"style":  true,
	"script": true,
	"image":  true,
	"font":   true,
}

// Destination returns the declared resource kind of a request.
func Destination(req *http.Request) string {
	return strings.ToLower(strings.TrimSpace(req.Header.Get("Sec-Fetch-Dest")))
}

// IsNavigation reports whether the request is a page navigation or accepts HTML.
func IsNavigation(req *http.Request) bool {
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// SameOrigin compares scheme and host of u against origin.
func SameOrigin(u, origin *url.URL) bool {
	return strings.EqualFold(u.Scheme, origin.Scheme) && strings.EqualFold(u.Host, origin.Host)
}

// Classify picks the strategy for req. Only same-origin GETs are ever
// intercepted; everything else goes to the network as is.
func Classify(req *http.Request, origin *url.URL) Strategy {
	if req.Method != http.MethodGet || !SameOrigin(req.URL, origin) {
		return StrategyPassThrough
	}
	if staticDestinations[Destination(req)] {
		return StrategyCacheFirst
	}
	if IsNavigation(req) {
		return StrategyNetworkFirst
	}
	return StrategyPassThrough
}

// Engine routes requests through the current cache generation and the network.
// It implements http.RoundTripper.
type Engine struct {
	origin  *url.URL
	cache   *cache.Cache
	network http.RoundTripper
	logger  *slog.Logger
}

// New creates an Engine. A nil network uses http.DefaultTransport.
func New(origin *url.URL, c *cache.Cache, network http.RoundTripper, logger *slog.Logger) *Engine {
	if network == nil {
		network = http.DefaultTransport
	}
	return &Engine{origin: origin, cache: c, network: network, logger: logger}
}

// Network returns the transport used for uncached requests.
func (e *Engine) Network() http.RoundTripper {
	return e.network
}

func (e *Engine) RoundTrip(req *http.Request) (*http.Response, error) {
	return e.Handle(req)
}

// PassThrough sends req straight to the network, for requests made before
// the worker controls its clients.
func (e *Engine) PassThrough(req *http.Request) (*http.Response, error) {
	record(req.Context(), func(t *Trace) { t.Strategy = StrategyPassThrough })
	return e.network.RoundTrip(req)
}

// Handle serves req according to its strategy.
func (e *Engine) Handle(req *http.Request) (*http.Response, error) {
	strategy := Classify(req, e.origin)
	record(req.Context(), func(t *Trace) { t.Strategy = strategy })

	if strategy == StrategyCacheFirst {
		return e.cacheFirst(req)
	}
	// Navigations get no offline fallback: a stale cached page could show a
	// logged-out or outdated session view.
	return e.network.RoundTrip(req)
}

func (e *Engine) cacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := cache.Key(req)

	snap, ok, err := e.cache.Match(ctx, key)
	if err != nil {
		e.logger.Warn("cache match failed, using network", "url", key, "error", err)
	}
	if ok {
		record(ctx, func(t *Trace) { t.CacheHit = true })
		return snap.Response(req), nil
	}

	// Leave content coding to the transport so the stored body is plain and
	// can be replayed to any client.
	out := req.Clone(ctx)
	out.Header.Del("Accept-Encoding")

	resp, err := e.network.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	err = e.cache.Put(ctx, key, cache.Snapshot{
		URL:    key,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	})
	if err != nil {
		e.logger.Warn("cache put failed", "url", key, "error", err)
	} else {
		record(ctx, func(t *Trace) { t.Stored = true })
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}
