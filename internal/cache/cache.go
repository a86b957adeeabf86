// Package cache implements the versioned asset cache: one named generation
// of response snapshots per deployed build, of which only the current one
// survives activation.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/fichador/internal/model"
	"github.com/dukerupert/fichador/internal/store"
)

// NamePrefix is prepended to the build version to form a generation name.
const NamePrefix = "fichador-cache-"

// Name returns the generation name for a build version.
func Name(version string) string {
	return NamePrefix + version
}

// Snapshot is a fully received response stored in a generation.
type Snapshot struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Response builds a new *http.Response backed by a private reader over the
// snapshot bytes, so every caller gets an unconsumed body.
func (s Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(s.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.Status, http.StatusText(s.Status)),
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

// Key returns the lookup key for a request: its absolute URL without fragment.
func Key(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	// A request-URI parse leaves the fragment in the raw query.
	if i := strings.IndexByte(u.RawQuery, '#'); i >= 0 {
		u.RawQuery = u.RawQuery[:i]
	}
	u.ForceQuery = false
	return u.String()
}

// Cache exposes the current generation of a CacheStore.
type Cache struct {
	store   *store.CacheStore
	current string
	logger  *slog.Logger
}

// New returns a Cache whose current generation is named current.
func New(cs *store.CacheStore, current string, logger *slog.Logger) *Cache {
	return &Cache{store: cs, current: current, logger: logger}
}

// Current returns the name of the current generation.
func (c *Cache) Current() string {
	return c.current
}

// Open creates or opens the current generation.
func (c *Cache) Open(ctx context.Context) (*model.CacheGeneration, error) {
	return c.store.OpenGeneration(ctx, c.current)
}

// Put stores a snapshot under key in the current generation. Only complete,
// unencoded 200 responses belong in the cache; anything else is rejected.
// Set-Cookie is never stored.
func (c *Cache) Put(ctx context.Context, key string, snap Snapshot) error {
	if snap.Status != http.StatusOK {
		return fmt.Errorf("put %q: refusing to cache status %d", key, snap.Status)
	}
	if enc := snap.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		return fmt.Errorf("put %q: refusing to cache content encoding %q", key, enc)
	}
	return c.store.PutEntry(ctx, model.CacheEntry{
		Generation: c.current,
		RequestKey: key,
		Status:     snap.Status,
		Header:     storedHeader(snap.Header),
		Body:       snap.Body,
	})
}

func storedHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	out.Del("Set-Cookie")
	out.Del("Content-Length")
	return out
}

// Match looks key up in the current generation.
func (c *Cache) Match(ctx context.Context, key string) (Snapshot, bool, error) {
	e, err := c.store.GetEntry(ctx, c.current, key)
	if err != nil {
		return Snapshot{}, false, err
	}
	if e == nil {
		return Snapshot{}, false, nil
	}
	return Snapshot{
		URL:      e.RequestKey,
		Status:   e.Status,
		Header:   http.Header(e.Header),
		Body:     e.Body,
		StoredAt: e.StoredAt,
	}, true, nil
}

// DeleteAllExcept removes every generation not named keep and returns the
// names it deleted.
func (c *Cache) DeleteAllExcept(ctx context.Context, keep string) ([]string, error) {
	gens, err := c.store.ListGenerations(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, g := range gens {
		if g.Name == keep {
			continue
		}
		if err := c.store.DeleteGeneration(ctx, g.Name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, g.Name)
	}
	return deleted, nil
}

// Names lists the generations currently in storage.
func (c *Cache) Names(ctx context.Context) ([]string, error) {
	gens, err := c.store.ListGenerations(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(gens))
	for _, g := range gens {
		names = append(names, g.Name)
	}
	return names, nil
}
