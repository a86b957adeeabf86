package worker

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/fichador/internal/cache"
	"github.com/dukerupert/fichador/internal/database"
	"github.com/dukerupert/fichador/internal/intercept"
	"github.com/dukerupert/fichador/internal/notify"
	"github.com/dukerupert/fichador/internal/store"
	"github.com/dukerupert/fichador/internal/websocket"
)

type fakeHub struct {
	mu       sync.Mutex
	messages []websocket.Message
	opened   []string
}

func (h *fakeHub) Broadcast(msg websocket.Message) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
}

func (h *fakeHub) MatchAll(ctx context.Context) ([]notify.Client, error) {
	return nil, nil
}

func (h *fakeHub) OpenWindow(ctx context.Context, target string) error {
	h.mu.Lock()
	h.opened = append(h.opened, target)
	h.mu.Unlock()
	return nil
}

func (h *fakeHub) ofType(typ string) []websocket.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []websocket.Message
	for _, m := range h.messages {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newOrigin serves every manifest asset except one, plus /static/extra.js.
func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/static/icon-180x180.png" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("asset " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestWorker(t *testing.T, db *sql.DB, originURL, version string) (*Worker, *fakeHub) {
	t.Helper()
	origin, err := url.Parse(originURL)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	c := cache.New(store.NewCacheStore(db), cache.Name(version), testLogger())
	hub := &fakeHub{}
	w := New(Config{
		Origin: origin,
		Cache:  c,
		Engine: intercept.New(origin, c, nil, testLogger()),
		Hub:    hub,
		Logger: testLogger(),
	})
	t.Cleanup(w.Close)
	return w, hub
}

func activate(t *testing.T, w *Worker) {
	t.Helper()
	ctx := context.Background()
	if err := w.Install(ctx).Wait(); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := w.Activate(ctx).Wait(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	db := setupTestDB(t)
	origin := newOrigin(t)
	w, hub := newTestWorker(t, db, origin.URL, "v1")
	ctx := context.Background()

	if w.State() != StateParsed {
		t.Fatalf("state = %s, want parsed", w.State())
	}
	if err := w.Install(ctx).Wait(); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if w.State() != StateInstalled {
		t.Fatalf("state = %s, want installed", w.State())
	}

	n, err := store.NewCacheStore(db).CountEntries(ctx, cache.Name("v1"))
	if err != nil {
		t.Fatalf("CountEntries: %v", err)
	}
	if n != len(Manifest)-1 {
		t.Errorf("cached %d assets, want %d", n, len(Manifest)-1)
	}

	if err := w.Activate(ctx).Wait(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if w.State() != StateActivated {
		t.Fatalf("state = %s, want activated", w.State())
	}

	claims := hub.ofType(websocket.TypeControllerChange)
	if len(claims) != 1 || claims[0].Cache != cache.Name("v1") {
		t.Errorf("controllerchange = %+v", claims)
	}
}

func TestEntryPointsOutOfOrder(t *testing.T) {
	w, _ := newTestWorker(t, setupTestDB(t), newOrigin(t).URL, "v1")
	ctx := context.Background()

	if err := w.Activate(ctx).Wait(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Activate before Install = %v, want ErrInvalidState", err)
	}

	activate(t, w)
	if err := w.Install(ctx).Wait(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Install after activation = %v, want ErrInvalidState", err)
	}
}

func TestOnlyLatestGenerationSurvives(t *testing.T) {
	db := setupTestDB(t)
	origin := newOrigin(t)

	for _, v := range []string{"v1", "v2", "v3"} {
		w, _ := newTestWorker(t, db, origin.URL, v)
		activate(t, w)

		names, err := w.Cache().Names(context.Background())
		if err != nil {
			t.Fatalf("Names: %v", err)
		}
		if len(names) != 1 || names[0] != cache.Name(v) {
			t.Errorf("after %s: generations = %v", v, names)
		}
	}
}

func TestFetchPassesThroughUntilActivated(t *testing.T) {
	db := setupTestDB(t)
	origin := newOrigin(t)
	w, _ := newTestWorker(t, db, origin.URL, "v1")
	ctx := context.Background()
	cs := store.NewCacheStore(db)

	if err := w.Install(ctx).Wait(); err != nil {
		t.Fatalf("Install: %v", err)
	}
	before, _ := cs.CountEntries(ctx, cache.Name("v1"))

	fetch := func() *intercept.Trace {
		trace := &intercept.Trace{}
		req := httptest.NewRequest("GET", origin.URL+"/static/extra.js", nil)
		req = req.WithContext(intercept.WithTrace(ctx, trace))
		req.RequestURI = ""
		req.Header.Set("Sec-Fetch-Dest", "script")
		resp, err := w.Fetch(req)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return trace
	}

	if tr := fetch(); tr.Strategy != intercept.StrategyPassThrough {
		t.Errorf("strategy before activation = %s, want pass-through", tr.Strategy)
	}
	if n, _ := cs.CountEntries(ctx, cache.Name("v1")); n != before {
		t.Errorf("entries = %d, want %d before activation", n, before)
	}

	if err := w.Activate(ctx).Wait(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if tr := fetch(); tr.Strategy != intercept.StrategyCacheFirst || !tr.Stored {
		t.Errorf("trace after activation = %+v", tr)
	}
	if tr := fetch(); !tr.CacheHit {
		t.Error("second fetch should hit the cache")
	}
}

func TestPushRendersDegradedPayload(t *testing.T) {
	w, hub := newTestWorker(t, setupTestDB(t), newOrigin(t).URL, "v1")

	if err := w.Push(context.Background(), []byte("Hello"), true).Wait(); err != nil {
		t.Fatalf("Push: %v", err)
	}

	shown := hub.ofType(websocket.TypeNotification)
	if len(shown) != 1 {
		t.Fatalf("notifications = %d, want 1", len(shown))
	}
	d := shown[0].Notification
	if d.Title != notify.DefaultTitle || d.Body != "Hello" {
		t.Errorf("descriptor = %+v", d)
	}
}

func TestNotificationClickOpensTarget(t *testing.T) {
	w, hub := newTestWorker(t, setupTestDB(t), newOrigin(t).URL, "v1")

	d := notify.Descriptor{Tag: "push-1", Data: map[string]any{"url": "/records"}}
	if err := w.NotificationClick(context.Background(), d).Wait(); err != nil {
		t.Fatalf("NotificationClick: %v", err)
	}
	if len(hub.opened) != 1 || hub.opened[0] != "/records" {
		t.Errorf("opened = %v, want [/records]", hub.opened)
	}
}

func TestScheduleNotification(t *testing.T) {
	w, hub := newTestWorker(t, setupTestDB(t), newOrigin(t).URL, "v1")

	msg := websocket.Message{Type: websocket.TypeScheduleNotification, Title: "T", Body: "B", Delay: 10, Tag: "later"}
	if err := w.Message(context.Background(), msg); err != nil {
		t.Fatalf("Message: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(hub.ofType(websocket.TypeNotification)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	shown := hub.ofType(websocket.TypeNotification)
	if len(shown) != 1 {
		t.Fatalf("notifications = %d, want 1", len(shown))
	}
	if d := shown[0].Notification; d.Title != "T" || d.Tag != "later" || d.URL() != notify.DashboardURL {
		t.Errorf("descriptor = %+v", d)
	}
	if w.Pending() != 0 {
		t.Errorf("pending = %d, want 0", w.Pending())
	}
}

func TestCloseCancelsScheduled(t *testing.T) {
	w, hub := newTestWorker(t, setupTestDB(t), newOrigin(t).URL, "v1")
	ctx := context.Background()

	msg := websocket.Message{Type: websocket.TypeScheduleNotification, Title: "T", Delay: int64(time.Hour / time.Millisecond)}
	if err := w.Message(ctx, msg); err != nil {
		t.Fatalf("Message: %v", err)
	}
	if w.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", w.Pending())
	}

	w.Close()
	if w.Pending() != 0 {
		t.Errorf("pending after Close = %d, want 0", w.Pending())
	}
	if err := w.Message(ctx, msg); !errors.Is(err, ErrInvalidState) {
		t.Errorf("schedule after Close = %v, want ErrInvalidState", err)
	}
	if len(hub.ofType(websocket.TypeNotification)) != 0 {
		t.Error("cancelled notification was shown")
	}
}

func TestShowNotificationMessage(t *testing.T) {
	w, hub := newTestWorker(t, setupTestDB(t), newOrigin(t).URL, "v1")
	ctx := context.Background()

	if err := w.Message(ctx, websocket.Message{Type: websocket.TypeShowNotification}); err == nil {
		t.Error("expected error for missing notification")
	}

	d := notify.Local("⏰ Fichar entrada", "En 5 min (09:00)", "entry-early", 1)
	if err := w.Message(ctx, websocket.NotificationMessage(websocket.TypeShowNotification, d)); err != nil {
		t.Fatalf("Message: %v", err)
	}
	if len(hub.ofType(websocket.TypeNotification)) != 1 {
		t.Error("expected notification broadcast")
	}
}

func TestExtendableEventWaitsForAll(t *testing.T) {
	e := newEvent(context.Background())
	var mu sync.Mutex
	done := 0
	for i := 0; i < 3; i++ {
		e.WaitUntil(func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			done++
			mu.Unlock()
			return nil
		})
	}
	if err := e.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if done != 3 {
		t.Errorf("done = %d, want 3", done)
	}

	boom := errors.New("boom")
	if err := failedEvent(context.Background(), boom).Wait(); !errors.Is(err, boom) {
		t.Errorf("failedEvent = %v, want boom", err)
	}
}
