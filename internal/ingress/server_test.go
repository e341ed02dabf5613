package ingress_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/marabbate/echoq/internal/dispatch"
	"github.com/marabbate/echoq/internal/ingress"
	"github.com/marabbate/echoq/internal/node"
	"github.com/marabbate/echoq/internal/store"
)

// memGateway is a minimal in-memory store.Gateway sufficient to drive the
// ingress handlers through a real dispatch.Engine.
type memGateway struct {
	mu      sync.Mutex
	queue   map[string]int64
	content map[string]string
	locks   map[string]time.Time
	subs    []chan []byte
}

func newMemGateway() *memGateway {
	return &memGateway{queue: map[string]int64{}, content: map[string]string{}, locks: map[string]time.Time{}}
}

func (g *memGateway) publish(payload []byte) {
	g.mu.Lock()
	subs := append([]chan []byte(nil), g.subs...)
	g.mu.Unlock()
	for _, s := range subs {
		select {
		case s <- payload:
		default:
		}
	}
}

func (g *memGateway) RangeMin(ctx context.Context, n int64) ([]store.Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var best *store.Entry
	for id, score := range g.queue {
		if best == nil || score < best.Score {
			best = &store.Entry{ID: id, Score: score}
		}
	}
	if best == nil {
		return nil, nil
	}
	return []store.Entry{*best}, nil
}

func (g *memGateway) RangeLowHigh(ctx context.Context, lowMs, highMs, n int64, ascending bool) ([]store.Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []store.Entry
	for id, score := range g.queue {
		if score >= lowMs && score <= highMs {
			out = append(out, store.Entry{ID: id, Score: score})
		}
	}
	return out, nil
}

func (g *memGateway) WriteMessage(ctx context.Context, id string, dueTimeMs int64, text string, publishMin bool) (bool, error) {
	g.mu.Lock()
	_, dup := g.queue[id]
	if !dup {
		g.queue[id] = dueTimeMs
		g.content[id] = text
	}
	g.mu.Unlock()
	if publishMin {
		g.publish(store.EncodeNDT(dueTimeMs))
	}
	return dup, nil
}

func (g *memGateway) Rollback(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.queue, id)
	delete(g.content, id)
	return nil
}

func (g *memGateway) Claim(ctx context.Context, id string, ttl int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if until, ok := g.locks[id]; ok && time.Now().Before(until) {
		return false, nil
	}
	g.locks[id] = time.Now().Add(time.Duration(ttl) * time.Millisecond)
	return true, nil
}

func (g *memGateway) FetchContent(ctx context.Context, id string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	text, ok := g.content[id]
	return text, ok, nil
}

func (g *memGateway) Cleanup(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.content, id)
	delete(g.queue, id)
	delete(g.locks, id)
	return nil
}

func (g *memGateway) WatchedRepublish(ctx context.Context) (bool, error) {
	entries, _ := g.RangeMin(ctx, 1)
	payload := store.EncodeNDTEmpty()
	if len(entries) > 0 {
		payload = store.EncodeNDT(entries[0].Score)
	}
	g.publish(payload)
	return false, nil
}

func (g *memGateway) Subscribe(ctx context.Context) (store.Subscription, error) {
	ch := make(chan []byte, 16)
	g.mu.Lock()
	g.subs = append(g.subs, ch)
	g.mu.Unlock()
	return &memSub{ch: ch}, nil
}

func (g *memGateway) Close() error { return nil }

type memSub struct{ ch chan []byte }

func (s *memSub) Recv(ctx context.Context) ([]byte, error) {
	select {
	case p := <-s.ch:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (s *memSub) Close() error { return nil }

func newTestServer(t *testing.T) (*ingress.Server, *dispatch.Engine) {
	t.Helper()
	gw := newMemGateway()
	hub := ingress.NewHub()
	engine := dispatch.New(gw, dispatch.WithObserver(hub.Observe), dispatch.WithOutput(&bytes.Buffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		engine.Shutdown()
		cancel()
	})
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("engine.Start: %v", err)
	}

	srv := ingress.New(engine, hub, nil, nil, ingress.Config{}, nil)
	return srv, engine
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestIngress_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doRequest(t, srv.Handler(), "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
}

func TestIngress_PostMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doRequest(t, srv.Handler(), "POST", "/messages", map[string]any{
		"time_ms": time.Now().Add(time.Hour).UnixMilli(),
		"text":    "hello",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d — body %s", rr.Code, rr.Body)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["id"] == "" {
		t.Fatalf("expected non-empty id")
	}
}

func TestIngress_PostMessageRejectsEmptyText(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doRequest(t, srv.Handler(), "POST", "/messages", map[string]any{"time_ms": 0, "text": ""})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rr.Code)
	}
}

func TestIngress_HistoryWithoutLedgerReportsNotImplemented(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doRequest(t, srv.Handler(), "GET", "/history", nil)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("want 501, got %d", rr.Code)
	}
}

func TestIngress_HealthReportsNodeIdentity(t *testing.T) {
	gw := newMemGateway()
	hub := ingress.NewHub()
	engine := dispatch.New(gw, dispatch.WithObserver(hub.Observe), dispatch.WithOutput(&bytes.Buffer{}))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() { engine.Shutdown(); cancel() })
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("engine.Start: %v", err)
	}

	n, err := node.New(t.TempDir(), "auto")
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	srv := ingress.New(engine, hub, nil, n, ingress.Config{}, nil)

	rr := doRequest(t, srv.Handler(), "GET", "/health", nil)
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["node_id"] != n.ID().String() {
		t.Fatalf("expected node_id %q, got %v", n.ID(), resp["node_id"])
	}
}

func TestIngress_RequestIDHeaderSet(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doRequest(t, srv.Handler(), "GET", "/health", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestIngress_RateLimitRejectsOverBurst(t *testing.T) {
	gw := newMemGateway()
	hub := ingress.NewHub()
	engine := dispatch.New(gw, dispatch.WithObserver(hub.Observe), dispatch.WithOutput(&bytes.Buffer{}))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() { engine.Shutdown(); cancel() })
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("engine.Start: %v", err)
	}

	srv := ingress.New(engine, hub, nil, nil, ingress.Config{MaxRate: 1, Burst: 1}, nil)

	first := doRequest(t, srv.Handler(), "GET", "/health", nil)
	second := doRequest(t, srv.Handler(), "GET", "/health", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first request: want 200, got %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: want 429, got %d", second.Code)
	}
}
