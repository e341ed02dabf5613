// Package ingress provides the thin HTTP surface that drives the dispatch
// engine end to end: a POST endpoint to enqueue messages and a WebSocket
// feed that streams emissions to observers, plus health and local history
// endpoints. It deliberately stays out of the dispatch engine's way — its
// only contact with the engine is calling Engine.Enqueue and listening on
// the engine's observer hook.
package ingress

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/marabbate/echoq/internal/dispatch"
	"github.com/marabbate/echoq/internal/ledger"
	"github.com/marabbate/echoq/internal/node"
)

// Server wraps the stdlib HTTP server with echoq's ingress route wiring.
type Server struct {
	inner *http.Server
	hub   *Hub
}

// Config controls the ingress rate limiter. A MaxRate of zero disables
// limiting; a Burst below 1 is treated as 1.
type Config struct {
	MaxRate float64 // requests per second
	Burst   int
}

// New builds a Server bound to engine and hub. hub must already be wired
// into the engine via dispatch.WithObserver(hub.Observe) at construction
// time, since the engine's observer can only be set before Start. ledgerLog
// may be nil, in which case GET /history reports it as unavailable rather
// than erroring. n identifies the replica GET /health reports on.
func New(engine *dispatch.Engine, hub *Hub, ledgerLog *ledger.Ledger, n *node.Node, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	h := &handler{engine: engine, ledger: ledgerLog, node: n, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /messages", h.postMessage)
	mux.HandleFunc("GET /history", h.history)
	mux.Handle("GET /feed", hub)

	var chain http.Handler = mux
	chain = loggingMiddleware(logger, chain)
	if cfg.MaxRate > 0 {
		chain = rateLimitMiddleware(rate.NewLimiter(rate.Limit(cfg.MaxRate), maxInt(cfg.Burst, 1)), chain)
	}
	chain = correlationMiddleware(chain)

	return &Server{
		inner: &http.Server{
			Handler:      chain,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		hub: hub,
	}
}

// Handler returns the composed http.Handler, useful for testing without a
// real listener.
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on addr and blocks until it stops.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server and closes every feed connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.inner.Shutdown(ctx)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type correlationKey struct{}

// correlationMiddleware tags every request with a UUID for log correlation,
// grounded on the same pack repos that use github.com/google/uuid for
// exactly this purpose rather than as a domain identifier.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), correlationKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(correlationKey{}).(string)
	return id
}
