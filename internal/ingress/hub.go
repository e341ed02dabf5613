package ingress

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"
)

// feedFrame is one JSON line pushed to every connected /feed client.
type feedFrame struct {
	ID      string `json:"id"`
	ScoreMs int64  `json:"score_ms"`
	Text    string `json:"text"`
	DeltaMs int64  `json:"delta_ms"`
}

var upgrader = gorillaws.Upgrader{
	// Non-browser clients send no Origin header and are always allowed;
	// browser clients must match Host, same-origin only.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// clientBuf bounds how many frames a slow /feed client can lag behind;
// further frames are dropped for that client, so one stalled observer can't
// back up emission.
const clientBuf = 64

// Hub fans emitted messages out to every connected /feed observer. It has
// no role in dispatch correctness: a client that misses frames (dropped
// frames for a slow consumer, or simply not yet connected) has no way to catch up, by
// design — this is a live tail, not a durable subscription.
type Hub struct {
	mu      sync.Mutex
	clients map[chan feedFrame]struct{}
}

func newHub() *Hub {
	return &Hub{clients: make(map[chan feedFrame]struct{})}
}

// NewHub constructs a Hub. Pass hub.Observe to dispatch.WithObserver when
// constructing the Engine, then pass the same Hub to ingress.New.
func NewHub() *Hub { return newHub() }

// Observe matches the dispatch.WithObserver hook signature.
func (h *Hub) Observe(id string, scoreMs int64, text string) {
	h.broadcast(feedFrame{
		ID:      id,
		ScoreMs: scoreMs,
		Text:    text,
		DeltaMs: time.Now().UnixMilli() - scoreMs,
	})
}

func (h *Hub) broadcast(frame feedFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- frame:
		default:
			// Slow consumer: drop the frame rather than block emission.
		}
	}
}

func (h *Hub) register() chan feedFrame {
	ch := make(chan feedFrame, clientBuf)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// unregister removes ch and closes it, unless closeAll already did both —
// membership in h.clients is the single source of truth for who closes ch,
// so whichever of unregister/closeAll removes it from the map is the one
// that closes it.
func (h *Hub) unregister(ch chan feedFrame) {
	h.mu.Lock()
	_, ok := h.clients[ch]
	delete(h.clients, ch)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// ServeHTTP upgrades the connection and streams frames until the client
// disconnects or the server shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ingress: feed upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch := h.register()
	defer h.unregister(ch)

	// Discard any control frames the client sends; /feed is one-directional.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
				return
			}
		}
	}
}
