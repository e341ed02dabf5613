package ingress

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/marabbate/echoq/internal/dispatch"
	"github.com/marabbate/echoq/internal/ledger"
	"github.com/marabbate/echoq/internal/node"
)

const defaultHistoryLimit = 20

type handler struct {
	engine *dispatch.Engine
	ledger *ledger.Ledger
	node   *node.Node
	logger *slog.Logger
}

type postMessageReq struct {
	TimeMs int64  `json:"time_ms"`
	Text   string `json:"text"`
}

type postMessageResp struct {
	ID string `json:"id"`
}

type healthResp struct {
	Status        string `json:"status"`
	NodeID        string `json:"node_id,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
}

type historyResp struct {
	Records []ledger.Record `json:"records"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResp{Status: "ok"}
	if h.node != nil {
		resp.NodeID = h.node.ID().String()
		resp.UptimeSeconds = int64(h.node.Uptime().Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	id, err := h.engine.Enqueue(r.Context(), req.TimeMs, req.Text)
	if err != nil {
		h.logger.Error("ingress: enqueue failed", "request_id", requestID(r), "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, postMessageResp{ID: id})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "ledger not configured"})
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.ledger.Recent(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, historyResp{Records: records})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}
