// Package metrics provides a lightweight Prometheus-compatible metrics
// registry for echoq. It deliberately avoids the prometheus/client_golang
// package so the server binary stays small with no additional dependencies.
//
// Every counter is a single global value: this system has one queue per
// fleet, so no label-keyed maps are needed the way a multi-tenant system
// would need them.
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
)

// Registry holds every echoq counter. All fields are safe for concurrent
// use; the zero value is ready to use.
type Registry struct {
	Enqueued             atomic.Int64
	Emitted              atomic.Int64
	IdempotentReenqueues atomic.Int64
	ClaimConflicts       atomic.Int64
	ContentMissing       atomic.Int64
	RepublishAborted     atomic.Int64
	ConnectionRetries    atomic.Int64
	SubscriptionDrops    atomic.Int64
}

// Handler returns an http.Handler that renders every counter in the
// Prometheus plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		var b strings.Builder
		writeCounter(&b, "echoq_messages_enqueued_total", "Total messages accepted by Enqueue", r.Enqueued.Load())
		writeCounter(&b, "echoq_messages_emitted_total", "Total messages emitted to stdout", r.Emitted.Load())
		writeCounter(&b, "echoq_idempotent_reenqueues_total", "Enqueue calls that matched an already-queued id", r.IdempotentReenqueues.Load())
		writeCounter(&b, "echoq_claim_conflicts_total", "Dispatch claims lost to a peer replica", r.ClaimConflicts.Load())
		writeCounter(&b, "echoq_content_missing_total", "Claimed messages whose content had already been cleaned up by a peer", r.ContentMissing.Load())
		writeCounter(&b, "echoq_republish_aborted_total", "Watched republishes aborted by a concurrent queue mutation", r.RepublishAborted.Load())
		writeCounter(&b, "echoq_connection_retries_total", "Store reconnect attempts", r.ConnectionRetries.Load())
		writeCounter(&b, "echoq_subscription_drops_total", "Freshness subscription drops", r.SubscriptionDrops.Load())

		fmt.Fprint(w, b.String())
	})
}

func writeCounter(b *strings.Builder, name, help string, val int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	fmt.Fprintf(b, "%s %d\n", name, val)
}
