package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/marabbate/echoq/internal/metrics"
)

func scrape(t *testing.T, reg *metrics.Registry) string {
	t.Helper()
	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func mustContain(t *testing.T, body, substr string) {
	t.Helper()
	if !strings.Contains(body, substr) {
		t.Errorf("expected body to contain %q\nbody:\n%s", substr, body)
	}
}

func TestHandler_ContentType(t *testing.T) {
	var reg metrics.Registry
	resp, err := http.Get(httptest.NewServer(reg.Handler()).URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/plain") {
		t.Fatalf("Content-Type = %q, want text/plain", ct)
	}
}

func TestHandler_AllCountersPresent(t *testing.T) {
	var reg metrics.Registry
	reg.Enqueued.Add(3)
	reg.Emitted.Add(2)
	reg.IdempotentReenqueues.Add(1)
	reg.ClaimConflicts.Add(1)
	reg.ContentMissing.Add(1)
	reg.RepublishAborted.Add(1)
	reg.ConnectionRetries.Add(1)
	reg.SubscriptionDrops.Add(1)

	body := scrape(t, &reg)

	mustContain(t, body, "echoq_messages_enqueued_total 3")
	mustContain(t, body, "echoq_messages_emitted_total 2")
	mustContain(t, body, "echoq_idempotent_reenqueues_total 1")
	mustContain(t, body, "echoq_claim_conflicts_total 1")
	mustContain(t, body, "echoq_content_missing_total 1")
	mustContain(t, body, "echoq_republish_aborted_total 1")
	mustContain(t, body, "echoq_connection_retries_total 1")
	mustContain(t, body, "echoq_subscription_drops_total 1")
}

func TestHandler_ZeroRegistryStillExportsFamilies(t *testing.T) {
	var reg metrics.Registry
	body := scrape(t, &reg)
	mustContain(t, body, "# TYPE echoq_messages_enqueued_total counter")
	mustContain(t, body, "echoq_messages_enqueued_total 0")
}

func TestRegistry_ConcurrentInc(t *testing.T) {
	var reg metrics.Registry

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Enqueued.Add(1)
		}()
	}
	wg.Wait()

	if got := reg.Enqueued.Load(); got != 100 {
		t.Fatalf("concurrent Add: got %d, want 100", got)
	}
}
