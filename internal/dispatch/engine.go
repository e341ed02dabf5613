// Package dispatch implements the distributed delayed-dispatch engine: the
// reentrant inspection loop that drains due messages from the shared store,
// claims them against peer replicas, emits them, and republishes the new
// minimum due-time.
package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/marabbate/echoq/internal/emit"
	"github.com/marabbate/echoq/internal/ledger"
	"github.com/marabbate/echoq/internal/metrics"
	"github.com/marabbate/echoq/internal/msgid"
	"github.com/marabbate/echoq/internal/reconnect"
	"github.com/marabbate/echoq/internal/store"
	"github.com/marabbate/echoq/internal/timer"
)

const defaultBatch = 30

// noNext marks the absence of a known next due-time.
const noNext = int64(-1 << 63)

// processingRetryDelay is 10% over store.ProcessingWindow: by the time it
// elapses, any lock a peer holds on the same batch will have expired.
var processingRetryDelay = store.ProcessingWindow + store.ProcessingWindow/10

// Engine holds nextDueTime, drives the Timer, runs the inspection loop, and
// claims/emits/cleans up due messages. It is logically single-threaded per
// the concurrency model, expressed here as one mutex guarding a small set of
// fields shared by three goroutines: the subscription loop, the inspection
// worker, and the timer's own firing goroutine.
type Engine struct {
	mu              sync.Mutex
	nextDueTime     int64
	hasNext         bool
	upToDate        bool
	latencyMs       int64
	inspecting      bool
	resumeRequested bool
	ascending       bool

	gw store.Gateway
	tm *timer.Timer

	kick chan struct{}

	batch  int
	out    io.Writer
	logger *slog.Logger

	metricsReg *metrics.Registry
	ledgerLog  *ledger.Ledger
	observer   func(id string, scoreMs int64, text string)
	nodeID     string
	fatalHook  func(error)

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine bound to gw. Call Start to begin dispatching.
func New(gw store.Gateway, opts ...Option) *Engine {
	e := &Engine{
		gw:          gw,
		kick:        make(chan struct{}, 1),
		batch:       defaultBatch,
		out:         os.Stdout,
		logger:      slog.Default(),
		fatalHook:   func(error) {},
		nextDueTime: noNext,
		ascending:   true,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metricsReg == nil {
		e.metricsReg = &metrics.Registry{}
	}
	return e
}

// Start subscribes to the freshness channel, bootstraps nextDueTime, and
// launches the inspection worker. It blocks until the first bootstrap
// succeeds, ctx is done, or the reconnect attempt budget is exhausted
// before a single successful connection.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel

	e.tm = timer.New()
	e.tm.Start(e.onTimerFire)

	ready := make(chan error, 1)

	e.wg.Add(2)
	go e.inspectionWorker(runCtx)
	go e.subscriptionLoop(runCtx, ready)

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the Timer, stops all engine goroutines, and waits for
// them to exit.
func (e *Engine) Shutdown() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.tm != nil {
		e.tm.Stop()
	}
	e.wg.Wait()
}

// Enqueue computes the message id for (timeMs, text), writes it to the
// store, and publishes the new minimum within the same transaction if this
// message may now be the earliest pending one. The engine's own nextDueTime
// is updated only when the resulting publication arrives back over the
// freshness subscription, including the local replica's own publish, per
// the rule that self-subscription is the single source of truth.
func (e *Engine) Enqueue(ctx context.Context, timeMs int64, text string) (string, error) {
	id := msgid.Compute(timeMs, text)

	e.mu.Lock()
	publishMin := !e.upToDate || !e.hasNext || timeMs < e.nextDueTime
	e.mu.Unlock()

	duplicate, err := e.gw.WriteMessage(ctx, id, timeMs, text, publishMin)
	if err != nil {
		var opErr *store.OpError
		if errors.As(err, &opErr) {
			if rbErr := e.gw.Rollback(ctx, id); rbErr != nil {
				e.logger.Warn("dispatch: rollback after failed enqueue", "id", id, "err", rbErr)
			}
		}
		return "", err
	}

	if duplicate {
		e.metricsReg.IdempotentReenqueues.Add(1)
		e.logger.Info("dispatch: idempotent re-enqueue", "id", id)
		return id, nil
	}

	e.metricsReg.Enqueued.Add(1)
	e.logger.Info("dispatch: enqueued", "id", id, "due_ms", timeMs)
	return id, nil
}

// subscriptionLoop owns the store subscription for the lifetime of the
// engine. It bootstraps nextDueTime, streams freshness updates, and, on any
// subscription failure, reconnects with reconnect.Backoff. Startup success
// or failure is reported on ready exactly once.
func (e *Engine) subscriptionLoop(ctx context.Context, ready chan<- error) {
	defer e.wg.Done()

	bo := reconnect.NewBackoff()
	startupReported := false
	report := func(err error) {
		if !startupReported {
			startupReported = true
			ready <- err
		} else if err != nil && ctx.Err() == nil {
			e.fatalHook(err)
		}
	}

	for {
		if ctx.Err() != nil {
			report(ctx.Err())
			return
		}

		sub, err := e.gw.Subscribe(ctx)
		if err != nil {
			e.metricsReg.ConnectionRetries.Add(1)
			if !e.waitBackoff(ctx, bo, err, report) {
				return
			}
			continue
		}

		if err := e.bootstrap(ctx); err != nil {
			sub.Close()
			e.metricsReg.ConnectionRetries.Add(1)
			if !e.waitBackoff(ctx, bo, err, report) {
				return
			}
			continue
		}

		bo.Success()
		report(nil)
		e.streamFreshness(ctx, sub)
		e.metricsReg.SubscriptionDrops.Add(1)

		e.mu.Lock()
		e.upToDate = false
		e.mu.Unlock()
	}
}

// streamFreshness reads freshness payloads until ctx is done or the
// subscription errors, in which case it closes the subscription and
// returns.
func (e *Engine) streamFreshness(ctx context.Context, sub store.Subscription) {
	defer sub.Close()
	for {
		payload, err := sub.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Warn("dispatch: freshness subscription dropped", "err", err)
			}
			return
		}
		e.onFreshness(payload)
	}
}

// waitBackoff sleeps for the next backoff delay and reports failure via
// report if the attempt budget is exhausted. It returns false when the
// subscription loop should give up entirely (ctx done, or the attempt
// budget ran out).
func (e *Engine) waitBackoff(ctx context.Context, bo *reconnect.Backoff, cause error, report func(error)) bool {
	delay, ok := bo.Next()
	if !ok {
		report(cause)
		return false
	}
	e.logger.Warn("dispatch: store connection failed, retrying", "err", cause, "delay", delay)
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		report(ctx.Err())
		return false
	}
}

// bootstrap issues RangeMin, records its round-trip as latency, and seeds
// nextDueTime from the result if it is not already known from a freshness
// publication. Called once per successful (re)connection.
func (e *Engine) bootstrap(ctx context.Context) error {
	start := time.Now()
	entries, err := e.gw.RangeMin(ctx, 1)
	if err != nil {
		return err
	}
	latencyMs := time.Since(start).Milliseconds()

	e.mu.Lock()
	e.latencyMs = latencyMs
	if !e.upToDate {
		if len(entries) > 0 {
			e.nextDueTime = entries[0].Score
			e.hasNext = true
		} else {
			e.hasNext = false
		}
		e.upToDate = true
	}
	e.mu.Unlock()

	e.armTimer()
	return nil
}

// onFreshness decodes a payload received on the freshness channel and
// updates nextDueTime accordingly.
func (e *Engine) onFreshness(payload []byte) {
	dueMs, hasValue, ok := store.DecodeNDT(payload)
	if !ok {
		e.logger.Warn("dispatch: malformed freshness payload", "len", len(payload))
		return
	}

	e.mu.Lock()
	e.upToDate = true
	e.hasNext = hasValue
	if hasValue {
		e.nextDueTime = dueMs
	}
	e.mu.Unlock()

	e.armTimer()
}

// armTimer reprograms the Timer to fire 3*latencyMs before nextDueTime, or
// cancels it if there is no known next due-time. Firing early by a multiple
// of the last observed round-trip absorbs jitter without polling.
func (e *Engine) armTimer() {
	e.mu.Lock()
	hasNext := e.hasNext
	target := e.nextDueTime - 3*e.latencyMs
	e.mu.Unlock()

	if !hasNext {
		e.tm.Cancel()
		return
	}
	e.tm.Trigger(target)
}

// onTimerFire is invoked on the Timer's own goroutine. If a pass is already
// running it defers to that pass via resumeRequested; otherwise it starts
// one.
func (e *Engine) onTimerFire() {
	e.mu.Lock()
	if e.inspecting {
		e.resumeRequested = true
		e.mu.Unlock()
		return
	}
	e.inspecting = true
	e.mu.Unlock()

	e.kickInspection()
}

// kickInspection wakes the inspection worker. Non-blocking: the channel has
// capacity 1 and the worker drains it before starting a pass, so a pending
// kick is never lost.
func (e *Engine) kickInspection() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// inspectionWorker runs one goroutine for the engine's lifetime, parked on
// kick between passes.
func (e *Engine) inspectionWorker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
			e.runPassLoop(ctx)
		}
	}
}

// runPassLoop runs consecutive passes until neither an initial run nor any
// resumeRequested set during it demands another, then clears inspecting.
func (e *Engine) runPassLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		e.runOnePass(ctx)

		e.mu.Lock()
		if e.resumeRequested {
			e.resumeRequested = false
			e.mu.Unlock()
			continue
		}
		e.inspecting = false
		e.mu.Unlock()
		return
	}
}

// runOnePass fetches and dispatches every entry currently due, flipping scan
// direction each time a batch comes back full, then either republishes the
// new minimum (window drained clean) or schedules a retry pass after
// processingRetryDelay (a leftover remains, held by a peer's live claim or
// stalled on a store error). It abandons the batch loop early if
// resumeRequested is set mid-pass, since a fresher timer firing means the
// window this pass started with is stale.
func (e *Engine) runOnePass(ctx context.Context) {
	e.mu.Lock()
	ascending := e.ascending
	nextDueTime := e.nextDueTime
	batch := e.batch
	e.mu.Unlock()

	// The Timer fires 3*latencyMs before nextDueTime to absorb round-trip
	// jitter, so at pass start now can still be short of nextDueTime itself;
	// scanning only up to now would then find nothing and spin empty passes
	// until the wall clock catches up.
	cutoff := nextDueTime
	if now := time.Now().UnixMilli(); now > cutoff {
		cutoff = now
	}

	leftover := false

	for {
		if ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		if e.resumeRequested {
			e.mu.Unlock()
			break
		}
		e.mu.Unlock()

		entries, err := e.gw.RangeLowHigh(ctx, 0, cutoff, int64(batch), ascending)
		if err != nil {
			e.logger.Error("dispatch: fetch batch failed", "err", err)
			break
		}
		if len(entries) == 0 {
			break
		}

		for _, ent := range entries {
			if e.tryDispatch(ctx, ent) {
				leftover = true
			}
		}

		if len(entries) < batch {
			break
		}
		ascending = !ascending
	}

	e.mu.Lock()
	e.ascending = ascending
	e.mu.Unlock()

	if leftover {
		e.scheduleRetry()
		return
	}
	e.republish(ctx)
}

// republish recomputes and publishes the current minimum via a watched
// transaction. An abort means a concurrent writer already published a
// fresher minimum, so this replica simply drops its own attempt.
func (e *Engine) republish(ctx context.Context) {
	aborted, err := e.gw.WatchedRepublish(ctx)
	if err != nil {
		e.logger.Error("dispatch: republish failed", "err", err)
		return
	}
	if aborted {
		e.metricsReg.RepublishAborted.Add(1)
	}
}

// scheduleRetry re-fires onTimerFire after processingRetryDelay, without
// going through the Timer (which is reserved for nextDueTime-driven wakeups).
func (e *Engine) scheduleRetry() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case <-time.After(processingRetryDelay):
			e.onTimerFire()
		case <-e.runCtx.Done():
		}
	}()
}

// tryDispatch claims, emits, and cleans up a single entry. It reports
// whether the entry is a leftover that still needs another pass: either a
// peer holds a live claim on it, or a store error left its own claim or
// content lookup unresolved. Content that is permanently missing is cleaned
// up and does not count as leftover.
func (e *Engine) tryDispatch(ctx context.Context, ent store.Entry) bool {
	claimed, err := e.gw.Claim(ctx, ent.ID, store.ProcessingWindow.Milliseconds())
	if err != nil {
		e.logger.Error("dispatch: claim failed", "id", ent.ID, "err", err)
		return true
	}
	if !claimed {
		e.metricsReg.ClaimConflicts.Add(1)
		return true
	}

	text, ok, err := e.gw.FetchContent(ctx, ent.ID)
	if err != nil {
		e.logger.Error("dispatch: fetch content failed", "id", ent.ID, "err", err)
		return true
	}
	if !ok {
		e.metricsReg.ContentMissing.Add(1)
		e.cleanupAsync(ent.ID)
		return false
	}

	nowMs := time.Now().UnixMilli()
	if err := emit.Emit(e.out, ent.Score, nowMs, text); err != nil {
		e.logger.Error("dispatch: emit failed", "id", ent.ID, "err", err)
		e.cleanupAsync(ent.ID)
		return false
	}
	e.metricsReg.Emitted.Add(1)

	if e.ledgerLog != nil {
		rec := ledger.Record{ID: ent.ID, ScoreMs: ent.Score, Text: text, EmittedMs: nowMs, NodeID: e.nodeID}
		if err := e.ledgerLog.Record(rec); err != nil {
			e.logger.Warn("dispatch: ledger record failed", "id", ent.ID, "err", err)
		}
	}

	if e.observer != nil {
		e.observer(ent.ID, ent.Score, text)
	}

	e.cleanupAsync(ent.ID)
	return false
}

// cleanupAsync deletes an emitted message's content, queue entry, and lock
// on its own goroutine with a bounded timeout, so a slow cleanup never
// delays the batch loop moving on to the next entry.
func (e *Engine) cleanupAsync(id string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), store.ProcessingWindow)
		defer cancel()
		if err := e.gw.Cleanup(ctx, id); err != nil {
			e.logger.Warn("dispatch: cleanup failed", "id", id, "err", err)
		}
	}()
}
