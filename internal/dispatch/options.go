package dispatch

import (
	"io"
	"log/slog"

	"github.com/marabbate/echoq/internal/ledger"
	"github.com/marabbate/echoq/internal/metrics"
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMetrics attaches a metrics.Registry so every enqueue, emission, and
// error condition increments the relevant counter.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Engine) { e.metricsReg = reg }
}

// WithLedger attaches a ledger.Ledger so every successful emission is
// recorded to this replica's local audit trail.
func WithLedger(l *ledger.Ledger) Option {
	return func(e *Engine) { e.ledgerLog = l }
}

// WithObserver registers an arbitrary hook invoked after every successful
// emission, e.g. an ingress live-feed broadcaster. Observers are called
// synchronously from the dispatch goroutine and must not block.
func WithObserver(fn func(id string, scoreMs int64, text string)) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithLogger sets the logger used for engine diagnostics. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBatchSize overrides the number of entries fetched per inspection
// batch. Defaults to 30.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batch = n
		}
	}
}

// WithOutput overrides the writer emissions are written to. Defaults to
// os.Stdout; tests substitute a buffer.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) { e.out = w }
}

// WithNodeID tags every emitted ledger record with the given replica
// identity.
func WithNodeID(id string) Option {
	return func(e *Engine) { e.nodeID = id }
}

// WithFatalHook registers a callback invoked when the store connection is
// lost and the reconnect attempt budget is exhausted after startup has
// already completed. Defaults to a no-op (the failure is still logged).
func WithFatalHook(fn func(error)) Option {
	return func(e *Engine) { e.fatalHook = fn }
}
