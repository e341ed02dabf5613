// Package store defines the Gateway contract the dispatch engine uses to
// coordinate against a shared, fleet-wide backing store, and a Redis-backed
// implementation of it.
package store

import (
	"context"
	"fmt"
)

// Entry is one member of the msgq sorted set: an ID and its due-time score,
// in Unix milliseconds.
type Entry struct {
	ID    string
	Score int64
}

// OpError wraps a failure at a specific Gateway operation, so callers and
// logs can distinguish "the store is unreachable" from "a conflict was
// detected and handled" without string-matching messages.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *OpError) Unwrap() error { return e.Err }

// TransactionError reports that a transaction never reached the server at
// all (a network failure before EXEC). No partial write occurred, so
// callers must not attempt a rollback.
type TransactionError struct {
	Err error
}

func (e *TransactionError) Error() string { return fmt.Sprintf("store: transaction: %v", e.Err) }
func (e *TransactionError) Unwrap() error { return e.Err }

// Subscription is a live handle on Channel notifications. Recv blocks until
// a message arrives, the subscription is closed, or ctx is done.
type Subscription interface {
	Recv(ctx context.Context) (payload []byte, err error)
	Close() error
}

// Gateway is everything the dispatch engine needs from the shared store. All
// methods are safe for concurrent use by a single Engine.
type Gateway interface {
	// RangeMin returns up to n entries from the ascending end of the queue
	// (lowest due-time first).
	RangeMin(ctx context.Context, n int64) ([]Entry, error)

	// RangeLowHigh returns up to n entries whose score falls in
	// [lowMs, highMs], ordered by the given direction (ascending=true for
	// low-to-high, false for high-to-low). Alternating direction across
	// batches is a cooperative-concurrency heuristic: replicas racing the
	// same window converge on disjoint claims faster than always scanning
	// the same end first.
	RangeLowHigh(ctx context.Context, lowMs, highMs, n int64, ascending bool) ([]Entry, error)

	// WriteMessage stores the message content and adds it to the queue in a
	// single transaction, publishing dueTimeMs on Channel within that same
	// transaction if publishMin is true. duplicate is true if id was
	// already present in the queue (score is left untouched in that case:
	// the first writer for a given id wins the due-time). A returned
	// *TransactionError means no write occurred at all; a returned
	// *OpError means some writes landed and the caller should Rollback.
	WriteMessage(ctx context.Context, id string, dueTimeMs int64, text string, publishMin bool) (duplicate bool, err error)

	// Rollback removes id from the queue and deletes its content. Used to
	// undo a WriteMessage whose transaction partially failed.
	Rollback(ctx context.Context, id string) error

	// Claim attempts to acquire the dispatch lock for id. Returns false if
	// another replica already holds it.
	Claim(ctx context.Context, id string, ttl int64) (claimed bool, err error)

	// FetchContent returns the stored text for id. ok is false if the
	// content is missing (e.g. concurrently cleaned up by another replica).
	FetchContent(ctx context.Context, id string) (text string, ok bool, err error)

	// Cleanup removes id's content, queue entry, and dispatch lock after a
	// successful emission. Best-effort: callers treat failures as
	// non-fatal, since a leftover entry is merely reclaimed and retried by
	// the next pass.
	Cleanup(ctx context.Context, id string) error

	// WatchedRepublish recomputes and publishes the current minimum due-time
	// (or the empty sentinel) to Channel, guarding against a race where the
	// queue changes between the read and the publish. aborted is true if
	// such a race was detected and the publish was skipped.
	WatchedRepublish(ctx context.Context) (aborted bool, err error)

	// Subscribe opens a live subscription to Channel.
	Subscribe(ctx context.Context) (Subscription, error)

	Close() error
}
