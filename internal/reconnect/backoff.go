// Package reconnect implements the capped-backoff policy used when the
// store connection is lost.
package reconnect

import "time"

// Backoff tracks the delay schedule for successive reconnect attempts
// since the last successful connection.
//
// Attempt 1 waits 100ms. Each subsequent attempt waits
// totalRetryTime/(attempt-1)*2, where totalRetryTime is the running sum of
// every delay issued so far — so the wait grows roughly linearly with how
// long the outage has already lasted. Attempts stop being offered after
// 3+max(timesConnected, 5) since the last successful connect. On success the
// attempt counter and totalRetryTime reset, and timesConnected grows by one.
type Backoff struct {
	timesConnected int
	attempt        int
	totalRetryMs   int64
}

// NewBackoff returns a Backoff ready for its first outage.
func NewBackoff() *Backoff {
	return &Backoff{}
}

// Next returns the delay before the next reconnect attempt, and ok=false
// once the attempt budget for this outage is exhausted.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	limit := 3 + max(b.timesConnected, 5)
	if b.attempt >= limit {
		return 0, false
	}

	b.attempt++
	var ms int64
	if b.attempt == 1 {
		ms = 100
	} else {
		ms = b.totalRetryMs / int64(b.attempt-1) * 2
	}
	b.totalRetryMs += ms
	return time.Duration(ms) * time.Millisecond, true
}

// Success resets the attempt counter after a successful connection and
// records one more successful connection towards the attempt budget of the
// next outage.
func (b *Backoff) Success() {
	b.timesConnected++
	b.attempt = 0
	b.totalRetryMs = 0
}
