// Package emit renders and writes the single stdout line produced for each
// dispatched message.
package emit

import (
	"fmt"
	"io"
	"time"
)

// Line renders the emission line for a message due at scoreMs, emitted at
// nowMs, of the form:
//
//	[2026-08-06T12:00:00.000Z] (+12 ms) hello world
//
// delta is nowMs - scoreMs; a message emitted after its due-time (the
// common case) shows a positive delta, one emitted early (should not
// happen under normal operation, but is not prevented) shows a negative
// one.
func Line(scoreMs, nowMs int64, text string) string {
	ts := time.UnixMilli(scoreMs).UTC().Format("2006-01-02T15:04:05.000Z")
	delta := nowMs - scoreMs
	sign := "+"
	if delta < 0 {
		sign = "-"
		delta = -delta
	}
	return fmt.Sprintf("[%s] (%s%d ms) %s", ts, sign, delta, text)
}

// Emit writes the rendered line, followed by a newline, to w.
func Emit(w io.Writer, scoreMs, nowMs int64, text string) error {
	_, err := fmt.Fprintln(w, Line(scoreMs, nowMs, text))
	return err
}
