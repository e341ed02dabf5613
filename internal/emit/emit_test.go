package emit_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/marabbate/echoq/internal/emit"
)

func TestLine_PositiveDelta(t *testing.T) {
	score := int64(1_700_000_000_000)
	line := emit.Line(score, score+12, "hello")
	if !strings.HasPrefix(line, "[2023-11-14T22:13:20.000Z]") {
		t.Fatalf("unexpected timestamp prefix: %s", line)
	}
	if !strings.Contains(line, "(+12 ms)") {
		t.Fatalf("expected +12 ms delta, got: %s", line)
	}
	if !strings.HasSuffix(line, "hello") {
		t.Fatalf("expected text suffix, got: %s", line)
	}
}

func TestLine_NegativeDelta(t *testing.T) {
	score := int64(1_700_000_000_000)
	line := emit.Line(score, score-5, "early")
	if !strings.Contains(line, "(-5 ms)") {
		t.Fatalf("expected -5 ms delta, got: %s", line)
	}
}

func TestLine_ZeroDelta(t *testing.T) {
	score := int64(1_700_000_000_000)
	line := emit.Line(score, score, "on-time")
	if !strings.Contains(line, "(+0 ms)") {
		t.Fatalf("expected +0 ms delta, got: %s", line)
	}
}

func TestEmit_WritesNewlineTerminatedLine(t *testing.T) {
	var buf bytes.Buffer
	if err := emit.Emit(&buf, 1000, 1010, "world"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected trailing newline, got: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "world") {
		t.Fatalf("expected text in output, got: %q", buf.String())
	}
}
