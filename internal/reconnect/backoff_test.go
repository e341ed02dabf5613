package reconnect_test

import (
	"testing"
	"time"

	"github.com/marabbate/echoq/internal/reconnect"
)

func TestBackoff_FirstAttemptIs100ms(t *testing.T) {
	b := reconnect.NewBackoff()
	d, ok := b.Next()
	if !ok {
		t.Fatal("expected first attempt to be offered")
	}
	if d != 100*time.Millisecond {
		t.Fatalf("expected 100ms, got %v", d)
	}
}

func TestBackoff_GrowsWithTotalRetryTime(t *testing.T) {
	b := reconnect.NewBackoff()
	first, _ := b.Next()  // 100ms, total=100
	second, _ := b.Next() // total(100)/1*2 = 200ms
	third, _ := b.Next()  // total(300)/2*2 = 300ms

	if second <= first {
		t.Fatalf("expected second delay > first, got %v <= %v", second, first)
	}
	if third != 300*time.Millisecond {
		t.Fatalf("expected third delay 300ms, got %v", third)
	}
}

func TestBackoff_GivesUpAfterAttemptBudget(t *testing.T) {
	b := reconnect.NewBackoff()
	// Fresh backoff: limit = 3 + max(0, 5) = 8 attempts.
	for i := 0; i < 8; i++ {
		if _, ok := b.Next(); !ok {
			t.Fatalf("expected attempt %d to be offered", i+1)
		}
	}
	if _, ok := b.Next(); ok {
		t.Fatal("expected attempt budget to be exhausted")
	}
}

func TestBackoff_SuccessResetsAttemptCounter(t *testing.T) {
	b := reconnect.NewBackoff()
	b.Next()
	b.Next()
	b.Success()

	d, ok := b.Next()
	if !ok {
		t.Fatal("expected an attempt to be offered after Success")
	}
	if d != 100*time.Millisecond {
		t.Fatalf("expected reset to 100ms after Success, got %v", d)
	}
}

func TestBackoff_SuccessRaisesFutureAttemptBudget(t *testing.T) {
	b := reconnect.NewBackoff()
	for i := 0; i < 20; i++ {
		b.Success()
	}
	// limit = 3 + max(20, 5) = 23
	count := 0
	for {
		if _, ok := b.Next(); !ok {
			break
		}
		count++
	}
	if count != 23 {
		t.Fatalf("expected 23 attempts after 20 successful connections, got %d", count)
	}
}
