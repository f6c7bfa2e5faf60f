package arberr

import (
	"errors"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "AGENT_NOT_FOUND", "agent a1 not found")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected KindNotFound, got %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("expected plain errors to classify as internal")
	}
}

func TestRetryableTerminal(t *testing.T) {
	unavail := New(KindUnavailable, "STORE_DOWN", "durable store unreachable")
	if !Retryable(unavail) {
		t.Fatal("unavailable should be retryable")
	}
	if Terminal(unavail) {
		t.Fatal("unavailable should not be terminal")
	}

	conflict := New(KindConflict, "AGENT_EXISTS", "agent already registered")
	if Retryable(conflict) {
		t.Fatal("conflict should never be retryable")
	}
	if !Terminal(conflict) {
		t.Fatal("conflict should be terminal")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(KindInternal, "STORE_TX", "transaction failed", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected Unwrap chain to reach cause")
	}
}

func TestRateLimited(t *testing.T) {
	err := RateLimited("RATE_LIMITED", "too many requests", 1500)
	if err.RetryAfterMs != 1500 {
		t.Fatalf("expected retryAfterMs 1500, got %d", err.RetryAfterMs)
	}
	if KindOf(err) != KindRateLimited {
		t.Fatal("expected rate limited kind")
	}
}
