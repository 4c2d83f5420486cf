package llmclient

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)
	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("expected closed breaker to allow call %d", i)
		}
		b.RecordFailure()
	}
	if b.IsOpen() {
		t.Fatal("breaker should still be closed after 2 failures with threshold 3")
	}
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("breaker should be open after 3 consecutive failures")
	}
	if b.Allow() {
		t.Fatal("open breaker within cooldown should not allow calls")
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond)
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("expected breaker open after single failure at threshold 1")
	}
	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected half-open trial call to be allowed after cooldown")
	}
	b.RecordSuccess()
	if b.IsOpen() {
		t.Fatal("breaker should close after half-open success")
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.Allow() // transition to half-open
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("breaker should reopen on half-open trial failure")
	}
}
