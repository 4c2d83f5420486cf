package llmclient

import "testing"

func TestRateLimiterAllowsUpToRPM(t *testing.T) {
	l := NewRateLimiter(3)
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected call %d to be allowed within rpm budget", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected 4th call within the same window to be denied")
	}
}

func TestRateLimiterZeroMeansUnlimited(t *testing.T) {
	l := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatalf("expected unlimited limiter to always allow, denied at call %d", i)
		}
	}
}
