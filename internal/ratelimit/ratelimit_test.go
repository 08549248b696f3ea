package ratelimit

import (
	"testing"
	"time"
)

func TestBurstThenReject(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("request beyond burst should be rejected")
	}
}

func TestRefillOverTime(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("10.0.0.2") {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("10.0.0.2") {
		t.Fatal("bucket should be empty")
	}

	// 6000/min = 100/sec, so ~20ms refills one token.
	time.Sleep(25 * time.Millisecond)
	if !l.Allow("10.0.0.2") {
		t.Fatal("token should have refilled")
	}
}

func TestClientsIndependent(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("a") {
		t.Fatal("client a should be allowed")
	}
	if !l.Allow("b") {
		t.Fatal("client b should be unaffected by client a")
	}
}
