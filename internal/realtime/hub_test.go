package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/flexycode/altflex/internal/analysis"
	"github.com/flexycode/altflex/internal/verify"
)

func testHub() *Hub {
	return NewHub(slog.Default(), 0.5)
}

func assessment(score float64, classification analysis.Classification) *analysis.RiskAssessment {
	return &analysis.RiskAssessment{
		ID:             "assess_test",
		TxHash:         "0xfeed",
		RiskScore:      score,
		Classification: classification,
		CreatedAt:      time.Now(),
	}
}

// ---------------------------------------------------------------------------
// Subscription filter tests
// ---------------------------------------------------------------------------

func TestWants_EmptySubscription(t *testing.T) {
	client := &Client{}

	alert := &Alert{Assessment: assessment(0.9, analysis.ClassCritical)}
	if !client.wants(alert) {
		t.Error("Zero-value subscription should receive every alert")
	}
}

func TestWants_MinScoreFilter(t *testing.T) {
	client := &Client{sub: Subscription{MinScore: 0.8}}

	if !client.wants(&Alert{Assessment: assessment(0.9, analysis.ClassCritical)}) {
		t.Error("Should receive alert above the minimum score")
	}
	if client.wants(&Alert{Assessment: assessment(0.6, analysis.ClassSuspicious)}) {
		t.Error("Should NOT receive alert below the minimum score")
	}
}

func TestWants_ClassificationFilter(t *testing.T) {
	client := &Client{sub: Subscription{Classifications: []string{"critical"}}}

	if !client.wants(&Alert{Assessment: assessment(0.9, analysis.ClassCritical)}) {
		t.Error("Should match classification case-insensitively")
	}
	if client.wants(&Alert{Assessment: assessment(0.6, analysis.ClassSuspicious)}) {
		t.Error("Should NOT receive unlisted classification")
	}
}

func TestWants_AddressFilter(t *testing.T) {
	client := &Client{sub: Subscription{Addresses: []string{"0xabc"}}}

	watched := assessment(0.9, analysis.ClassCritical)
	watched.Verification = &verify.Report{NormalizedAddress: "0xabc"}
	other := assessment(0.9, analysis.ClassCritical)
	other.Verification = &verify.Report{NormalizedAddress: "0xdef"}

	if !client.wants(&Alert{Assessment: watched}) {
		t.Error("Should match the watched sender address")
	}
	if client.wants(&Alert{Assessment: other}) {
		t.Error("Should NOT match a different sender")
	}
	// No verification report attached: address filter cannot match.
	if client.wants(&Alert{Assessment: assessment(0.9, analysis.ClassCritical)}) {
		t.Error("Should NOT match when no sender is known")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalAlerts"].(int64) != 0 {
		t.Errorf("Expected 0 total alerts, got %v", stats["totalAlerts"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(assessment(0.9, analysis.ClassCritical))
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalAlerts"].(int64) != 1 {
		t.Errorf("Expected 1 total alert, got %v", stats["totalAlerts"])
	}
}

func TestHub_BroadcastBelowFloorIsDropped(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(assessment(0.2, analysis.ClassNormal))
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalAlerts"].(int64) != 0 {
		t.Errorf("Expected low-score assessment to be dropped, got %v alerts", stats["totalAlerts"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(assessment(0.95, analysis.ClassCritical))

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants CRITICAL alerts.
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{Classifications: []string{"CRITICAL"}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(assessment(0.6, analysis.ClassSuspicious))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive a SUSPICIOUS alert")
	default:
		// Good - filtered out
	}

	h.Broadcast(assessment(0.9, analysis.ClassCritical))

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive the CRITICAL alert")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}
