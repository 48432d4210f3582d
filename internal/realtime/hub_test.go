package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.DiscardHandler))
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventAlert, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAlert, EventResolved},
	}}

	alertEvent := &Event{Type: EventAlert}
	resolvedEvent := &Event{Type: EventResolved}
	blockEvent := &Event{Type: EventIPBlock}

	if !h.shouldSend(client, alertEvent) {
		t.Error("Should receive alert events")
	}
	if !h.shouldSend(client, resolvedEvent) {
		t.Error("Should receive alert_resolved events")
	}
	if h.shouldSend(client, blockEvent) {
		t.Error("Should NOT receive ip_block events")
	}
}

func TestShouldSend_MinSeverityFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinSeverity: "HIGH",
	}}

	critical := &Event{
		Type: EventAlert,
		Data: map[string]interface{}{"severity": "CRITICAL"},
	}
	high := &Event{
		Type: EventAlert,
		Data: map[string]interface{}{"severity": "HIGH"},
	}
	low := &Event{
		Type: EventAlert,
		Data: map[string]interface{}{"severity": "LOW"},
	}

	if !h.shouldSend(client, critical) {
		t.Error("Should receive critical alerts")
	}
	if !h.shouldSend(client, high) {
		t.Error("Should receive high alerts at the floor")
	}
	if h.shouldSend(client, low) {
		t.Error("Should NOT receive low alerts")
	}
}

func TestShouldSend_IPFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		IPs: []string{"203.0.113.9"},
	}}

	matching := &Event{
		Type: EventIPBlock,
		Data: map[string]interface{}{"ip": "203.0.113.9", "reason": "abuse"},
	}
	notMatching := &Event{
		Type: EventIPBlock,
		Data: map[string]interface{}{"ip": "198.51.100.1", "reason": "abuse"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on watched IP")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated IPs")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventAlert}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		IPs: []string{"203.0.113.9"},
	}}

	// Event with non-map data should not crash; the IP filter cannot
	// extract an address so the event is filtered out.
	event := &Event{
		Type: EventAlert,
		Data: "string data not a map",
	}
	if h.shouldSend(client, event) {
		t.Error("Non-map data cannot match an IP filter")
	}
}

func TestSeverityRank(t *testing.T) {
	order := []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}
	for i := 1; i < len(order); i++ {
		if severityRank(order[i-1]) >= severityRank(order[i]) {
			t.Errorf("severityRank(%s) should be below severityRank(%s)", order[i-1], order[i])
		}
	}
	if severityRank("bogus") != -1 {
		t.Errorf("severityRank(bogus) = %d, want -1", severityRank("bogus"))
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
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventAlert, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
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
		sub:  Subscription{AllEvents: true},
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
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastAlert(map[string]interface{}{
		"id": "alr_1", "severity": "HIGH", "ip": "203.0.113.9",
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_BroadcastBlock(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Should not panic
	h.BroadcastBlock("203.0.113.9", "brute force detected")
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

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants IP blocks
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventIPBlock}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send an alert event (should be filtered out)
	h.Broadcast(&Event{Type: EventAlert, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive alert event")
	default:
		// Good - filtered out
	}

	// Send a block event (should be received)
	h.BroadcastBlock("203.0.113.9", "abuse")

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive ip_block event")
	}
}
