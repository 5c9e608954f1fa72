package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/frauddesk/sentinel/internal/model"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func decision(label model.Label, userID string, score float64) *model.Decision {
	return &model.Decision{
		TransactionID: "tx-1",
		UserID:        userID,
		Decision:      label,
		Score:         score,
		EvaluatedAt:   time.Now(),
	}
}

// ---------------------------------------------------------------------------
// subscription filter tests
// ---------------------------------------------------------------------------

func TestWants_EmptySubscriptionReceivesEverything(t *testing.T) {
	client := &Client{}

	if !client.wants(decision(model.LabelAllow, "u1", 0)) {
		t.Error("empty subscription should receive all decisions")
	}
	if !client.wants(decision(model.LabelBlock, "u2", 100)) {
		t.Error("empty subscription should receive all decisions")
	}
}

func TestWants_LabelFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		Decisions: []model.Label{model.LabelReview, model.LabelBlock},
	}}

	if client.wants(decision(model.LabelAllow, "u1", 0)) {
		t.Error("should NOT receive ALLOW decisions")
	}
	if !client.wants(decision(model.LabelReview, "u1", 40)) {
		t.Error("should receive REVIEW decisions")
	}
	if !client.wants(decision(model.LabelBlock, "u1", 90)) {
		t.Error("should receive BLOCK decisions")
	}
}

func TestWants_UserFilter(t *testing.T) {
	client := &Client{sub: Subscription{UserIDs: []string{"u1"}}}

	if !client.wants(decision(model.LabelBlock, "u1", 90)) {
		t.Error("should receive watched user's decisions")
	}
	if client.wants(decision(model.LabelBlock, "u2", 90)) {
		t.Error("should NOT receive other users' decisions")
	}
}

func TestWants_MinScoreFilter(t *testing.T) {
	client := &Client{sub: Subscription{MinScore: 50}}

	if client.wants(decision(model.LabelReview, "u1", 40)) {
		t.Error("should NOT receive decisions below the score floor")
	}
	if !client.wants(decision(model.LabelBlock, "u1", 50)) {
		t.Error("should receive decisions at the score floor")
	}
}

// ---------------------------------------------------------------------------
// hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{hub: h, send: make(chan []byte, 256)}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	if n := h.Stats()["connectedClients"].(int); n != 1 {
		t.Errorf("expected 1 connected client, got %d", n)
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	if n := h.Stats()["connectedClients"].(int); n != 0 {
		t.Errorf("expected 0 connected clients after unregister, got %d", n)
	}
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{hub: h, send: make(chan []byte, 256)}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(decision(model.LabelBlock, "u1", 90))

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for broadcast")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{Decisions: []model.Label{model.LabelBlock}},
	}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(decision(model.LabelAllow, "u1", 0))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("client should NOT receive filtered-out decision")
	default:
	}

	h.Broadcast(decision(model.LabelBlock, "u1", 90))

	select {
	case <-client.send:
	case <-time.After(time.Second):
		t.Error("client should receive matching decision")
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
	case <-time.After(2 * time.Second):
		t.Error("hub did not stop after context cancellation")
	}
}
