package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestHub(t *testing.T) (*Hub, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHub(client), mr
}

func TestJoinCountsParticipants(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	sub1, count, err := hub.Join(ctx, "board_1", "conn_1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	sub2, count, err := hub.Join(ctx, "board_1", "conn_2")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	// Presence is per board.
	_, count, err = hub.Join(ctx, "board_2", "conn_3")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	if err := hub.Leave(ctx, sub1); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	got, err := hub.Participants(ctx, "board_1")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if got != 1 {
		t.Fatalf("Participants = %d, want 1", got)
	}
	_ = sub2
}

func TestCrashedConnectionAgesOutOfPresence(t *testing.T) {
	hub, mr := newTestHub(t)
	ctx := context.Background()

	// Join without Leave, as after a process crash or kill.
	if _, _, err := hub.Join(ctx, "board_1", "conn_dead"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	mr.FastForward(presenceTTL + time.Second)

	got, err := hub.Participants(ctx, "board_1")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if got != 0 {
		t.Fatalf("Participants = %d after lease expiry, want 0", got)
	}

	// The next joiner is genuinely alone, so the stale-join reseed check
	// still sees a count of 1.
	_, count, err := hub.Join(ctx, "board_1", "conn_next")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestHeartbeatExtendsPresenceLease(t *testing.T) {
	hub, mr := newTestHub(t)
	ctx := context.Background()

	sub, _, err := hub.Join(ctx, "board_1", "conn_1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	mr.FastForward(presenceTTL - 10*time.Second)
	if err := hub.Heartbeat(ctx, sub); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	mr.FastForward(presenceTTL - 10*time.Second)

	got, err := hub.Participants(ctx, "board_1")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if got != 1 {
		t.Fatalf("Participants = %d after heartbeat, want 1", got)
	}

	mr.FastForward(20 * time.Second)
	got, err = hub.Participants(ctx, "board_1")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if got != 0 {
		t.Fatalf("Participants = %d after missed heartbeats, want 0", got)
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	sub1, _, err := hub.Join(ctx, "board_1", "conn_1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	sub2, _, err := hub.Join(ctx, "board_1", "conn_2")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	ev, err := NewEvent("card.moved", "board_1", map[string]string{"cardId": "card_a"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if err := hub.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, sub := range []*Subscriber{sub1, sub2} {
		select {
		case got := <-sub.C:
			if got.Type != "card.moved" || got.BoardID != "board_1" {
				t.Fatalf("event = %+v", got)
			}
			if string(got.Payload) != `{"cardId":"card_a"}` {
				t.Fatalf("payload = %s", got.Payload)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %s never received the event", sub.ID)
		}
	}
}

func TestLeaveClosesSubscriberChannel(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	sub, _, err := hub.Join(ctx, "board_1", "conn_1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := hub.Leave(ctx, sub); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	select {
	case _, open := <-sub.C:
		if open {
			t.Fatal("channel still open after Leave")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Leave")
	}

	count, err := hub.Participants(ctx, "board_1")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if count != 0 {
		t.Fatalf("Participants = %d, want 0", count)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	sub, _, err := hub.Join(ctx, "board_1", "conn_1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	// Overfill the buffer; Publish must never block the fan-out goroutine.
	for i := 0; i < cap(sub.C)+8; i++ {
		ev, _ := NewEvent("board.updated", "board_1", nil)
		if err := hub.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	received := 0
drain:
	for {
		select {
		case <-sub.C:
			received++
			if received == cap(sub.C) {
				break drain
			}
		case <-deadline:
			break drain
		}
	}
	if received == 0 {
		t.Fatal("subscriber received nothing")
	}
}
