package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// presenceTTL is the lease on a connection's presence key. Live connections
// refresh it via Heartbeat on every keepalive tick; a connection that dies
// without Leave (crash, kill) ages out instead of inflating the participant
// count forever.
const presenceTTL = 90 * time.Second

// Event is a realtime message fanned out to every participant on a board.
type Event struct {
	Type    string          `json:"type"`
	BoardID string          `json:"boardId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with a JSON-encoded payload.
func NewEvent(eventType, boardID string, payload any) (Event, error) {
	ev := Event{Type: eventType, BoardID: boardID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal event payload: %w", err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Subscriber receives a board's events on C until Leave is called. Slow
// consumers have events dropped rather than blocking the fan-out; a dropped
// consumer recovers on the next reseed.
type Subscriber struct {
	ID      string
	C       chan Event
	boardID string
}

// Hub is the realtime substrate: per-board presence counts backed by a redis
// set and event delivery over redis pub/sub, so every API instance sees every
// peer's mutations.
type Hub struct {
	client *redis.Client
	mu     sync.Mutex
	rooms  map[string]*room
}

type room struct {
	pubsub *redis.PubSub
	subs   map[*Subscriber]struct{}
}

func NewHub(client *redis.Client) *Hub {
	return &Hub{client: client, rooms: make(map[string]*room)}
}

func presenceKey(boardID, connID string) string {
	return "board:" + boardID + ":presence:" + connID
}
func presencePattern(boardID string) string { return "board:" + boardID + ":presence:*" }
func eventsChannel(boardID string) string   { return "board:" + boardID + ":events" }

// Join registers a connection on a board and returns its subscriber plus the
// participant count including the new arrival. Presence is a per-connection
// key with a TTL, not a set, so dead connections expire on their own.
func (h *Hub) Join(ctx context.Context, boardID, connID string) (*Subscriber, int, error) {
	if err := h.client.Set(ctx, presenceKey(boardID, connID), "1", presenceTTL).Err(); err != nil {
		return nil, 0, fmt.Errorf("join presence: %w", err)
	}
	count, err := h.countPresence(ctx, boardID)
	if err != nil {
		return nil, 0, err
	}

	sub := &Subscriber{ID: connID, C: make(chan Event, 32), boardID: boardID}

	h.mu.Lock()
	rm, ok := h.rooms[boardID]
	if !ok {
		pubsub := h.client.Subscribe(ctx, eventsChannel(boardID))
		rm = &room{pubsub: pubsub, subs: make(map[*Subscriber]struct{})}
		h.rooms[boardID] = rm
		go h.fanOut(boardID, pubsub)
	}
	rm.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub, count, nil
}

// Heartbeat extends a connection's presence lease. The delivery loop calls
// this on every keepalive tick.
func (h *Hub) Heartbeat(ctx context.Context, sub *Subscriber) error {
	if err := h.client.Expire(ctx, presenceKey(sub.boardID, sub.ID), presenceTTL).Err(); err != nil {
		return fmt.Errorf("heartbeat presence: %w", err)
	}
	return nil
}

// Leave deletes a connection's presence key and closes its subscriber. The
// room's pub/sub subscription is torn down with the last local subscriber.
func (h *Hub) Leave(ctx context.Context, sub *Subscriber) error {
	if err := h.client.Del(ctx, presenceKey(sub.boardID, sub.ID)).Err(); err != nil {
		return fmt.Errorf("leave presence: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[sub.boardID]
	if !ok {
		return nil
	}
	if _, member := rm.subs[sub]; member {
		delete(rm.subs, sub)
		close(sub.C)
	}
	if len(rm.subs) == 0 {
		_ = rm.pubsub.Close()
		delete(h.rooms, sub.boardID)
	}
	return nil
}

// Publish delivers an event to every participant on the board, across all
// API instances.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := h.client.Publish(ctx, eventsChannel(ev.BoardID), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Participants returns the current presence count for a board. Only keys
// whose lease has not expired are counted.
func (h *Hub) Participants(ctx context.Context, boardID string) (int, error) {
	return h.countPresence(ctx, boardID)
}

func (h *Hub) countPresence(ctx context.Context, boardID string) (int, error) {
	// SCAN may return a key more than once, so count distinct keys.
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := h.client.Scan(ctx, cursor, presencePattern(boardID), 100).Result()
		if err != nil {
			return 0, fmt.Errorf("count presence: %w", err)
		}
		for _, key := range keys {
			seen[key] = struct{}{}
		}
		cursor = next
		if cursor == 0 {
			return len(seen), nil
		}
	}
}

func (h *Hub) fanOut(boardID string, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("realtime: bad event on %s: %v", boardID, err)
			continue
		}
		h.mu.Lock()
		rm, ok := h.rooms[boardID]
		if !ok {
			h.mu.Unlock()
			return
		}
		for sub := range rm.subs {
			select {
			case sub.C <- ev:
			default:
			}
		}
		h.mu.Unlock()
	}
}
