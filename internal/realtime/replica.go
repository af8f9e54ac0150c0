// Package realtime holds the synchronization core for concurrently edited
// boards: the shared live replica mirrored to every connected participant,
// the hub that fans mutations out to them, the reconciler that decides when
// the replica must be rebuilt from the authoritative store, and the
// translator that maps drag gestures onto replica mutations plus a single
// move request.
package realtime

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrUnknownContainer = errors.New("unknown container")
)

// ReplicaCard carries the card fields peers need for rendering. The visible
// Position field always matches the card's index after ReindexPositions.
type ReplicaCard struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Position int        `json:"position"`
	DueDate  *time.Time `json:"dueDate,omitempty"`
}

type ReplicaList struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Position int           `json:"position"`
	Cards    []ReplicaCard `json:"cards"`
}

// ReplicaState is a point-in-time copy of a replica, safe to serialize.
type ReplicaState struct {
	BoardID     string        `json:"boardId"`
	Lists       []ReplicaList `json:"lists"`
	LastSyncAt  time.Time     `json:"lastSyncTimestamp"`
	SyncVersion int           `json:"syncVersion"`
}

// Replica is the per-board shared live structure. Every connected
// participant's client mutates it optimistically before server confirmation;
// its writes are provisional and never authoritative. Concurrent overlapping
// moves are resolved last-write-wins under one mutex; correctness is
// restored by the reconciler's reseed path, not by merge logic.
type Replica struct {
	mu          sync.Mutex
	boardID     string
	lists       []ReplicaList
	lastSyncAt  time.Time
	syncVersion int
}

func NewReplica(boardID string) *Replica {
	return &Replica{boardID: boardID}
}

// ReplaceState swaps the entire contents for a fresh authoritative snapshot
// and increments the sync version. Positions are recomputed from array
// indexes so a reseed always yields a contiguous ordering.
func (r *Replica) ReplaceState(lists []ReplicaList, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = copyLists(lists)
	reindexAll(r.lists)
	r.lastSyncAt = now
	r.syncVersion++
	return r.syncVersion
}

// MarkSynced records a successful server confirmation without reseeding.
func (r *Replica) MarkSynced(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSyncAt = now
}

func (r *Replica) LastSyncAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSyncAt
}

func (r *Replica) SyncVersion() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncVersion
}

// MoveList reorders a list within the board and reindexes list positions.
func (r *Replica) MoveList(from, to int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if from < 0 || from >= len(r.lists) || to < 0 || to >= len(r.lists) {
		return ErrIndexOutOfRange
	}
	moved := r.lists[from]
	r.lists = append(r.lists[:from], r.lists[from+1:]...)
	r.lists = append(r.lists[:to], append([]ReplicaList{moved}, r.lists[to:]...)...)
	reindexAll(r.lists)
	return nil
}

// MoveCardWithin moves a card inside one list.
func (r *Replica) MoveCardWithin(listID string, from, to int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.findList(listID)
	if list == nil {
		return ErrUnknownContainer
	}
	if from < 0 || from >= len(list.Cards) || to < 0 || to >= len(list.Cards) {
		return ErrIndexOutOfRange
	}
	moved := list.Cards[from]
	list.Cards = append(list.Cards[:from], list.Cards[from+1:]...)
	list.Cards = append(list.Cards[:to], append([]ReplicaCard{moved}, list.Cards[to:]...)...)
	reindexCards(list.Cards)
	return nil
}

// MoveCardAcross moves a card between two lists. to == len(destination)
// appends.
func (r *Replica) MoveCardAcross(fromListID, toListID string, from, to int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	source := r.findList(fromListID)
	dest := r.findList(toListID)
	if source == nil || dest == nil {
		return ErrUnknownContainer
	}
	if from < 0 || from >= len(source.Cards) || to < 0 || to > len(dest.Cards) {
		return ErrIndexOutOfRange
	}
	moved := source.Cards[from]
	source.Cards = append(source.Cards[:from], source.Cards[from+1:]...)
	dest.Cards = append(dest.Cards[:to], append([]ReplicaCard{moved}, dest.Cards[to:]...)...)
	reindexCards(source.Cards)
	reindexCards(dest.Cards)
	return nil
}

// ReindexPositions rewrites the visible position of every card in one list
// to match its index.
func (r *Replica) ReindexPositions(listID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.findList(listID)
	if list == nil {
		return ErrUnknownContainer
	}
	reindexCards(list.Cards)
	return nil
}

// Snapshot returns a deep copy of the current state.
func (r *Replica) Snapshot() ReplicaState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReplicaState{
		BoardID:     r.boardID,
		Lists:       copyLists(r.lists),
		LastSyncAt:  r.lastSyncAt,
		SyncVersion: r.syncVersion,
	}
}

// IndexOfList returns the current index of a list, or -1.
func (r *Replica) IndexOfList(listID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.lists {
		if r.lists[i].ID == listID {
			return i
		}
	}
	return -1
}

// LocateCard returns the containing list id and index of a card.
func (r *Replica) LocateCard(cardID string) (listID string, index int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.lists {
		for j := range r.lists[i].Cards {
			if r.lists[i].Cards[j].ID == cardID {
				return r.lists[i].ID, j, true
			}
		}
	}
	return "", -1, false
}

func (r *Replica) findList(listID string) *ReplicaList {
	for i := range r.lists {
		if r.lists[i].ID == listID {
			return &r.lists[i]
		}
	}
	return nil
}

func reindexAll(lists []ReplicaList) {
	for i := range lists {
		lists[i].Position = i
		reindexCards(lists[i].Cards)
	}
}

func reindexCards(cards []ReplicaCard) {
	for i := range cards {
		cards[i].Position = i
	}
}

func copyLists(lists []ReplicaList) []ReplicaList {
	out := make([]ReplicaList, len(lists))
	for i, list := range lists {
		out[i] = list
		out[i].Cards = make([]ReplicaCard, len(list.Cards))
		copy(out[i].Cards, list.Cards)
	}
	return out
}
