package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// SeedFunc reads the authoritative board snapshot, already ordered by
// position ascending.
type SeedFunc func(ctx context.Context, boardID string) ([]ReplicaList, error)

// Reconciler decides when a board's shared live replica must be (re)built
// from the authoritative store: on first use, when a lone joining participant
// finds a stale replica, and after a rejected move.
// replicaEntry tracks one board's replica together with its cold-start
// lifecycle: done is closed once the seed read finished, after which either
// err is set or rep carries authoritative state.
type replicaEntry struct {
	rep  *Replica
	done chan struct{}
	err  error
}

type Reconciler struct {
	mu       sync.Mutex
	replicas map[string]*replicaEntry

	seed        SeedFunc
	staleAfter  time.Duration
	resyncDelay time.Duration

	// now is swappable for tests.
	now func() time.Time

	// onReseed is invoked after every forced reseed so the caller can
	// broadcast the fresh state to all participants.
	onReseed func(boardID string, state ReplicaState)
}

func NewReconciler(seed SeedFunc, staleAfter, resyncDelay time.Duration) *Reconciler {
	return &Reconciler{
		replicas:    make(map[string]*replicaEntry),
		seed:        seed,
		staleAfter:  staleAfter,
		resyncDelay: resyncDelay,
		now:         time.Now,
	}
}

// SetReseedHook registers the broadcast callback. Must be called before the
// reconciler is shared across goroutines.
func (r *Reconciler) SetReseedHook(hook func(boardID string, state ReplicaState)) {
	r.onReseed = hook
}

// Replica returns the live replica for a board, if one exists and its cold
// start already finished. A replica whose seed read is still in flight is
// not visible here.
func (r *Reconciler) Replica(boardID string) (*Replica, bool) {
	r.mu.Lock()
	e, ok := r.replicas[boardID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
		if e.err != nil {
			return nil, false
		}
		return e.rep, true
	default:
		return nil, false
	}
}

// EnsureSeeded returns the board's replica, cold-starting it from the
// authoritative store when no replica exists yet. A cold start leaves the
// replica at syncVersion 1. Concurrent callers during a cold start block
// until the single seed read completes, so no caller ever observes an
// unseeded replica.
func (r *Reconciler) EnsureSeeded(ctx context.Context, boardID string) (*Replica, error) {
	r.mu.Lock()
	if e, ok := r.replicas[boardID]; ok {
		r.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.rep, nil
	}
	e := &replicaEntry{rep: NewReplica(boardID), done: make(chan struct{})}
	r.replicas[boardID] = e
	r.mu.Unlock()

	lists, err := r.seed(ctx, boardID)
	if err != nil {
		e.err = fmt.Errorf("seed replica: %w", err)
		r.mu.Lock()
		delete(r.replicas, boardID)
		r.mu.Unlock()
		close(e.done)
		return nil, e.err
	}
	e.rep.ReplaceState(lists, r.now())
	close(e.done)
	return e.rep, nil
}

// OnParticipantJoined runs the staleness check when the participant count
// increases. A forced reseed happens only when a replica already exists, its
// last sync is older than the freshness threshold, and the joiner is the
// sole participant present at that moment — so two simultaneously joining
// participants can never issue conflicting wholesale reseeds, and a reseed
// never discards another participant's in-flight drag.
func (r *Reconciler) OnParticipantJoined(ctx context.Context, boardID string, participants int) (bool, error) {
	rep, ok := r.Replica(boardID)
	if !ok {
		_, err := r.EnsureSeeded(ctx, boardID)
		return false, err
	}
	if participants != 1 {
		return false, nil
	}
	if r.now().Sub(rep.LastSyncAt()) <= r.staleAfter {
		return false, nil
	}
	if _, err := r.ForceReseed(ctx, boardID); err != nil {
		return false, err
	}
	return true, nil
}

// ForceReseed replaces the replica's entire state from a fresh authoritative
// read and bumps the sync version.
func (r *Reconciler) ForceReseed(ctx context.Context, boardID string) (ReplicaState, error) {
	rep, err := r.EnsureSeeded(ctx, boardID)
	if err != nil {
		return ReplicaState{}, err
	}
	lists, err := r.seed(ctx, boardID)
	if err != nil {
		return ReplicaState{}, fmt.Errorf("reseed replica: %w", err)
	}
	rep.ReplaceState(lists, r.now())
	state := rep.Snapshot()
	if r.onReseed != nil {
		r.onReseed(boardID, state)
	}
	return state, nil
}

// OnMoveFailure schedules a delayed forced reseed after a rejected move. No
// inverse operation is computed; the optimistic mutation (and any peer state
// that diverged since) is discarded wholesale. All participants observe a
// brief snap back — an accepted inconsistency window, not a bug.
func (r *Reconciler) OnMoveFailure(boardID string) {
	time.AfterFunc(r.resyncDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := r.ForceReseed(ctx, boardID); err != nil {
			log.Printf("realtime: rollback reseed for %s failed: %v", boardID, err)
		}
	})
}

// MarkSynced bumps the replica's sync timestamp after a confirmed move.
func (r *Reconciler) MarkSynced(boardID string) {
	if rep, ok := r.Replica(boardID); ok {
		rep.MarkSynced(r.now())
	}
}

// Drop discards a board's replica when its realtime session ends.
func (r *Reconciler) Drop(boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.replicas, boardID)
}
