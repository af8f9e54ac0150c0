package realtime

import (
	"testing"
	"time"
)

func TestTranslateListDrag(t *testing.T) {
	rep := NewReplica("board_1")
	rep.ReplaceState(seedLists(), time.Now())

	req, err := Translate(rep, DragResult{
		Kind:        KindList,
		BoardID:     "board_1",
		EntityID:    "list_1",
		SourceIndex: 0,
		DestIndex:   2,
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if req.Kind != KindList || req.EntityID != "list_1" || req.DestinationIndex != 2 || req.DestListID != "" {
		t.Fatalf("request = %+v", req)
	}
	// The optimistic mutation is already applied.
	if got := rep.IndexOfList("list_1"); got != 2 {
		t.Fatalf("list index after translate = %d, want 2", got)
	}
}

func TestTranslateDropAtOriginIsNoOp(t *testing.T) {
	rep := NewReplica("board_1")
	rep.ReplaceState(seedLists(), time.Now())
	before := rep.Snapshot()

	req, err := Translate(rep, DragResult{Kind: KindList, EntityID: "list_1", SourceIndex: 1, DestIndex: 1})
	if err != nil || req != nil {
		t.Fatalf("list no-op: req=%+v err=%v", req, err)
	}
	req, err = Translate(rep, DragResult{
		Kind: KindCard, EntityID: "card_a", SourceListID: "list_1", SourceIndex: 0, DestIndex: 0,
	})
	if err != nil || req != nil {
		t.Fatalf("card no-op: req=%+v err=%v", req, err)
	}
	// Dropping back into the source list by its explicit id is still a
	// same-container drag.
	req, err = Translate(rep, DragResult{
		Kind: KindCard, EntityID: "card_a", SourceListID: "list_1", DestListID: "list_1", SourceIndex: 0, DestIndex: 0,
	})
	if err != nil || req != nil {
		t.Fatalf("explicit same-list no-op: req=%+v err=%v", req, err)
	}

	after := rep.Snapshot()
	if after.SyncVersion != before.SyncVersion || len(after.Lists[0].Cards) != len(before.Lists[0].Cards) {
		t.Fatal("no-op drag mutated the replica")
	}
}

func TestTranslateSameListCardDrag(t *testing.T) {
	rep := NewReplica("board_1")
	rep.ReplaceState(seedLists(), time.Now())

	req, err := Translate(rep, DragResult{
		Kind:         KindCard,
		BoardID:      "board_1",
		EntityID:     "card_a",
		SourceListID: "list_1",
		SourceIndex:  0,
		DestIndex:    2,
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if req.DestListID != "" {
		t.Fatalf("same-list request carries DestListID %q", req.DestListID)
	}
	if req.DestinationIndex != 2 {
		t.Fatalf("DestinationIndex = %d, want 2", req.DestinationIndex)
	}
	assertOrder(t, cardIDs(rep.Snapshot().Lists[0].Cards), "card_b", "card_c", "card_a")
}

func TestTranslateCrossListCardDrag(t *testing.T) {
	rep := NewReplica("board_1")
	rep.ReplaceState(seedLists(), time.Now())

	req, err := Translate(rep, DragResult{
		Kind:         KindCard,
		BoardID:      "board_1",
		EntityID:     "card_b",
		SourceListID: "list_1",
		DestListID:   "list_3",
		SourceIndex:  1,
		DestIndex:    0,
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if req.DestListID != "list_3" || req.DestinationIndex != 0 {
		t.Fatalf("request = %+v", req)
	}
	state := rep.Snapshot()
	assertOrder(t, cardIDs(state.Lists[0].Cards), "card_a", "card_c")
	assertOrder(t, cardIDs(state.Lists[2].Cards), "card_b")
}

func TestTranslateRejectsInvalidDrag(t *testing.T) {
	rep := NewReplica("board_1")
	rep.ReplaceState(seedLists(), time.Now())

	if _, err := Translate(rep, DragResult{Kind: KindList, SourceIndex: 0, DestIndex: 9}); err != ErrIndexOutOfRange {
		t.Fatalf("err = %v, want ErrIndexOutOfRange", err)
	}
	if _, err := Translate(rep, DragResult{
		Kind: KindCard, SourceListID: "list_1", DestListID: "list_missing", SourceIndex: 0, DestIndex: 0,
	}); err != ErrUnknownContainer {
		t.Fatalf("err = %v, want ErrUnknownContainer", err)
	}
	if _, err := Translate(rep, DragResult{Kind: Kind("label")}); err != ErrUnknownContainer {
		t.Fatalf("err = %v, want ErrUnknownContainer", err)
	}
}
