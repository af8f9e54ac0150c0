package store

import (
	"reflect"
	"sort"
	"testing"
)

func TestMoveWithinFrontToBack(t *testing.T) {
	// Cards at positions [0,1,2]; moving the card at 0 to index 2 leaves
	// former-1 at 0, former-2 at 1, former-0 at 2.
	ids := []string{"a", "b", "c"}
	got := moveWithin(ids, 0, 2)
	want := []string{"b", "c", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("moveWithin(0,2) = %v, want %v", got, want)
	}
}

func TestMoveWithinRoundTrip(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	moved := moveWithin(ids, 1, 3)
	back := moveWithin(moved, 3, 1)
	if !reflect.DeepEqual(back, ids) {
		t.Errorf("round trip = %v, want %v", back, ids)
	}
}

func TestMoveWithinDoesNotMutateInput(t *testing.T) {
	ids := []string{"a", "b", "c"}
	_ = moveWithin(ids, 0, 2)
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("input mutated: %v", ids)
	}
}

func TestInsertAtEnd(t *testing.T) {
	ids := []string{"a", "b"}
	got := insertAt(ids, 2, "c")
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("insertAt end = %v", got)
	}
}

func TestRemoveInsertCrossContainers(t *testing.T) {
	// Card moves from a 3-card list to index 1 of a 2-card list: source is
	// left with contiguous [0,1], destination with [0,1,2].
	source := []string{"a", "b", "c"}
	dest := []string{"x", "y"}

	from := indexOf(source, "b")
	source = removeAt(source, from)
	dest = insertAt(dest, 1, "b")

	if !reflect.DeepEqual(source, []string{"a", "c"}) {
		t.Errorf("source = %v", source)
	}
	if !reflect.DeepEqual(dest, []string{"x", "b", "y"}) {
		t.Errorf("dest = %v", dest)
	}

	// New array indexes are the persisted positions: check contiguity.
	for _, sibs := range [][]string{source, dest} {
		positions := make([]int, 0, len(sibs))
		for i := range sibs {
			positions = append(positions, i)
		}
		sort.Ints(positions)
		for i, p := range positions {
			if p != i {
				t.Errorf("positions not contiguous: %v", positions)
			}
		}
	}
}

func TestIndexOfMissing(t *testing.T) {
	if got := indexOf([]string{"a", "b"}, "z"); got != -1 {
		t.Errorf("indexOf missing = %d, want -1", got)
	}
}
