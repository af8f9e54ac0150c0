package store

// Pure renumbering helpers shared by the move executors. The executors load
// the authoritative sibling ids inside a transaction, rearrange them here,
// and persist every changed position before commit, so the multiset of
// positions under one parent is always exactly {0..N-1}.

// indexOf returns the index of id in ids, or -1.
func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// removeAt returns a copy of ids without the element at index i.
func removeAt(ids []string, i int) []string {
	out := make([]string, 0, len(ids)-1)
	out = append(out, ids[:i]...)
	return append(out, ids[i+1:]...)
}

// insertAt returns a copy of ids with id inserted at index i. i may equal
// len(ids), which appends.
func insertAt(ids []string, i int, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:i]...)
	out = append(out, id)
	return append(out, ids[i:]...)
}

// moveWithin removes the element at from and reinserts it at to.
func moveWithin(ids []string, from, to int) []string {
	moved := ids[from]
	return insertAt(removeAt(ids, from), to, moved)
}
