/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package cell

// markDirty implements the common mark_dirty hook every mutating
// wrapper operation routes through (§4.3): it asserts the node is
// linked, sets its dirty flag, and walks parent links marking
// ancestors dirty up to the root or to the first already-dirty
// ancestor (invariant 3 in §3 — short-circuiting on an already-dirty
// ancestor keeps this O(depth) even under many mutations).
func (n *node) markDirty() error {
	if !n.isLinked() {
		return newError(KindDetachedMutation, "mutation attempted on a detached wrapper")
	}
	cur := n
	for cur != nil {
		if cur.dirty {
			break
		}
		n.mgr.noteTouch(cur)
		cur.dirty = true
		cur = cur.parent
	}
	return nil
}

// detach clears n's link and recursively marks n and every descendant
// as detached, per §4.4. It does not mutate the parent's own storage —
// callers remove n from the parent's slot themselves before or after
// calling detach, depending on whether the slot's re-indexing needs the
// old entry present.
func (n *node) detach() {
	n.mgr.noteDetach(n)
	n.detached = true
	n.parent = nil
	n.key = nil
	switch n.kind {
	case KindSequence:
		for _, el := range n.seq {
			if child, ok := el.(*node); ok {
				child.detach()
			}
		}
	case KindMapping:
		for _, k := range n.mp.sortedKeys() {
			v, _ := n.mp.get(k)
			if child, ok := v.(*node); ok {
				child.detach()
			}
		}
	case KindRecord:
		for _, name := range n.rec.order {
			if child, ok := n.rec.fields[name].(*node); ok {
				child.detach()
			}
		}
	case KindSet, KindBytes:
		// leaves only, nothing to recurse into
	}
}

// reindexSequenceFrom updates the stored key of every *node child at
// or after index i to match its new position, after an insert or
// removal shifted later siblings. Plain scalars need no bookkeeping.
func (n *node) reindexSequenceFrom(i int) {
	for idx := i; idx < len(n.seq); idx++ {
		if child, ok := n.seq[idx].(*node); ok {
			child.key = idx
		}
	}
}
