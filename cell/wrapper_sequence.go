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

import "sort"

// Sequence is the mutation-tracking proxy for an ordered-list node
// (§3, §4.3). Reads of container-valued positions return further
// wrappers; reads of scalar positions return the bare value.
type Sequence struct{ n *node }

// Len returns the number of elements.
func (s Sequence) Len() int { return len(s.n.seq) }

// Get returns the element at i: a scalar, or a wrapper for a child
// container.
func (s Sequence) Get(i int) any { return wrapChild(s.n.seq[i]) }

// Set replaces the element at i, adopting v if it is a plain container
// or an unlinked wrapper.
func (s Sequence) Set(i int, v any) error {
	return s.n.mgr.withImplicitTransaction(func() error {
		adopted, err := s.n.mgr.adoptValue(v, s.n, i)
		if err != nil {
			return err
		}
		if old, ok := s.n.seq[i].(*node); ok {
			old.detach()
		}
		s.n.seq[i] = adopted
		return s.n.markDirty()
	})
}

// Append adds v to the end of the sequence.
func (s Sequence) Append(v any) error {
	return s.n.mgr.withImplicitTransaction(func() error {
		adopted, err := s.n.mgr.adoptValue(v, s.n, len(s.n.seq))
		if err != nil {
			return err
		}
		s.n.seq = append(s.n.seq, adopted)
		return s.n.markDirty()
	})
}

// Insert places v at index i, shifting later elements right and
// re-indexing their stored (parent, key) pairs per §4.4.
func (s Sequence) Insert(i int, v any) error {
	return s.n.mgr.withImplicitTransaction(func() error {
		if i < 0 || i > len(s.n.seq) {
			return newError(KindCodec, "sequence insert index out of range")
		}
		adopted, err := s.n.mgr.adoptValue(v, s.n, i)
		if err != nil {
			return err
		}
		s.n.seq = append(s.n.seq, nil)
		copy(s.n.seq[i+1:], s.n.seq[i:])
		s.n.seq[i] = adopted
		s.n.reindexSequenceFrom(i + 1)
		return s.n.markDirty()
	})
}

// RemoveAt removes and returns the element at index i.
func (s Sequence) RemoveAt(i int) (any, error) {
	var removed any
	err := s.n.mgr.withImplicitTransaction(func() error {
		if i < 0 || i >= len(s.n.seq) {
			return newError(KindCodec, "sequence index out of range")
		}
		removed = s.n.seq[i]
		if child, ok := removed.(*node); ok {
			child.detach()
		}
		s.n.seq = append(s.n.seq[:i], s.n.seq[i+1:]...)
		s.n.reindexSequenceFrom(i)
		return s.n.markDirty()
	})
	if err != nil {
		return nil, err
	}
	return wrapChild(removed), nil
}

// RemoveValue removes the first scalar element equal to v, reporting
// whether anything was removed. It does not match container elements.
func (s Sequence) RemoveValue(v any) (bool, error) {
	for i, el := range s.n.seq {
		if el == v {
			_, err := s.RemoveAt(i)
			return err == nil, err
		}
	}
	return false, nil
}

// Clear detaches every child wrapper and empties the sequence.
func (s Sequence) Clear() error {
	return s.n.mgr.withImplicitTransaction(func() error {
		for _, el := range s.n.seq {
			if child, ok := el.(*node); ok {
				child.detach()
			}
		}
		s.n.seq = nil
		return s.n.markDirty()
	})
}

// SliceSet replaces the half-open range [lo, hi) with the elements of
// vs, adopting each one.
func (s Sequence) SliceSet(lo, hi int, vs []any) error {
	return s.n.mgr.withImplicitTransaction(func() error {
		if lo < 0 || hi > len(s.n.seq) || lo > hi {
			return newError(KindCodec, "sequence slice bounds out of range")
		}
		for _, el := range s.n.seq[lo:hi] {
			if child, ok := el.(*node); ok {
				child.detach()
			}
		}
		adopted := make([]any, len(vs))
		for i, v := range vs {
			a, err := s.n.mgr.adoptValue(v, s.n, lo+i)
			if err != nil {
				return err
			}
			adopted[i] = a
		}
		tail := append([]any(nil), s.n.seq[hi:]...)
		s.n.seq = append(s.n.seq[:lo], adopted...)
		s.n.seq = append(s.n.seq, tail...)
		s.n.reindexSequenceFrom(lo)
		return s.n.markDirty()
	})
}

// Extend appends every element of vs, in order, as a single implicit
// transaction when the caller has none open.
func (s Sequence) Extend(vs []any) error {
	return s.n.mgr.withImplicitTransaction(func() error {
		for _, v := range vs {
			if err := s.Append(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Pop removes and returns the last element.
func (s Sequence) Pop() (any, error) {
	if len(s.n.seq) == 0 {
		return nil, newError(KindCodec, "pop from empty sequence")
	}
	return s.RemoveAt(len(s.n.seq) - 1)
}

// Reverse reverses the sequence in place.
func (s Sequence) Reverse() error {
	return s.n.mgr.withImplicitTransaction(func() error {
		for i, j := 0, len(s.n.seq)-1; i < j; i, j = i+1, j-1 {
			s.n.seq[i], s.n.seq[j] = s.n.seq[j], s.n.seq[i]
		}
		s.n.reindexSequenceFrom(0)
		return s.n.markDirty()
	})
}

// Sort sorts the sequence in place using less, which is handed the
// exported (possibly wrapped) values, the same shape Get returns.
// Go has no generic total order over `any`, so unlike the source
// language's native sort, a comparator is mandatory here.
func (s Sequence) Sort(less func(a, b any) bool) error {
	return s.n.mgr.withImplicitTransaction(func() error {
		sort.SliceStable(s.n.seq, func(i, j int) bool {
			return less(wrapChild(s.n.seq[i]), wrapChild(s.n.seq[j]))
		})
		s.n.reindexSequenceFrom(0)
		return s.n.markDirty()
	})
}

// Items returns a snapshot slice of wrapped/scalar elements, useful
// for ranging without holding onto s.n.seq's backing array.
func (s Sequence) Items() []any {
	out := make([]any, len(s.n.seq))
	for i, el := range s.n.seq {
		out[i] = wrapChild(el)
	}
	return out
}

// IsLinked reports whether this wrapper is reachable from its
// Manager's root.
func (s Sequence) IsLinked() bool { return s.n.isLinked() }

// IsDirty reports whether this wrapper has pending uncommitted
// mutations.
func (s Sequence) IsDirty() bool { return s.n.dirty }
