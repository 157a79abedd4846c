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

// Mapping is the mutation-tracking proxy for an unordered key->child
// node (§3, §4.3). Iteration order (Keys) is sorted for determinism
// even though the variant itself is logically unordered.
type Mapping struct{ n *node }

// Len returns the number of entries.
func (m Mapping) Len() int { return m.n.mp.len() }

// Keys returns the mapping's keys in sorted order.
func (m Mapping) Keys() []string { return m.n.mp.sortedKeys() }

// Get returns the value at key, or (nil, false) if absent.
func (m Mapping) Get(key string) (any, bool) {
	v, ok := m.n.mp.get(key)
	if !ok {
		return nil, false
	}
	return wrapChild(v), true
}

// Set inserts or replaces the value at key, adopting v.
func (m Mapping) Set(key string, v any) error {
	return m.n.mgr.withImplicitTransaction(func() error {
		adopted, err := m.n.mgr.adoptValue(v, m.n, key)
		if err != nil {
			return err
		}
		if old, ok := m.n.mp.get(key); ok {
			if child, ok := old.(*node); ok {
				child.detach()
			}
		}
		m.n.mp.set(key, adopted)
		return m.n.markDirty()
	})
}

// Delete removes key, detaching its child wrapper if it was one.
func (m Mapping) Delete(key string) error {
	return m.n.mgr.withImplicitTransaction(func() error {
		old, ok := m.n.mp.delete(key)
		if !ok {
			return nil
		}
		if child, ok := old.(*node); ok {
			child.detach()
		}
		return m.n.markDirty()
	})
}

// Clear detaches every child wrapper and empties the mapping.
func (m Mapping) Clear() error {
	return m.n.mgr.withImplicitTransaction(func() error {
		for _, k := range m.n.mp.sortedKeys() {
			v, _ := m.n.mp.get(k)
			if child, ok := v.(*node); ok {
				child.detach()
			}
		}
		m.n.mp.clear()
		return m.n.markDirty()
	})
}

// Update merges every entry of updates into the mapping (bulk update),
// as a single implicit transaction when the caller has none open, so
// the whole batch commits atomically rather than one entry at a time.
func (m Mapping) Update(updates map[string]any) error {
	return m.n.mgr.withImplicitTransaction(func() error {
		for k, v := range updates {
			if err := m.Set(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// IsLinked reports whether this wrapper is reachable from its
// Manager's root.
func (m Mapping) IsLinked() bool { return m.n.isLinked() }

// IsDirty reports whether this wrapper has pending uncommitted
// mutations.
func (m Mapping) IsDirty() bool { return m.n.dirty }
