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

import (
	"fmt"

	"github.com/google/btree"
)

// orderedMap backs the Mapping node variant. Keys are kept in a
// google/btree.BTreeG[string] (the same ordered-index library memcp
// uses for its secondary indexes in storage/index.go) purely so that
// iteration — and therefore codec encoding — is in a deterministic,
// sorted order rather than Go's randomized map iteration. Values
// (scalar or *node) live in a plain map for O(1) lookup.
type orderedMap struct {
	keys   *btree.BTreeG[string]
	values map[string]any
}

func newOrderedMap() *orderedMap {
	return &orderedMap{
		keys:   btree.NewG(32, func(a, b string) bool { return a < b }),
		values: make(map[string]any),
	}
}

func (m *orderedMap) get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *orderedMap) set(key string, value any) {
	if _, existed := m.values[key]; !existed {
		m.keys.ReplaceOrInsert(key)
	}
	m.values[key] = value
}

func (m *orderedMap) delete(key string) (any, bool) {
	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	delete(m.values, key)
	m.keys.Delete(key)
	return v, true
}

func (m *orderedMap) len() int { return len(m.values) }

// sortedKeys returns keys in ascending order.
func (m *orderedMap) sortedKeys() []string {
	out := make([]string, 0, m.keys.Len())
	m.keys.Ascend(func(k string) bool {
		out = append(out, k)
		return true
	})
	return out
}

func (m *orderedMap) clear() {
	m.keys = btree.NewG(32, func(a, b string) bool { return a < b })
	m.values = make(map[string]any)
}

// orderedSet backs the Set node variant. Set elements are always leaf
// scalars (spec §3), so membership is keyed by a canonical string
// rendition of the scalar rather than requiring Go comparability
// tricks; the btree again exists purely to make iteration (and thus
// encoding and union/intersection/difference results) deterministic.
type orderedSet struct {
	keys   *btree.BTreeG[string]
	values map[string]any
}

func newOrderedSet() *orderedSet {
	return &orderedSet{
		keys:   btree.NewG(32, func(a, b string) bool { return a < b }),
		values: make(map[string]any),
	}
}

// scalarKey canonicalizes a leaf value into a comparable string so
// equal scalars of the same dynamic type collide in the set, while
// distinct dynamic types (int64(1) vs float64(1)) do not alias.
func scalarKey(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}

func (s *orderedSet) has(v any) bool {
	_, ok := s.values[scalarKey(v)]
	return ok
}

func (s *orderedSet) add(v any) bool {
	k := scalarKey(v)
	if _, existed := s.values[k]; existed {
		return false
	}
	s.values[k] = v
	s.keys.ReplaceOrInsert(k)
	return true
}

func (s *orderedSet) discard(v any) bool {
	k := scalarKey(v)
	if _, ok := s.values[k]; !ok {
		return false
	}
	delete(s.values, k)
	s.keys.Delete(k)
	return true
}

func (s *orderedSet) len() int { return len(s.values) }

func (s *orderedSet) items() []any {
	out := make([]any, 0, s.keys.Len())
	s.keys.Ascend(func(k string) bool {
		out = append(out, s.values[k])
		return true
	})
	return out
}

func (s *orderedSet) clear() {
	s.keys = btree.NewG(32, func(a, b string) bool { return a < b })
	s.values = make(map[string]any)
}
