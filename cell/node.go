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
	"github.com/google/uuid"
)

// node is one arena entry: the runtime, mutation-tracking counterpart
// of a Value-tree container, per spec §3/§9. Parent links are back-
// edges by handle rather than owning pointers conceptually, but since
// this is a single-process arena (no cross-process handle sharing) a
// direct *node back-pointer is simpler than a handle indirection and
// is what is actually stored; the handle is the node's key in the
// Manager's arena. Wrappers hold the *node itself, so is_linked/is_dirty
// do not look the handle up.
type node struct {
	mgr    *Manager
	handle uuid.UUID
	kind   NodeKind

	parent *node
	key    any // int for Sequence, string for Mapping/Record; nil for root

	dirty    bool
	detached bool

	seq []any       // KindSequence: element is scalar or *node
	mp  *orderedMap // KindMapping
	set *orderedSet // KindSet
	raw []byte      // KindBytes
	rec *recordData // KindRecord
}

// recordData is the runtime storage for a Record node: field values
// (scalar or *node) plus enough type information to re-derive a
// RecordValue on encode. Decoding yields only this Record node; no
// concrete Go value of the original user type is rebuilt.
type recordData struct {
	typeName string
	order    []string // field declaration order
	fields   map[string]any
}

func newNode(mgr *Manager, kind NodeKind) *node {
	n := &node{mgr: mgr, handle: newHandle(), kind: kind}
	switch kind {
	case KindSequence:
		n.seq = nil
	case KindMapping:
		n.mp = newOrderedMap()
	case KindSet:
		n.set = newOrderedSet()
	case KindBytes:
		n.raw = nil
	case KindRecord:
		n.rec = &recordData{fields: make(map[string]any)}
	}
	return n
}

// adopt links a freshly built, currently detached node under parent at
// the given key, per "Adoption on write" (§4.3). It is also used for
// the very first build of the Manager's root.
func (n *node) adopt(parent *node, key any) {
	n.parent = parent
	n.key = key
	n.detached = false
}

// root walks parent links to the tree root, giving O(depth) access to
// the node the commit logic needs to consult, per §4.4.
func (n *node) root() *node {
	cur := n
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// isLinked reports whether a chain of parent links reaches the
// Manager's cached root, per invariant 2 in spec §3. A node can have a
// nil parent and still be the root itself (linked), or have a nil
// parent because it was built standalone and never adopted (detached).
func (n *node) isLinked() bool {
	if n.detached {
		return false
	}
	root := n.root()
	return root == n.mgr.root
}

// wrapChild returns the exported handle type for a child slot's raw stored
// value: scalars pass through unchanged, *node children become their
// typed wrapper (Sequence/Mapping/Set/Bytes/Record).
func wrapChild(v any) any {
	n, ok := v.(*node)
	if !ok {
		return v
	}
	switch n.kind {
	case KindSequence:
		return Sequence{n: n}
	case KindMapping:
		return Mapping{n: n}
	case KindSet:
		return Set{n: n}
	case KindBytes:
		return Bytes{n: n}
	case KindRecord:
		return Record{n: n}
	default:
		return v
	}
}

// unwrapHandle extracts the underlying *node from any of the five
// exported wrapper types, or nil if v is not one of them.
func unwrapHandle(v any) *node {
	switch x := v.(type) {
	case Sequence:
		return x.n
	case Mapping:
		return x.n
	case Set:
		return x.n
	case Bytes:
		return x.n
	case Record:
		return x.n
	default:
		return nil
	}
}

// adoptValue turns an arbitrary user-supplied value into something
// storable in a Sequence/Mapping/Record slot: a scalar passes through,
// an already-wrapped handle is checked for aliasing and reparented, and
// a plain Go container (slice, map, []byte, or a registered Fielder) is
// freshly wrapped and linked in place, per "Adoption on write" (§4.3).
func (mgr *Manager) adoptValue(v any, parent *node, key any) (any, error) {
	if isScalar(v) {
		return v, nil
	}
	if existing := unwrapHandle(v); existing != nil {
		if existing.mgr != mgr {
			return nil, newError(KindAliasing, "wrapper belongs to a different Manager")
		}
		if !existing.detached && existing.parent != nil {
			return nil, newError(KindAliasing, "value is already linked at another position")
		}
		existing.adopt(parent, key)
		return existing, nil
	}
	built, err := mgr.buildFromPlain(v)
	if err != nil {
		return nil, err
	}
	built.adopt(parent, key)
	return built, nil
}

// buildFromPlain wraps a plain Go value (slice, map[string]any, []byte,
// or a registered Fielder) into a freshly allocated, still-detached
// node tree. It does not link the result; callers call adopt().
func (mgr *Manager) buildFromPlain(v any) (*node, error) {
	switch x := v.(type) {
	case []byte:
		n := newNode(mgr, KindBytes)
		n.raw = append([]byte(nil), x...)
		mgr.register(n)
		return n, nil
	case []any:
		n := newNode(mgr, KindSequence)
		mgr.register(n)
		for i, el := range x {
			child, err := mgr.adoptValue(el, n, i)
			if err != nil {
				return nil, err
			}
			n.seq = append(n.seq, child)
		}
		return n, nil
	case map[string]any:
		n := newNode(mgr, KindMapping)
		mgr.register(n)
		for k, el := range x {
			child, err := mgr.adoptValue(el, n, k)
			if err != nil {
				return nil, err
			}
			n.mp.set(k, child)
		}
		return n, nil
	case Fielder:
		n := newNode(mgr, KindRecord)
		mgr.register(n)
		n.rec.typeName = x.FieldType()
		n.rec.order = append([]string(nil), x.FieldNames()...)
		for _, name := range n.rec.order {
			child, err := mgr.adoptValue(x.FieldGet(name), n, name)
			if err != nil {
				return nil, err
			}
			n.rec.fields[name] = child
		}
		return n, nil
	default:
		return nil, newError(KindCodec, "value is not a container this package knows how to adopt")
	}
}

// register inserts n into the Manager's arena by handle.
func (mgr *Manager) register(n *node) {
	mgr.arena[n.handle] = n
}
