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

// Fielder is the interface a user-defined type opts into to be stored
// as a Record node. Full transparent wrapping of arbitrary host types
// (as the dynamic source language does via attribute interception) is
// explicitly relaxed in a systems language (spec §9); a named,
// hand-written set of accessor methods replaces it.
type Fielder interface {
	// FieldType names the record's type for codec round-tripping.
	FieldType() string
	// FieldNames returns the record's field names in a stable order.
	FieldNames() []string
	FieldGet(name string) any
	FieldSet(name string, value any)
}

// Record is the mutation-tracking proxy for a named-field container
// wrapping a Fielder value (§3, §4.3).
type Record struct{ n *node }

// TypeName returns the wrapped value's registered type name.
func (r Record) TypeName() string { return r.n.rec.typeName }

// FieldNames returns the record's fields in declaration order.
func (r Record) FieldNames() []string {
	return append([]string(nil), r.n.rec.order...)
}

// Get returns the value of a field: a scalar, or a wrapper for a
// child container.
func (r Record) Get(field string) (any, bool) {
	v, ok := r.n.rec.fields[field]
	if !ok {
		return nil, false
	}
	return wrapChild(v), true
}

// Set replaces the value of field, adopting v if it is a container;
// per §4.3, attribute replacement with a container value links the new
// value at this position.
func (r Record) Set(field string, v any) error {
	return r.n.mgr.withImplicitTransaction(func() error {
		adopted, err := r.n.mgr.adoptValue(v, r.n, field)
		if err != nil {
			return err
		}
		if old, ok := r.n.rec.fields[field]; ok {
			if child, ok := old.(*node); ok {
				child.detach()
			}
		} else {
			r.n.rec.order = append(r.n.rec.order, field)
		}
		r.n.rec.fields[field] = adopted
		return r.n.markDirty()
	})
}

// Delete removes field, detaching its child wrapper if it was one.
func (r Record) Delete(field string) error {
	return r.n.mgr.withImplicitTransaction(func() error {
		old, ok := r.n.rec.fields[field]
		if !ok {
			return nil
		}
		if child, ok := old.(*node); ok {
			child.detach()
		}
		delete(r.n.rec.fields, field)
		for i, name := range r.n.rec.order {
			if name == field {
				r.n.rec.order = append(r.n.rec.order[:i], r.n.rec.order[i+1:]...)
				break
			}
		}
		return r.n.markDirty()
	})
}

// IsLinked reports whether this wrapper is reachable from its
// Manager's root.
func (r Record) IsLinked() bool { return r.n.isLinked() }

// IsDirty reports whether this wrapper has pending uncommitted
// mutations.
func (r Record) IsDirty() bool { return r.n.dirty }
