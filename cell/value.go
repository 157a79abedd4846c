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

// NodeKind identifies which of the five value-graph variants a node is.
// Leaf scalars never get their own NodeKind; they are carried as a bare
// Go value (nil, bool, int64, float64, string) wherever a child slot
// allows one.
type NodeKind uint8

const (
	KindSequence NodeKind = iota
	KindMapping
	KindSet
	KindBytes
	KindRecord
)

func (k NodeKind) String() string {
	switch k {
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindSet:
		return "set"
	case KindBytes:
		return "bytes"
	case KindRecord:
		return "record"
	default:
		return "unknown"
	}
}

// MapEntry is one key/value pair of a Value-tree mapping or record.
// Value holds either a scalar (bool/int64/float64/string/nil) or a
// nested *Value container. Mapping keys are restricted to strings in
// this Go rendition (the source language allows arbitrary hashable
// keys; Go's idiomatic map[string]any equivalent is the natural
// narrowing here, matching how memcp itself treats schema/record
// fields as string-keyed).
type MapEntry struct {
	Key   string
	Value any
}

// Value is the codec-level, wire-shaped rendition of one container node
// in the value graph: a plain tree with no parent links, dirty flags,
// or Manager back-references. Codec.Encode/Decode operate purely on
// Value trees; the Manager builds a live wrapper arena from a decoded
// Value and flattens the arena back into a Value at commit time.
//
// Children that are themselves containers are nested *Value pointers;
// children that are leaf scalars are plain Go values (nil, bool,
// int64, float64, string). A slot never holds anything else.
type Value struct {
	Kind NodeKind

	Bytes  []byte       // KindBytes payload
	Seq    []any        // KindSequence elements: scalar or *Value
	Map    []MapEntry   // KindMapping entries, order-preserving
	Set    []any        // KindSet leaf values (scalars only, per spec)
	Record *RecordValue // KindRecord payload
}

// RecordValue is the wire shape of a Record node: a named type tag plus
// its field values, so the codec can round-trip a record without
// needing Go reflection over the original user type.
type RecordValue struct {
	TypeName string
	Fields   []MapEntry
}

// isScalar reports whether v is a leaf value rather than a nested
// container. Used by both the codec and the arena builder to decide
// whether a Seq/Map/Record slot needs recursive wrapping.
func isScalar(v any) bool {
	if v == nil {
		return true
	}
	switch v.(type) {
	case bool, int64, float64, string:
		return true
	case *Value, []any, map[string]any, []byte, Fielder,
		Sequence, Mapping, Set, Bytes, Record:
		return false
	default:
		return true
	}
}
