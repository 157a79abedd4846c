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
	"bytes"
	"encoding/json"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Codec is the opaque encode/decode boundary between the value graph
// and the bytes a Backend stores, per spec §4.2/§6. The engine never
// inspects the blob; only Encode/Decode round-tripping matters.
type Codec interface {
	Encode(v *Value) ([]byte, error)
	Decode(blob []byte) (*Value, error)
}

// jsonValue is the on-the-wire shape for one Value node: a type tag
// plus only the fields relevant to that tag, grounded on memcp's
// storage/json.go and storage/storage-scmer.go convention of a
// self-describing tagged envelope rather than Go's default struct
// marshaling (which can't represent a recursive sum type cleanly).
type jsonValue struct {
	T string `json:"t"`

	Bytes  []byte          `json:"b,omitempty"`
	Seq    []json.RawMessage `json:"s,omitempty"`
	Map    []jsonMapEntry  `json:"m,omitempty"`
	Set    []json.RawMessage `json:"x,omitempty"`
	Record *jsonRecord     `json:"r,omitempty"`
}

type jsonMapEntry struct {
	K string          `json:"k"`
	V json.RawMessage `json:"v"`
}

type jsonRecord struct {
	Type   string         `json:"type"`
	Fields []jsonMapEntry `json:"fields"`
}

// jsonCodec is the default, always-available Codec. It is deliberately
// unremarkable: a tagged envelope over encoding/json, the same
// dependency memcp itself reaches for throughout storage/*.go.
type jsonCodec struct{}

// NewJSONCodec returns the reference Codec implementation.
func NewJSONCodec() Codec { return jsonCodec{} }

func (jsonCodec) Encode(v *Value) ([]byte, error) {
	raw, err := encodeAny(v)
	if err != nil {
		return nil, wrapError(KindCodec, "encode value graph", err)
	}
	return raw, nil
}

func (jsonCodec) Decode(blob []byte) (*Value, error) {
	v, err := decodeValue(blob)
	if err != nil {
		return nil, wrapError(KindCodec, "decode value graph", err)
	}
	return v, nil
}

// encodeAny marshals either a scalar or a *Value into a JSON fragment.
func encodeAny(v any) ([]byte, error) {
	switch x := v.(type) {
	case *Value:
		return encodeValue(x)
	default:
		return json.Marshal(x)
	}
}

func encodeValue(v *Value) ([]byte, error) {
	jv := jsonValue{T: v.Kind.String()}
	switch v.Kind {
	case KindBytes:
		jv.Bytes = v.Bytes
	case KindSequence:
		jv.Seq = make([]json.RawMessage, len(v.Seq))
		for i, el := range v.Seq {
			raw, err := encodeAny(el)
			if err != nil {
				return nil, err
			}
			jv.Seq[i] = raw
		}
	case KindMapping:
		jv.Map = make([]jsonMapEntry, len(v.Map))
		for i, e := range v.Map {
			raw, err := encodeAny(e.Value)
			if err != nil {
				return nil, err
			}
			jv.Map[i] = jsonMapEntry{K: e.Key, V: raw}
		}
	case KindSet:
		jv.Set = make([]json.RawMessage, len(v.Set))
		for i, el := range v.Set {
			raw, err := encodeAny(el)
			if err != nil {
				return nil, err
			}
			jv.Set[i] = raw
		}
	case KindRecord:
		jr := &jsonRecord{Type: v.Record.TypeName}
		jr.Fields = make([]jsonMapEntry, len(v.Record.Fields))
		for i, e := range v.Record.Fields {
			raw, err := encodeAny(e.Value)
			if err != nil {
				return nil, err
			}
			jr.Fields[i] = jsonMapEntry{K: e.Key, V: raw}
		}
		jv.Record = jr
	}
	return json.Marshal(jv)
}

func decodeValue(blob []byte) (*Value, error) {
	v, err := decodeAny(blob)
	if err != nil {
		return nil, err
	}
	value, ok := v.(*Value)
	if !ok {
		return nil, newError(KindCodec, "top-level blob did not decode to a container")
	}
	return value, nil
}

// decodeAny decodes one JSON fragment into either a scalar (bool,
// int64, float64, string, nil) or a *Value container, peeking at the first
// non-whitespace byte to tell a tagged envelope object from a scalar.
func decodeAny(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		var scalar any
		if err := json.Unmarshal(raw, &scalar); err != nil {
			return nil, err
		}
		return normalizeScalar(scalar), nil
	}
	var jv jsonValue
	if err := json.Unmarshal(raw, &jv); err != nil {
		return nil, err
	}
	v := &Value{}
	switch jv.T {
	case KindSequence.String():
		v.Kind = KindSequence
		v.Seq = make([]any, len(jv.Seq))
		for i, raw := range jv.Seq {
			el, err := decodeAny(raw)
			if err != nil {
				return nil, err
			}
			v.Seq[i] = el
		}
	case KindMapping.String():
		v.Kind = KindMapping
		v.Map = make([]MapEntry, len(jv.Map))
		for i, e := range jv.Map {
			val, err := decodeAny(e.V)
			if err != nil {
				return nil, err
			}
			v.Map[i] = MapEntry{Key: e.K, Value: val}
		}
	case KindSet.String():
		v.Kind = KindSet
		v.Set = make([]any, len(jv.Set))
		for i, raw := range jv.Set {
			el, err := decodeAny(raw)
			if err != nil {
				return nil, err
			}
			v.Set[i] = el
		}
	case KindBytes.String():
		v.Kind = KindBytes
		v.Bytes = jv.Bytes
	case KindRecord.String():
		v.Kind = KindRecord
		if jv.Record == nil {
			return nil, newError(KindCodec, "record envelope missing payload")
		}
		rv := &RecordValue{TypeName: jv.Record.Type}
		rv.Fields = make([]MapEntry, len(jv.Record.Fields))
		for i, e := range jv.Record.Fields {
			val, err := decodeAny(e.V)
			if err != nil {
				return nil, err
			}
			rv.Fields[i] = MapEntry{Key: e.K, Value: val}
		}
		v.Record = rv
	default:
		return nil, newError(KindCodec, "unknown node kind tag: "+jv.T)
	}
	return v, nil
}

// normalizeScalar narrows encoding/json's default decode types (which
// only produces float64/string/bool/nil/[]any/map[string]any for
// scalars) to the set the rest of this package matches on: int64
// where the JSON number is exactly integral, float64 otherwise.
func normalizeScalar(v any) any {
	if f, ok := v.(float64); ok {
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	}
	return v
}

// CompressedCodec wraps another Codec and pipes its encoded blob
// through LZ4, grounded on memcp's storage/storage_compress_test.go
// and its pierrec/lz4 dependency. Useful for backends billed by
// stored bytes (S3, Ceph) where the value graph is text-heavy.
type CompressedCodec struct {
	Inner Codec
}

// NewCompressedCodec wraps inner with LZ4 framing.
func NewCompressedCodec(inner Codec) Codec {
	return CompressedCodec{Inner: inner}
}

func (c CompressedCodec) Encode(v *Value) ([]byte, error) {
	raw, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, wrapError(KindCodec, "lz4 compress", err)
	}
	if err := zw.Close(); err != nil {
		return nil, wrapError(KindCodec, "lz4 compress", err)
	}
	return buf.Bytes(), nil
}

func (c CompressedCodec) Decode(blob []byte) (*Value, error) {
	zr := lz4.NewReader(bytes.NewReader(blob))
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, wrapError(KindCodec, "lz4 decompress", err)
	}
	return c.Inner.Decode(raw)
}
