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

// Bytes is the mutation-tracking proxy for a mutable byte-buffer leaf
// node (§3, §4.3).
type Bytes struct{ n *node }

// Len returns the number of bytes.
func (b Bytes) Len() int { return len(b.n.raw) }

// Get returns a copy of the current contents.
func (b Bytes) Get() []byte { return append([]byte(nil), b.n.raw...) }

// At returns the byte at index i.
func (b Bytes) At(i int) byte { return b.n.raw[i] }

// SetAt replaces the byte at index i.
func (b Bytes) SetAt(i int, v byte) error {
	return b.n.mgr.withImplicitTransaction(func() error {
		b.n.raw[i] = v
		return b.n.markDirty()
	})
}

// SliceSet replaces the half-open range [lo, hi) with vs.
func (b Bytes) SliceSet(lo, hi int, vs []byte) error {
	return b.n.mgr.withImplicitTransaction(func() error {
		if lo < 0 || hi > len(b.n.raw) || lo > hi {
			return newError(KindCodec, "bytes slice bounds out of range")
		}
		tail := append([]byte(nil), b.n.raw[hi:]...)
		b.n.raw = append(b.n.raw[:lo], vs...)
		b.n.raw = append(b.n.raw, tail...)
		return b.n.markDirty()
	})
}

// Append adds vs to the end of the buffer.
func (b Bytes) Append(vs []byte) error {
	return b.n.mgr.withImplicitTransaction(func() error {
		b.n.raw = append(b.n.raw, vs...)
		return b.n.markDirty()
	})
}

// Truncate shrinks the buffer to n bytes.
func (b Bytes) Truncate(n int) error {
	return b.n.mgr.withImplicitTransaction(func() error {
		if n < 0 || n > len(b.n.raw) {
			return newError(KindCodec, "bytes truncate length out of range")
		}
		b.n.raw = b.n.raw[:n]
		return b.n.markDirty()
	})
}

// IsLinked reports whether this wrapper is reachable from its
// Manager's root.
func (b Bytes) IsLinked() bool { return b.n.isLinked() }

// IsDirty reports whether this wrapper has pending uncommitted
// mutations.
func (b Bytes) IsDirty() bool { return b.n.dirty }
