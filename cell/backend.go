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

import "context"

// Version is an opaque, backend-assigned CAS token. Callers never
// construct or compare one except by equality; its only job is to come
// back out of Read/WaitForChange and go into TryWrite so the backend
// can detect a lost race. VersionAbsent is the token an empty cell
// reads back, distinct from any version a Write ever produces.
type Version string

// VersionAbsent is the Version a Backend returns from Read/WaitForChange
// when the cell has never been written, per spec §4.1's empty-cell case.
const VersionAbsent Version = ""

// Backend is the storage contract the engine drives: a single opaque
// cell holding (version, blob), grounded on memcp's PersistenceEngine
// (storage/persistence.go) — one small interface per storage concern,
// with concrete devices (file, S3, Ceph, in-process) implementing it
// the same way memcp has one PersistenceEngine per storage device.
//
// Unlike PersistenceEngine, which exposes many named slots (schema,
// column, log) because a database shards its state, a Backend here
// exposes exactly one slot: the spec models the whole value graph as a
// single versioned cell, and sharding that cell is a concern for a
// caller building many Managers, not for this interface.
type Backend interface {
	// Read returns the current blob and its version. An empty,
	// never-written cell returns (nil, VersionAbsent, nil).
	Read(ctx context.Context) ([]byte, Version, error)

	// Write unconditionally overwrites the cell and returns the new
	// version. Manager.Write uses it for every write made outside a
	// transaction (first population or intentional overwrite);
	// transaction commits use TryWrite.
	Write(ctx context.Context, blob []byte) (Version, error)

	// TryWrite performs a compare-and-swap: it writes blob only if the
	// cell's current version still equals expected, returning the new
	// version on success. On a lost race it returns
	// (VersionAbsent, false, nil) rather than an error — a failed CAS is
	// an ordinary outcome the engine interprets as a transaction
	// conflict, not a backend fault.
	TryWrite(ctx context.Context, expected Version, blob []byte) (Version, bool, error)

	// WaitForChange blocks until the cell's version differs from
	// since, or ctx is cancelled. It returns the new blob and version
	// the same way Read does. Backends that can't subscribe to change
	// notifications natively (S3, Ceph) implement this by polling.
	WaitForChange(ctx context.Context, since Version) ([]byte, Version, error)
}
