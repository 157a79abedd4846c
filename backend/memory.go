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

// Package backend provides concrete cell.Backend implementations.
package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/launix-de/distcell/cell"
)

// Memory is an in-process cell.Backend: a single mutex-guarded cell
// plus a closed-channel broadcast for WaitForChange, grounded on the
// same mutex-plus-monotonic-counter idiom memcp's storage/
// transaction.go uses for its GlobalCommitEpoch/TxContext state
// (sync.Mutex guarding a struct, an incrementing counter standing in
// for a version), rather than on a keyed read-optimized map — this
// backend holds exactly one value, not many.
type Memory struct {
	mu      sync.Mutex
	version cell.Version
	blob    []byte
	seq     uint64
	changed chan struct{}
}

// NewMemory returns an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{changed: make(chan struct{})}
}

func (m *Memory) nextVersionLocked() cell.Version {
	m.seq++
	return cell.Version(fmt.Sprintf("v%d", m.seq))
}

// notifyLocked wakes every goroutine blocked in WaitForChange by
// closing the current signal channel and installing a fresh one, the
// standard Go broadcast-without-sync.Cond idiom.
func (m *Memory) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Memory) Read(ctx context.Context) ([]byte, cell.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version == cell.VersionAbsent {
		return nil, cell.VersionAbsent, nil
	}
	return append([]byte(nil), m.blob...), m.version, nil
}

func (m *Memory) Write(ctx context.Context, blob []byte) (cell.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version = m.nextVersionLocked()
	m.blob = append([]byte(nil), blob...)
	m.notifyLocked()
	return m.version, nil
}

func (m *Memory) TryWrite(ctx context.Context, expected cell.Version, blob []byte) (cell.Version, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version != expected {
		return cell.VersionAbsent, false, nil
	}
	m.version = m.nextVersionLocked()
	m.blob = append([]byte(nil), blob...)
	m.notifyLocked()
	return m.version, true, nil
}

func (m *Memory) WaitForChange(ctx context.Context, since cell.Version) ([]byte, cell.Version, error) {
	for {
		m.mu.Lock()
		if m.version != since {
			blob := append([]byte(nil), m.blob...)
			version := m.version
			m.mu.Unlock()
			return blob, version, nil
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, cell.VersionAbsent, ctx.Err()
		}
	}
}
