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
package backend

import (
	"context"
	"testing"
	"time"

	"github.com/launix-de/distcell/cell"
)

func TestMemoryReadEmpty(t *testing.T) {
	m := NewMemory()
	blob, version, err := m.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if blob != nil || version != cell.VersionAbsent {
		t.Fatalf("expected empty cell, got blob=%v version=%v", blob, version)
	}
}

func TestMemoryWriteThenRead(t *testing.T) {
	m := NewMemory()
	version, err := m.Write(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	blob, version2, err := m.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(blob) != "hello" || version2 != version {
		t.Fatalf("read did not reflect write: blob=%q version=%v", blob, version2)
	}
}

func TestMemoryTryWriteRejectsStaleVersion(t *testing.T) {
	m := NewMemory()
	v1, err := m.Write(context.Background(), []byte("a"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := m.Write(context.Background(), []byte("b")); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, ok, err := m.TryWrite(context.Background(), v1, []byte("c"))
	if err != nil {
		t.Fatalf("try_write: %v", err)
	}
	if ok {
		t.Fatalf("expected try_write against stale version to fail")
	}
}

func TestMemoryTryWriteAcceptsCurrentVersion(t *testing.T) {
	m := NewMemory()
	v1, err := m.Write(context.Background(), []byte("a"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	v2, ok, err := m.TryWrite(context.Background(), v1, []byte("b"))
	if err != nil {
		t.Fatalf("try_write: %v", err)
	}
	if !ok || v2 == v1 {
		t.Fatalf("expected successful try_write with a fresh version")
	}
}

func TestMemoryWaitForChangeWakesOnWrite(t *testing.T) {
	m := NewMemory()
	_, since, err := m.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	done := make(chan struct{})
	var blob []byte
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b, _, werr := m.WaitForChange(ctx, since)
		if werr == nil {
			blob = b
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := m.Write(context.Background(), []byte("changed")); err != nil {
		t.Fatalf("write: %v", err)
	}

	<-done
	if string(blob) != "changed" {
		t.Fatalf("expected wait_for_change to observe the write, got %q", blob)
	}
}

func TestMemoryWaitForChangeHonorsCancellation(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := m.WaitForChange(ctx, cell.VersionAbsent); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}
