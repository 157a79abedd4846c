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
	"path/filepath"
	"testing"
	"time"

	"github.com/launix-de/distcell/cell"
)

func TestFileReadEmpty(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "cell.bin"), 50*time.Millisecond)
	blob, version, err := f.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if blob != nil || version != cell.VersionAbsent {
		t.Fatalf("expected empty cell, got blob=%v version=%v", blob, version)
	}
}

func TestFileWriteThenRead(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "cell.bin"), 50*time.Millisecond)
	version, err := f.Write(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	blob, version2, err := f.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(blob) != "payload" || version2 != version {
		t.Fatalf("read did not reflect write: blob=%q version=%v", blob, version2)
	}
}

func TestFileTryWriteRejectsStaleVersion(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "cell.bin"), 50*time.Millisecond)
	v1, err := f.Write(context.Background(), []byte("a"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := f.Write(context.Background(), []byte("b")); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, ok, err := f.TryWrite(context.Background(), v1, []byte("c"))
	if err != nil {
		t.Fatalf("try_write: %v", err)
	}
	if ok {
		t.Fatalf("expected try_write against stale version to fail")
	}
}

func TestFileTryWriteOnAbsentCell(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "cell.bin"), 50*time.Millisecond)
	version, ok, err := f.TryWrite(context.Background(), cell.VersionAbsent, []byte("first"))
	if err != nil {
		t.Fatalf("try_write: %v", err)
	}
	if !ok || version == cell.VersionAbsent {
		t.Fatalf("expected try_write on empty cell to succeed with a fresh version")
	}
}

func TestFileWaitForChangePicksUpWrite(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "cell.bin"), 30*time.Millisecond)
	_, since, err := f.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	done := make(chan []byte, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		blob, _, werr := f.WaitForChange(ctx, since)
		if werr == nil {
			done <- blob
		} else {
			done <- nil
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := f.Write(context.Background(), []byte("changed")); err != nil {
		t.Fatalf("write: %v", err)
	}

	blob := <-done
	if string(blob) != "changed" {
		t.Fatalf("expected wait_for_change to observe the write, got %q", blob)
	}
}
