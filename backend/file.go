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
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/launix-de/distcell/cell"
)

// File is a cell.Backend that stores the cell as a single file,
// replaced atomically by writing a temporary sibling and renaming it
// over the original — the same convention memcp's FileStorage
// (storage/persistence-files.go) uses for schema.json, plus an
// gofrs/flock advisory lock to serialize try_write across processes
// on the same filesystem and an fsnotify watch, falling back to
// polling, to implement wait_for_change (§4.1/§6's file-backend
// contract).
//
// On-disk shape: a version line (one fmt.Sprintf("%s\n", uuid)),
// followed by the raw blob. The version is an opaque random token
// rather than a content hash, matching the backend contract's
// "distinguishable, not necessarily monotonic" requirement.
type File struct {
	path         string
	lock         *flock.Flock
	pollInterval time.Duration
}

// NewFile returns a File backend persisting the cell at path.
// pollInterval bounds how long WaitForChange may take to notice a
// change when the platform's file-change notification is unavailable
// or misses an event; fsnotify is still tried first.
func NewFile(path string, pollInterval time.Duration) *File {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &File{
		path:         path,
		lock:         flock.New(path + ".lock"),
		pollInterval: pollInterval,
	}
}

func (f *File) readCell() ([]byte, cell.Version, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, cell.VersionAbsent, nil
	}
	if err != nil {
		return nil, cell.VersionAbsent, err
	}
	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return nil, cell.VersionAbsent, fmt.Errorf("file backend: malformed cell file %s", f.path)
	}
	version := cell.Version(raw[:nl])
	blob := append([]byte(nil), raw[nl+1:]...)
	return blob, version, nil
}

// writeCellAtomic writes version+blob to a temporary sibling of
// f.path and renames it into place, the same temp-then-rename
// sequence memcp's WriteSchema uses for schema.json.
func (f *File) writeCellAtomic(version cell.Version, blob []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(string(version) + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}

func (f *File) Read(ctx context.Context) ([]byte, cell.Version, error) {
	if err := f.lock.Lock(); err != nil {
		return nil, cell.VersionAbsent, err
	}
	defer f.lock.Unlock()
	return f.readCell()
}

func (f *File) Write(ctx context.Context, blob []byte) (cell.Version, error) {
	if err := f.lock.Lock(); err != nil {
		return cell.VersionAbsent, err
	}
	defer f.lock.Unlock()
	version := cell.Version(uuid.NewString())
	if err := f.writeCellAtomic(version, blob); err != nil {
		return cell.VersionAbsent, err
	}
	return version, nil
}

func (f *File) TryWrite(ctx context.Context, expected cell.Version, blob []byte) (cell.Version, bool, error) {
	if err := f.lock.Lock(); err != nil {
		return cell.VersionAbsent, false, err
	}
	defer f.lock.Unlock()

	_, current, err := f.readCell()
	if err != nil {
		return cell.VersionAbsent, false, err
	}
	if current != expected {
		return cell.VersionAbsent, false, nil
	}
	version := cell.Version(uuid.NewString())
	if err := f.writeCellAtomic(version, blob); err != nil {
		return cell.VersionAbsent, false, err
	}
	return version, true, nil
}

// WaitForChange prefers an fsnotify watch on the cell's directory,
// falling back to polling at pollInterval when fsnotify setup fails
// or a change-implying event does not arrive (spurious wake-ups from
// either path are fine: the caller re-validates by version).
func (f *File) WaitForChange(ctx context.Context, since cell.Version) ([]byte, cell.Version, error) {
	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(f.path)); err != nil {
			watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		blob, version, err := f.Read(ctx)
		if err != nil {
			return nil, cell.VersionAbsent, err
		}
		if version != since {
			return blob, version, nil
		}

		if watcher != nil {
			select {
			case <-watcher.Events:
			case <-watcher.Errors:
			case <-ticker.C:
			case <-ctx.Done():
				return nil, cell.VersionAbsent, ctx.Err()
			}
		} else {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil, cell.VersionAbsent, ctx.Err()
			}
		}
	}
}
