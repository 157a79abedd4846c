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
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeBackend is a minimal in-package Backend so cell tests do not
// need to import the backend package (which itself imports cell).
type fakeBackend struct {
	mu      sync.Mutex
	version Version
	blob    []byte
	seq     uint64
	changed chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{changed: make(chan struct{})}
}

func (f *fakeBackend) nextLocked() Version {
	f.seq++
	return Version(fmt.Sprintf("v%d", f.seq))
}

func (f *fakeBackend) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *fakeBackend) Read(ctx context.Context) ([]byte, Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.version == VersionAbsent {
		return nil, VersionAbsent, nil
	}
	return append([]byte(nil), f.blob...), f.version, nil
}

func (f *fakeBackend) Write(ctx context.Context, blob []byte) (Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version = f.nextLocked()
	f.blob = append([]byte(nil), blob...)
	f.notifyLocked()
	return f.version, nil
}

func (f *fakeBackend) TryWrite(ctx context.Context, expected Version, blob []byte) (Version, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.version != expected {
		return VersionAbsent, false, nil
	}
	f.version = f.nextLocked()
	f.blob = append([]byte(nil), blob...)
	f.notifyLocked()
	return f.version, true, nil
}

func (f *fakeBackend) WaitForChange(ctx context.Context, since Version) ([]byte, Version, error) {
	for {
		f.mu.Lock()
		if f.version != since {
			blob, version := append([]byte(nil), f.blob...), f.version
			f.mu.Unlock()
			return blob, version, nil
		}
		ch := f.changed
		f.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, VersionAbsent, ctx.Err()
		}
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(newFakeBackend())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(mgr.Close)
	return mgr
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.Write(map[string]any{"a": int64(1), "b": []any{int64(2), int64(3)}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	root, err := mgr.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m, ok := root.(Mapping)
	if !ok {
		t.Fatalf("expected Mapping, got %T", root)
	}
	a, _ := m.Get("a")
	if a.(int64) != 1 {
		t.Fatalf("expected a=1, got %v", a)
	}
	bv, _ := m.Get("b")
	seq, ok := bv.(Sequence)
	if !ok {
		t.Fatalf("expected Sequence, got %T", bv)
	}
	if seq.Len() != 2 || seq.Get(0).(int64) != 2 {
		t.Fatalf("unexpected sequence contents: len=%d", seq.Len())
	}
}

func TestEmptyCellReadFails(t *testing.T) {
	mgr := newTestManager(t)
	if _, err := mgr.Read(); !IsEmptyCell(err) {
		t.Fatalf("expected empty-cell error, got %v", err)
	}
}

func TestTransactionCommitPersistsMutation(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.Write(map[string]any{"n": int64(0)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	tx := mgr.Transaction()
	root, err := mgr.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m := root.(Mapping)
	if err := m.Set("n", int64(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap, err := mgr.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	got := snap.(map[string]any)["n"]
	if got.(int64) != 1 {
		t.Fatalf("expected n=1 after commit, got %v", got)
	}
}

func TestTransactionRollbackDiscardsMutation(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.Write(map[string]any{"n": int64(0)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	tx := mgr.Transaction()
	root, _ := mgr.Read()
	m := root.(Mapping)
	if err := m.Set("n", int64(99)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	snap, err := mgr.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	got := snap.(map[string]any)["n"]
	if got.(int64) != 0 {
		t.Fatalf("expected n=0 after rollback, got %v", got)
	}
}

func TestMutationOnDetachedWrapperFails(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.Write(map[string]any{"n": int64(0), "child": map[string]any{"x": int64(1)}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	root, err := mgr.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m := root.(Mapping)
	child, _ := m.Get("child")
	childMap := child.(Mapping)

	if err := m.Delete("child"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := childMap.Set("x", int64(2)); !IsDetached(err) {
		t.Fatalf("expected detached-mutation error, got %v", err)
	}
}

func TestConcurrentRetrySettlesOnSharedCounter(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.Write(map[string]any{"n": int64(0)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	const goroutines = 5
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := Retry(mgr, func(tx *Transaction) error {
				root, err := mgr.Read()
				if err != nil {
					return err
				}
				m := root.(Mapping)
				n, _ := m.Get("n")
				return m.Set("n", n.(int64)+1)
			})
			if err != nil {
				t.Errorf("retry failed: %v", err)
			}
		}()
	}
	wg.Wait()

	snap, err := mgr.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	got := snap.(map[string]any)["n"].(int64)
	if got != goroutines {
		t.Fatalf("expected n=%d, got %d", goroutines, got)
	}
}

func TestNestedTransactionOnlyOutermostCommits(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.Write(map[string]any{"n": int64(0)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	outer := mgr.Transaction()
	inner := outer.Nested()

	root, _ := mgr.Read()
	m := root.(Mapping)
	if err := m.Set("n", int64(5)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := inner.Commit(); err != nil {
		t.Fatalf("inner commit: %v", err)
	}

	// Not yet visible to a fresh read from the backend: only the
	// outermost commit performs the backend try_write.
	if _, v, err := mgr.backend.Read(context.Background()); err != nil || v != outer.baseline {
		t.Fatalf("inner commit reached the backend: version=%v err=%v", v, err)
	}
	if err := outer.Commit(); err != nil {
		t.Fatalf("outer commit: %v", err)
	}

	snap, err := mgr.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.(map[string]any)["n"].(int64) != 5 {
		t.Fatalf("expected n=5 after outer commit")
	}
}

func TestRefreshPicksUpExternalWrite(t *testing.T) {
	backend := newFakeBackend()
	mgr, err := NewManager(backend)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Write(map[string]any{"n": int64(1)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	blob := mustEncode(t, map[string]any{"n": int64(2)})
	if _, err := backend.Write(context.Background(), blob); err != nil {
		t.Fatalf("external write: %v", err)
	}

	root, err := mgr.Refresh()
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	m := root.(Mapping)
	n, _ := m.Get("n")
	if n.(int64) != 2 {
		t.Fatalf("expected refreshed n=2, got %v", n)
	}
}

// TestStaleCommitDetectsConflictThenRefreshYieldsWinner covers the
// detected-conflict scenario: participant A opens a transaction and
// buffers an increment over the baseline, participant B (writing
// straight to the shared backend) advances the cell first, and A's
// commit must lose the compare-and-swap race and report a
// transaction-conflict. A subsequent refresh must then observe B's
// value. This is the only exercise of Transaction.Commit's CAS-miss
// branch.
func TestStaleCommitDetectsConflictThenRefreshYieldsWinner(t *testing.T) {
	fb := newFakeBackend()
	mgr, err := NewManager(fb)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Write(map[string]any{"n": int64(0)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	tx := mgr.Transaction()
	root, err := mgr.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m := root.(Mapping)
	n, _ := m.Get("n")
	if err := m.Set("n", n.(int64)+1); err != nil {
		t.Fatalf("set: %v", err)
	}

	// B writes straight to the shared backend, behind A's back, over
	// the same baseline A's transaction captured.
	winner := mustEncode(t, map[string]any{"n": int64(100)})
	if _, err := fb.Write(context.Background(), winner); err != nil {
		t.Fatalf("external write: %v", err)
	}

	if err := tx.Commit(); !IsConflict(err) {
		t.Fatalf("expected transaction-conflict, got %v", err)
	}

	refreshed, err := mgr.Refresh()
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got, _ := refreshed.(Mapping).Get("n")
	if got.(int64) != 100 {
		t.Fatalf("expected refresh to yield the winner's value 100, got %v", got)
	}
}

// TestWatcherRefreshesWithoutExplicitRefresh covers the watcher-driven
// scenario: once the background watcher has picked up a write made
// directly to the backend, a plain Read (no explicit Refresh call)
// must observe it.
func TestWatcherRefreshesWithoutExplicitRefresh(t *testing.T) {
	fb := newFakeBackend()
	mgr, err := NewManager(fb)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Write(map[string]any{"n": int64(1)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	blob := mustEncode(t, map[string]any{"n": int64(2)})
	if _, err := fb.Write(context.Background(), blob); err != nil {
		t.Fatalf("external write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		root, err := mgr.Read()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		n, _ := root.(Mapping).Get("n")
		if n.(int64) == 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher did not pick up the external write before the deadline, last n=%v", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// mustEncode produces the wire blob for a plain value via a scratch
// Manager, for tests that need to inject an "external" write directly
// into a fakeBackend.
func mustEncode(t *testing.T, plain any) []byte {
	t.Helper()
	scratch := newTestManager(t)
	if err := scratch.Write(plain); err != nil {
		t.Fatalf("scratch write: %v", err)
	}
	blob, _, err := scratch.backend.Read(context.Background())
	if err != nil {
		t.Fatalf("scratch read: %v", err)
	}
	return blob
}
