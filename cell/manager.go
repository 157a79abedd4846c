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
	"sync"
	"time"

	"github.com/dc0d/onexit"
	"github.com/google/uuid"
)

// Manager is the per-participant coordinator owning one value graph and
// its watcher (§4.6). It wraps arbitrary user values in mutation-
// tracking proxies, buffers mutations inside transactions, and drives
// optimistic-CAS commits against a Backend.
type Manager struct {
	backend Backend
	codec   Codec
	logger  Logger

	// mu is the engine mutex (§5): protects the cache (root, version,
	// hasValue), the arena, and the transaction frame stack. It is held
	// only briefly, never across a transaction body.
	mu       sync.Mutex
	root     *node
	arena    map[uuid.UUID]*node
	version  Version
	hasValue bool

	txDepth        int
	txStack        []*txFrame
	pendingRefresh bool

	// txSerialize is a Go-specific addition, not present in spec.md:
	// the source language's model lets multiple participants mutate a
	// shared wrapper graph concurrently between a transaction's entry
	// and its commit, relying on the host runtime's own protection
	// (e.g. a GIL) to keep that safe. Go has no such protection, so an
	// unsynchronized concurrent mutation of the shared node graph would
	// be a data race. txSerialize is held for the full duration of an
	// outermost transaction (acquired in Transaction, released in the
	// outermost Commit/Rollback), serializing transaction bodies
	// system-wide per Manager. Every invariant and testable property in
	// spec.md §8 still holds under this narrowing; see DESIGN.md.
	txSerialize sync.Mutex

	watcherBackoff time.Duration
	watcherCancel  context.CancelFunc
	watcherDone    chan struct{}
	closeOnce      sync.Once
}

// txFrame is one entry of the transaction frame stack, grounded on
// memcp's Savepoint (storage/transaction.go): it records enough state
// to give a failed nested transaction a best-effort, partial undo,
// per §4.5's explicit relaxation ("full deep rollback ... is NOT
// guaranteed for nested scopes").
type txFrame struct {
	touched  map[*node]bool // node -> its dirty flag before this frame first touched it
	detached []*node        // nodes detached while this frame was open
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithCodec overrides the default JSON codec.
func WithCodec(c Codec) Option { return func(m *Manager) { m.codec = c } }

// WithLogger overrides the default standard-library logger.
func WithLogger(l Logger) Option { return func(m *Manager) { m.logger = l } }

// WithWatcherBackoff sets how long the watcher sleeps after a
// Backend.WaitForChange error before retrying (default 1s).
func WithWatcherBackoff(d time.Duration) Option {
	return func(m *Manager) { m.watcherBackoff = d }
}

// NewManager constructs a Manager over backend, performs an initial
// refresh, and starts its watcher goroutine.
func NewManager(backend Backend, opts ...Option) (*Manager, error) {
	mgr := &Manager{
		backend:        backend,
		codec:          NewJSONCodec(),
		logger:         defaultLogger(),
		arena:          make(map[uuid.UUID]*node),
		watcherBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(mgr)
	}

	mgr.mu.Lock()
	err := mgr.refreshLocked()
	mgr.mu.Unlock()
	if err != nil {
		return nil, err
	}

	mgr.startWatcher()

	// Register a process-exit safety net for the watcher goroutine,
	// the same role onexit.Register plays for memcp's trace file
	// (storage/settings.go): a caller that forgets Close should not
	// leave the watcher's backend connection dangling past exit.
	onexit.Register(mgr.Close)

	return mgr, nil
}

// Close stops the watcher goroutine and waits for it to exit. It is
// safe to call more than once.
func (mgr *Manager) Close() {
	mgr.closeOnce.Do(func() {
		if mgr.watcherCancel == nil {
			return
		}
		mgr.watcherCancel()
		<-mgr.watcherDone
	})
}

// Read returns the cached root wrapper, refreshing first if the
// Manager has never successfully populated its cache (§4.6).
func (mgr *Manager) Read() (any, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if !mgr.hasValue {
		if err := mgr.refreshLocked(); err != nil {
			return nil, err
		}
	}
	if !mgr.hasValue {
		return nil, newError(KindEmptyCell, "backend holds no value")
	}
	return wrapChild(mgr.root), nil
}

// Refresh forces a re-read from the backend, replacing the cached
// tree. It fails with KindRefreshDuringTransaction if a transaction is
// open (§4.6).
func (mgr *Manager) Refresh() (any, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.txDepth > 0 {
		return nil, newError(KindRefreshDuringTransaction, "refresh called while a transaction is open")
	}
	if err := mgr.refreshLocked(); err != nil {
		return nil, err
	}
	if !mgr.hasValue {
		return nil, newError(KindEmptyCell, "backend holds no value")
	}
	return wrapChild(mgr.root), nil
}

// Write replaces the whole value graph. Outside any transaction this
// unconditionally overwrites the backend cell; inside one it only
// replaces the buffered root, to be picked up by the outermost commit
// (§4.6).
func (mgr *Manager) Write(value any) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.txDepth > 0 {
		return mgr.replaceRootLocked(value)
	}

	newRoot, err := mgr.buildFromPlain(value)
	if err != nil {
		return err
	}
	val, err := mgr.flatten(newRoot)
	if err != nil {
		return err
	}
	blob, err := mgr.codec.Encode(val)
	if err != nil {
		return wrapError(KindCodec, "encode value", err)
	}
	version, err := mgr.backend.Write(context.Background(), blob)
	if err != nil {
		return wrapError(KindBackendIO, "write", err)
	}
	if mgr.root != nil {
		mgr.root.detach()
	}
	mgr.root = newRoot
	mgr.version = version
	mgr.hasValue = true
	return nil
}

// TryWrite performs an unconditional CAS against the backend,
// bypassing the transaction machinery entirely — an escape hatch for
// callers that want to race a known expected version directly (§4.6).
func (mgr *Manager) TryWrite(value any, expected Version) (bool, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	newRoot, err := mgr.buildFromPlain(value)
	if err != nil {
		return false, err
	}
	val, err := mgr.flatten(newRoot)
	if err != nil {
		return false, err
	}
	blob, err := mgr.codec.Encode(val)
	if err != nil {
		return false, wrapError(KindCodec, "encode value", err)
	}
	version, ok, err := mgr.backend.TryWrite(context.Background(), expected, blob)
	if err != nil {
		return false, wrapError(KindBackendIO, "try_write", err)
	}
	if !ok {
		return false, nil
	}
	if mgr.root != nil {
		mgr.root.detach()
	}
	mgr.root = newRoot
	mgr.version = version
	mgr.hasValue = true
	return true, nil
}

// Snapshot returns an unwrapped, deep plain copy of the current cached
// tree; mutating the result has no effect on distributed state (§4.6).
func (mgr *Manager) Snapshot() (any, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if !mgr.hasValue {
		return nil, newError(KindEmptyCell, "backend holds no value")
	}
	val, err := mgr.flatten(mgr.root)
	if err != nil {
		return nil, err
	}
	return plainFromValue(val), nil
}

// IsLinked reports whether wrapper is reachable from this Manager's
// root (§4.6). wrapper must be one of Sequence/Mapping/Set/Bytes/Record.
func (mgr *Manager) IsLinked(wrapper any) bool {
	n := unwrapHandle(wrapper)
	return n != nil && n.isLinked()
}

// IsDirty reports whether wrapper has pending uncommitted mutations
// (§4.6).
func (mgr *Manager) IsDirty(wrapper any) bool {
	n := unwrapHandle(wrapper)
	return n != nil && n.dirty
}

// PruneDetached drops arena bookkeeping for nodes that are no longer
// reachable from the root, returning the number of entries removed.
// This is a supplemented feature (not in spec.md's distilled text,
// analogous to memcp's storage/blob-refcount.go) that keeps a
// long-lived Manager's arena from growing by one entry per historical
// detachment. It is safe to call at any time: the arena is only an
// auxiliary handle index, never the sole owner of a *node — a wrapper
// the caller still holds keeps its node reachable through Go's own
// garbage collector regardless of arena membership.
func (mgr *Manager) PruneDetached() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	removed := 0
	for handle, n := range mgr.arena {
		if n.detached {
			delete(mgr.arena, handle)
			removed++
		}
	}
	return removed
}

// replaceRootLocked implements the in-transaction branch of Write.
// Callers must hold mgr.mu.
func (mgr *Manager) replaceRootLocked(value any) error {
	newRoot, err := mgr.buildFromPlain(value)
	if err != nil {
		return err
	}
	oldRoot := mgr.root
	mgr.root = newRoot
	if oldRoot != nil {
		oldRoot.detach()
	}
	return newRoot.markDirty()
}

// refreshLocked re-reads the backend and rebuilds the cached tree.
// Callers must hold mgr.mu.
func (mgr *Manager) refreshLocked() error {
	blob, version, err := mgr.backend.Read(context.Background())
	if err != nil {
		return wrapError(KindBackendIO, "read", err)
	}
	return mgr.installDecoded(blob, version)
}

// installDecoded decodes blob and swaps it in as the cached root.
// Callers must hold mgr.mu.
func (mgr *Manager) installDecoded(blob []byte, version Version) error {
	if version == VersionAbsent && blob == nil {
		mgr.root = nil
		mgr.hasValue = false
		mgr.version = VersionAbsent
		return nil
	}
	val, err := mgr.codec.Decode(blob)
	if err != nil {
		return wrapError(KindCodec, "decode value graph", err)
	}
	newRoot, err := mgr.buildTree(val)
	if err != nil {
		return err
	}
	if mgr.root != nil {
		mgr.root.detach()
	}
	mgr.root = newRoot
	mgr.version = version
	mgr.hasValue = true
	return nil
}

// currentVersion returns the cached version under lock, for the
// watcher's initial WaitForChange baseline.
func (mgr *Manager) currentVersion() Version {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.version
}

// buildTree recursively builds a freshly linked node tree from a
// decoded Value, registering every node in the arena (the decode-path
// counterpart to flatten).
func (mgr *Manager) buildTree(v *Value) (*node, error) {
	switch v.Kind {
	case KindSequence:
		n := newNode(mgr, KindSequence)
		mgr.register(n)
		n.seq = make([]any, len(v.Seq))
		for i, el := range v.Seq {
			child, err := mgr.buildChild(el, n, i)
			if err != nil {
				return nil, err
			}
			n.seq[i] = child
		}
		return n, nil
	case KindMapping:
		n := newNode(mgr, KindMapping)
		mgr.register(n)
		for _, e := range v.Map {
			child, err := mgr.buildChild(e.Value, n, e.Key)
			if err != nil {
				return nil, err
			}
			n.mp.set(e.Key, child)
		}
		return n, nil
	case KindSet:
		n := newNode(mgr, KindSet)
		mgr.register(n)
		for _, el := range v.Set {
			n.set.add(el)
		}
		return n, nil
	case KindBytes:
		n := newNode(mgr, KindBytes)
		n.raw = append([]byte(nil), v.Bytes...)
		mgr.register(n)
		return n, nil
	case KindRecord:
		n := newNode(mgr, KindRecord)
		mgr.register(n)
		if v.Record == nil {
			return nil, newError(KindCodec, "record value missing payload")
		}
		n.rec.typeName = v.Record.TypeName
		for _, e := range v.Record.Fields {
			child, err := mgr.buildChild(e.Value, n, e.Key)
			if err != nil {
				return nil, err
			}
			n.rec.order = append(n.rec.order, e.Key)
			n.rec.fields[e.Key] = child
		}
		return n, nil
	default:
		return nil, newError(KindCodec, "unknown node kind during decode")
	}
}

// buildChild builds and links one child slot's value: a scalar passes
// through, a nested *Value is recursively built and adopted.
func (mgr *Manager) buildChild(v any, parent *node, key any) (any, error) {
	if isScalar(v) {
		return v, nil
	}
	nested, ok := v.(*Value)
	if !ok {
		return nil, newError(KindCodec, "unexpected child shape during decode")
	}
	child, err := mgr.buildTree(nested)
	if err != nil {
		return nil, err
	}
	child.adopt(parent, key)
	return child, nil
}

// flatten recursively renders a node tree into its wire-level Value
// shape, the commit-path counterpart to buildTree.
func (mgr *Manager) flatten(n *node) (*Value, error) {
	switch n.kind {
	case KindSequence:
		v := &Value{Kind: KindSequence, Seq: make([]any, len(n.seq))}
		for i, el := range n.seq {
			fv, err := mgr.flattenChild(el)
			if err != nil {
				return nil, err
			}
			v.Seq[i] = fv
		}
		return v, nil
	case KindMapping:
		keys := n.mp.sortedKeys()
		v := &Value{Kind: KindMapping, Map: make([]MapEntry, 0, len(keys))}
		for _, k := range keys {
			val, _ := n.mp.get(k)
			fv, err := mgr.flattenChild(val)
			if err != nil {
				return nil, err
			}
			v.Map = append(v.Map, MapEntry{Key: k, Value: fv})
		}
		return v, nil
	case KindSet:
		return &Value{Kind: KindSet, Set: n.set.items()}, nil
	case KindBytes:
		return &Value{Kind: KindBytes, Bytes: append([]byte(nil), n.raw...)}, nil
	case KindRecord:
		v := &Value{Kind: KindRecord, Record: &RecordValue{TypeName: n.rec.typeName}}
		v.Record.Fields = make([]MapEntry, 0, len(n.rec.order))
		for _, name := range n.rec.order {
			fv, err := mgr.flattenChild(n.rec.fields[name])
			if err != nil {
				return nil, err
			}
			v.Record.Fields = append(v.Record.Fields, MapEntry{Key: name, Value: fv})
		}
		return v, nil
	default:
		return nil, newError(KindCodec, "unknown node kind during encode")
	}
}

func (mgr *Manager) flattenChild(v any) (any, error) {
	if child, ok := v.(*node); ok {
		return mgr.flatten(child)
	}
	return v, nil
}

// plainFromValue converts a wire-level Value tree into plain Go
// values (nested []any/map[string]any/[]byte), for Snapshot.
func plainFromValue(v any) any {
	val, ok := v.(*Value)
	if !ok {
		return v
	}
	switch val.Kind {
	case KindSequence:
		out := make([]any, len(val.Seq))
		for i, el := range val.Seq {
			out[i] = plainFromValue(el)
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(val.Map))
		for _, e := range val.Map {
			out[e.Key] = plainFromValue(e.Value)
		}
		return out
	case KindSet:
		out := make([]any, len(val.Set))
		copy(out, val.Set)
		return out
	case KindBytes:
		return append([]byte(nil), val.Bytes...)
	case KindRecord:
		out := make(map[string]any, len(val.Record.Fields)+1)
		out["_type"] = val.Record.TypeName
		for _, e := range val.Record.Fields {
			out[e.Key] = plainFromValue(e.Value)
		}
		return out
	default:
		return nil
	}
}

// clearDirty clears n's dirty flag and, since dirty only ever
// propagates upward (invariant 3), recurses into children only if n
// itself was dirty.
func clearDirty(n *node) {
	if n == nil || !n.dirty {
		return
	}
	n.dirty = false
	switch n.kind {
	case KindSequence:
		for _, el := range n.seq {
			if c, ok := el.(*node); ok {
				clearDirty(c)
			}
		}
	case KindMapping:
		for _, k := range n.mp.sortedKeys() {
			if v, ok := n.mp.get(k); ok {
				if c, ok := v.(*node); ok {
					clearDirty(c)
				}
			}
		}
	case KindRecord:
		for _, name := range n.rec.order {
			if c, ok := n.rec.fields[name].(*node); ok {
				clearDirty(c)
			}
		}
	}
}
