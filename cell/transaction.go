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

// txState tracks one Transaction's lifecycle (§4.5): open is the only
// non-terminal state.
type txState uint8

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
	txFailed
)

// Transaction is a scoped region around one participant's work (§4.5).
// Obtain one from Manager.Transaction, and either Nested or Commit/
// Rollback exactly once on every exit path.
type Transaction struct {
	mgr      *Manager
	parent   *Transaction
	baseline Version // only meaningful for the outermost transaction
	state    txState
	frame    *txFrame
}

// Transaction begins a new outermost transaction scope, capturing the
// Manager's current version as the commit baseline and suppressing the
// watcher's right to swap the root until this transaction exits
// (§4.5). It also acquires the Go-specific serialization lock
// described on Manager.txSerialize, held until this transaction's
// outermost Commit or Rollback.
func (mgr *Manager) Transaction() *Transaction {
	mgr.txSerialize.Lock()

	mgr.mu.Lock()
	baseline := mgr.version
	frame := &txFrame{touched: make(map[*node]bool)}
	mgr.txStack = append(mgr.txStack, frame)
	mgr.txDepth++
	mgr.mu.Unlock()

	return &Transaction{mgr: mgr, baseline: baseline, state: txOpen, frame: frame}
}

// Nested opens a transaction scope nested inside tx, sharing the same
// buffered state (§4.5). Only the outermost transaction's Commit
// performs a backend write; a nested Commit only pops its frame.
func (tx *Transaction) Nested() *Transaction {
	mgr := tx.mgr
	mgr.mu.Lock()
	frame := &txFrame{touched: make(map[*node]bool)}
	mgr.txStack = append(mgr.txStack, frame)
	mgr.txDepth++
	mgr.mu.Unlock()

	return &Transaction{mgr: mgr, parent: tx, state: txOpen, frame: frame}
}

// Commit closes tx successfully. For a nested transaction this only
// pops its frame, leaving changes buffered in the enclosing scope. For
// the outermost transaction, if the root is dirty it encodes and
// try_writes against the captured baseline; on a CAS miss it refreshes
// and returns a transaction-conflict error (§4.5).
func (tx *Transaction) Commit() error {
	if tx.state != txOpen {
		return newError(KindTransactionConflict, "transaction is not open")
	}
	mgr := tx.mgr

	if tx.parent != nil {
		mgr.mu.Lock()
		mgr.popFrame()
		mgr.mu.Unlock()
		tx.state = txCommitted
		return nil
	}

	defer mgr.txSerialize.Unlock()
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.popFrame()

	if mgr.root == nil || !mgr.root.dirty {
		tx.state = txCommitted
		return nil
	}

	val, err := mgr.flatten(mgr.root)
	if err != nil {
		tx.state = txFailed
		return err
	}
	blob, err := mgr.codec.Encode(val)
	if err != nil {
		tx.state = txFailed
		return wrapError(KindCodec, "encode value", err)
	}

	version, ok, err := mgr.backend.TryWrite(context.Background(), tx.baseline, blob)
	if err != nil {
		tx.state = txFailed
		return wrapError(KindBackendIO, "try_write", err)
	}
	if !ok {
		refreshErr := mgr.refreshLocked()
		tx.state = txFailed
		if refreshErr != nil {
			return refreshErr
		}
		return newError(KindTransactionConflict, "commit lost the compare-and-swap race")
	}

	mgr.version = version
	mgr.hasValue = true
	clearDirty(mgr.root)
	mgr.pendingRefresh = false
	tx.state = txCommitted
	return nil
}

// Rollback closes tx without committing. For a nested transaction, it
// discards wrappers that became detached within this frame and
// restores the dirty flag of every node the frame touched to its
// value on entry — a best-effort partial undo, since full deep
// rollback of arbitrary container state is explicitly not guaranteed
// for nested scopes (§4.5, §9 Open Question a). For the outermost
// transaction, it refreshes from the backend to restore a clean tree.
func (tx *Transaction) Rollback() error {
	if tx.state != txOpen {
		return nil
	}
	mgr := tx.mgr

	if tx.parent != nil {
		mgr.mu.Lock()
		for n, priorDirty := range tx.frame.touched {
			n.dirty = priorDirty
		}
		for _, n := range tx.frame.detached {
			delete(mgr.arena, n.handle)
		}
		mgr.popFrame()
		mgr.mu.Unlock()
		tx.state = txRolledBack
		return nil
	}

	defer mgr.txSerialize.Unlock()
	mgr.mu.Lock()
	mgr.popFrame()
	err := mgr.refreshLocked()
	mgr.mu.Unlock()
	tx.state = txRolledBack
	return err
}

// withImplicitTransaction runs fn, which performs one wrapper mutation,
// either buffered inside whatever transaction is already open on this
// Manager (it checks the Manager-wide txDepth, not which goroutine
// opened that transaction, and then runs fn without taking txSerialize),
// or, if none is open, wrapped in its own outermost transaction that commits
// immediately on success (§2's "implicit single-op transaction" control-
// flow mode: a mutation outside any explicit Transaction still has to
// reach the backend). Every wrapper mutator routes through this so the
// mutation itself — not just its subsequent commit — happens under
// txSerialize whenever it runs as an implicit transaction, the same
// protection an explicit Transaction gives its body. Grounded on
// memcp's TxContext.autoCommit (storage/transaction.go), which collapses
// a single statement issued outside an explicit BEGIN into its own
// commit.
func (mgr *Manager) withImplicitTransaction(fn func() error) error {
	mgr.mu.Lock()
	open := mgr.txDepth > 0
	mgr.mu.Unlock()
	if open {
		return fn()
	}

	tx := mgr.Transaction()
	if err := fn(); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// popFrame removes the top transaction frame. Callers must hold mgr.mu.
func (mgr *Manager) popFrame() {
	mgr.txStack = mgr.txStack[:len(mgr.txStack)-1]
	mgr.txDepth--
}

// noteTouch records, the first time a node is mutated within the
// currently innermost open frame, what its dirty flag was before this
// frame touched it. Only one Manager-wide transaction body executes
// at a time (guaranteed by txSerialize), so this is safe without
// mgr.mu: the frame stack is only ever appended/popped by that same
// goroutine between Transaction/Nested and the matching Commit/
// Rollback.
func (mgr *Manager) noteTouch(n *node) {
	if len(mgr.txStack) == 0 {
		return
	}
	frame := mgr.txStack[len(mgr.txStack)-1]
	if _, seen := frame.touched[n]; !seen {
		frame.touched[n] = n.dirty
	}
}

// noteDetach records a node detached while the innermost open frame
// was active, so a failed nested Rollback can discard it.
func (mgr *Manager) noteDetach(n *node) {
	if len(mgr.txStack) == 0 {
		return
	}
	frame := mgr.txStack[len(mgr.txStack)-1]
	frame.detached = append(frame.detached, n)
}
