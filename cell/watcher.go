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
	"time"
)

// startWatcher launches the single long-lived watcher goroutine for
// this Manager (§4.7), grounded on memcp's storage/cache.go
// CacheManager pattern of one dedicated goroutine owning cache
// coordination rather than a pool.
func (mgr *Manager) startWatcher() {
	ctx, cancel := context.WithCancel(context.Background())
	mgr.watcherCancel = cancel
	mgr.watcherDone = make(chan struct{})
	go mgr.watchLoop(ctx)
}

// watchLoop blocks in Backend.WaitForChange, reconciling external
// changes with the local cache whenever no transaction is open.
func (mgr *Manager) watchLoop(ctx context.Context) {
	defer close(mgr.watcherDone)

	since := mgr.currentVersion()
	for {
		blob, version, err := mgr.backend.WaitForChange(ctx, since)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			mgr.logger.Printf("cell: watcher wait_for_change error: %v", err)
			select {
			case <-time.After(mgr.watcherBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		since = version

		mgr.mu.Lock()
		if version == mgr.version {
			// Already cached (e.g. this Manager's own commit or write):
			// keep the live tree so held wrappers stay linked.
			mgr.mu.Unlock()
			continue
		}
		if mgr.txDepth > 0 {
			mgr.pendingRefresh = true
			mgr.mu.Unlock()
			continue
		}
		if err := mgr.installDecoded(blob, version); err != nil {
			mgr.logger.Printf("cell: watcher refresh error: %v", err)
		} else {
			mgr.pendingRefresh = false
		}
		mgr.mu.Unlock()
	}
}
