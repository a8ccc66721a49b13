// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fuse

import (
	"fmt"

	"github.com/jacobsa/syncutil"
	"github.com/kernelwire/fuse/fuseops"
)

// nodeTable counts the lookups of each node ID the kernel holds. A count
// goes up by one each time an entry naming the node is sent to the kernel and
// down by the amount the kernel names in FORGET. The root is pinned.
type nodeTable struct {
	mu syncutil.InvariantMutex

	// INVARIANT: For all v, v > 0
	// INVARIANT: counts[fuseops.RootInodeID] == 1
	//
	// GUARDED_BY(mu)
	counts map[fuseops.InodeID]uint64
}

func newNodeTable() *nodeTable {
	t := &nodeTable{
		counts: map[fuseops.InodeID]uint64{
			fuseops.RootInodeID: 1,
		},
	}

	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

// LOCKS_REQUIRED(t.mu)
func (t *nodeTable) checkInvariants() {
	for id, n := range t.counts {
		if n == 0 {
			panic(fmt.Sprintf("Zero count for node %d", id))
		}
	}

	if n := t.counts[fuseops.RootInodeID]; n != 1 {
		panic(fmt.Sprintf("Root count is %d", n))
	}
}

// Record one more kernel reference to each of the supplied nodes. Zero and
// the root are ignored.
//
// LOCKS_EXCLUDED(t.mu)
func (t *nodeTable) Increment(ids ...fuseops.InodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		if id == 0 || id == fuseops.RootInodeID {
			continue
		}

		t.counts[id]++
	}
}

// Drop n kernel references to id. Return true if that was the last of them,
// in which case the node is no longer tracked. Decrements of the root are
// ignored.
//
// Decrementing below zero leaves the table untouched and returns an error
// wrapping ErrNodeUnderflow.
//
// LOCKS_EXCLUDED(t.mu)
func (t *nodeTable) Decrement(
	id fuseops.InodeID,
	n uint64) (disposed bool, err error) {
	if id == fuseops.RootInodeID || n == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	have := t.counts[id]
	switch {
	case have < n:
		err = fmt.Errorf("%w: node %d forgotten %d times, looked up %d", ErrNodeUnderflow, id, n, have)

	case have == n:
		delete(t.counts, id)
		disposed = true

	default:
		t.counts[id] = have - n
	}

	return
}

// Return the number of kernel references to id.
//
// LOCKS_EXCLUDED(t.mu)
func (t *nodeTable) Count(id fuseops.InodeID) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.counts[id]
}

// Return the number of nodes the kernel holds, including the root.
//
// LOCKS_EXCLUDED(t.mu)
func (t *nodeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.counts)
}
