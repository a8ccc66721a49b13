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
	"errors"
	"testing"

	"github.com/kernelwire/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeTableCounts(t *testing.T) {
	nt := newNodeTable()
	nt.Increment(17, 17, 19, 0, fuseops.RootInodeID)

	assert.Equal(t, uint64(2), nt.Count(17))
	assert.Equal(t, uint64(1), nt.Count(19))
	assert.Equal(t, uint64(0), nt.Count(0))
	assert.Equal(t, uint64(1), nt.Count(fuseops.RootInodeID))
	assert.Equal(t, 3, nt.Len())

	disposed, err := nt.Decrement(17, 1)
	require.NoError(t, err)
	assert.False(t, disposed)

	disposed, err = nt.Decrement(17, 1)
	require.NoError(t, err)
	assert.True(t, disposed)
	assert.Equal(t, uint64(0), nt.Count(17))

	// A second disposal would be an underflow.
	_, err = nt.Decrement(17, 1)
	assert.True(t, errors.Is(err, ErrNodeUnderflow))
}

func TestNodeTableUnderflowLeavesCount(t *testing.T) {
	nt := newNodeTable()
	nt.Increment(17, 17)

	_, err := nt.Decrement(17, 3)
	assert.True(t, errors.Is(err, ErrNodeUnderflow))
	assert.Equal(t, uint64(2), nt.Count(17))
}

func TestNodeTableRootIsPinned(t *testing.T) {
	nt := newNodeTable()

	disposed, err := nt.Decrement(fuseops.RootInodeID, 100)
	require.NoError(t, err)
	assert.False(t, disposed)
	assert.Equal(t, uint64(1), nt.Count(fuseops.RootInodeID))
}

func TestNodeTableZeroForget(t *testing.T) {
	nt := newNodeTable()

	disposed, err := nt.Decrement(17, 0)
	require.NoError(t, err)
	assert.False(t, disposed)
}
