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

package forgetfs

import (
	"context"
	"fmt"
	"os"

	"github.com/jacobsa/syncutil"
	"github.com/kernelwire/fuse"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/fuseutil"
)

// Create a file system whose sole contents are a file named "foo" and a
// directory named "bar".
//
// The file "foo" may be opened for reading and/or writing, but reads and
// writes aren't supported. Additionally, a file named "bar" may be created
// anew an arbitrary number of times in the root, but it will never exist in
// lookups by name.
//
// The file system records which inodes the kernel may still refer to, and
// notes an error if an inode is forgotten while it isn't live. Its Check
// method may be used after the session ends to check that every inode handed
// to the kernel was forgotten exactly once.
func NewFileSystem() *ForgetFS {
	impl := &fsImpl{
		live:      make(map[fuseops.InodeID]bool),
		handedOut: make(map[fuseops.InodeID]bool),
		nextID:    barID + 1,
	}

	impl.mu = syncutil.NewInvariantMutex(impl.checkInvariants)

	return &ForgetFS{
		impl:   impl,
		server: fuseutil.NewFileSystemServer(impl),
	}
}

// ForgetFS is a fuse.Server, with the checking methods described above.
type ForgetFS struct {
	impl   *fsImpl
	server fuse.Server
}

func (fs *ForgetFS) ServeOps(c *fuse.Connection) {
	fs.server.ServeOps(c)
}

// Check returns an error if an inode was forgotten while not live, or if any
// inode handed to the kernel is still live.
func (fs *ForgetFS) Check() error {
	fs.impl.mu.Lock()
	defer fs.impl.mu.Unlock()

	if fs.impl.err != nil {
		return fs.impl.err
	}

	for id := range fs.impl.live {
		return fmt.Errorf("inode %d is still live", id)
	}

	return nil
}

// Forgotten returns how many ForgetInode calls were received.
func (fs *ForgetFS) Forgotten() int {
	fs.impl.mu.Lock()
	defer fs.impl.mu.Unlock()

	return fs.impl.forgotten
}

////////////////////////////////////////////////////////////////////////
// Actual implementation
////////////////////////////////////////////////////////////////////////

const (
	fooID = fuseops.RootInodeID + 1 + iota
	barID
)

type fsImpl struct {
	fuseutil.NotImplementedFileSystem

	mu syncutil.InvariantMutex

	// Inodes the kernel holds at least one lookup of, as far as we know.
	//
	// INVARIANT: For each k, k > fuseops.RootInodeID
	// INVARIANT: For each k, handedOut[k]
	//
	// GUARDED_BY(mu)
	live map[fuseops.InodeID]bool

	// Inodes that have been returned to the kernel at least once.
	//
	// GUARDED_BY(mu)
	handedOut map[fuseops.InodeID]bool

	// The next ID to hand out for a created file.
	//
	// INVARIANT: nextID > barID
	//
	// GUARDED_BY(mu)
	nextID fuseops.InodeID

	// GUARDED_BY(mu)
	forgotten int

	// The first problem noticed.
	//
	// GUARDED_BY(mu)
	err error
}

func (fs *fsImpl) checkInvariants() {
	for id := range fs.live {
		if id <= fuseops.RootInodeID {
			panic(fmt.Sprintf("Unexpected live inode: %d", id))
		}

		if !fs.handedOut[id] {
			panic(fmt.Sprintf("Inode %d is live but was never handed out", id))
		}
	}

	if fs.nextID <= barID {
		panic(fmt.Sprintf("Unexpected nextID: %d", fs.nextID))
	}
}

func attributesFor(id fuseops.InodeID) fuseops.InodeAttributes {
	switch id {
	case fuseops.RootInodeID, barID:
		return fuseops.InodeAttributes{
			Nlink: 1,
			Mode:  0777 | os.ModeDir,
		}

	default:
		return fuseops.InodeAttributes{
			Nlink: 1,
			Mode:  0777,
		}
	}
}

// LOCKS_REQUIRED(fs.mu)
func (fs *fsImpl) handOut(id fuseops.InodeID, e *fuseops.ChildInodeEntry) {
	fs.handedOut[id] = true
	fs.live[id] = true

	e.Child = id
	e.Attributes = attributesFor(id)
}

func (fs *fsImpl) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Parent != fuseops.RootInodeID {
		return fuse.ENOENT
	}

	switch op.Name {
	case "foo":
		fs.handOut(fooID, &op.Entry)
	case "bar":
		fs.handOut(barID, &op.Entry)
	default:
		return fuse.ENOENT
	}

	return nil
}

func (fs *fsImpl) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Inode != fuseops.RootInodeID && !fs.live[op.Inode] {
		return fuse.ENOENT
	}

	op.Attributes = attributesFor(op.Inode)
	return nil
}

func (fs *fsImpl) CreateFile(
	ctx context.Context,
	op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Parent != fuseops.RootInodeID || op.Name != "bar" {
		return fuse.EPERM
	}

	// IDs are never reused.
	id := fs.nextID
	fs.nextID++
	fs.handOut(id, &op.Entry)

	return nil
}

func (fs *fsImpl) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.forgotten++
	if !fs.live[op.Inode] {
		if fs.err == nil {
			fs.err = fmt.Errorf("inode %d forgotten while not live", op.Inode)
		}

		return nil
	}

	delete(fs.live, op.Inode)
	return nil
}

func (fs *fsImpl) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	return nil
}

func (fs *fsImpl) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	return nil
}
