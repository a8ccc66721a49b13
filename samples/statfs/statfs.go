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

// Package statfs provides a file system whose STATFS replies are scripted, for
// checking how block sizes and counts reach the kernel.
package statfs

import (
	"context"
	"os"
	"sync"

	"github.com/kernelwire/fuse"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/fuseutil"
)

const fileID = fuseops.RootInodeID + 1

// FS answers STATFS with whatever was last passed to SetStatFSResponse. Every
// name in the root resolves to one writable file whose attributes are set with
// SetFileAttributes; the sizes of the writes it receives are recorded.
type FS struct {
	fuseutil.NotImplementedFileSystem

	mu sync.Mutex

	// GUARDED_BY(mu)
	usage fuseops.StatFSOp

	// GUARDED_BY(mu)
	attrs fuseops.InodeAttributes

	// GUARDED_BY(mu)
	writeSizes []int
}

var _ fuseutil.FileSystem = &FS{}

func New() *FS {
	return &FS{
		attrs: fuseops.InodeAttributes{
			Nlink: 1,
			Mode:  0666,
		},
	}
}

// SetStatFSResponse replaces the usage figures reported from now on.
func (fs *FS) SetStatFSResponse(usage fuseops.StatFSOp) {
	usage.OpContext = fuseops.OpContext{}

	fs.mu.Lock()
	fs.usage = usage
	fs.mu.Unlock()
}

// SetFileAttributes replaces the attributes of the file.
func (fs *FS) SetFileAttributes(attrs fuseops.InodeAttributes) {
	fs.mu.Lock()
	fs.attrs = attrs
	fs.mu.Unlock()
}

// WriteSizes returns the data length of every write received, oldest first.
func (fs *FS) WriteSizes() []int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return append([]int(nil), fs.writeSizes...)
}

// MostRecentWriteSize returns the data length of the last write, or -1.
func (fs *FS) MostRecentWriteSize() int {
	sizes := fs.WriteSizes()
	if len(sizes) == 0 {
		return -1
	}

	return sizes[len(sizes)-1]
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *FS) attributesOf(id fuseops.InodeID) (fuseops.InodeAttributes, error) {
	switch id {
	case fuseops.RootInodeID:
		return fuseops.InodeAttributes{Nlink: 2, Mode: os.ModeDir | 0755}, nil

	case fileID:
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.attrs, nil
	}

	return fuseops.InodeAttributes{}, fuse.ENOENT
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	usage := fs.usage
	usage.OpContext = op.OpContext
	*op = usage
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) (err error) {
	if op.Parent != fuseops.RootInodeID {
		return fuse.ENOENT
	}

	op.Entry.Child = fileID
	op.Entry.Attributes, err = fs.attributesOf(fileID)
	return
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) (err error) {
	op.Attributes, err = fs.attributesOf(op.Inode)
	return
}

// Truncation on open is accepted and has no effect.
func (fs *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) (err error) {
	op.Attributes, err = fs.attributesOf(op.Inode)
	return
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	if op.Inode != fileID {
		return fuse.EINVAL
	}

	return nil
}

func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.writeSizes = append(fs.writeSizes, len(op.Data))
	return nil
}
