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

package errorfs

import (
	"context"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"

	"github.com/kernelwire/fuse"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/fuseutil"
)

const FooContents = "xxxx"

const fooInodeID = fuseops.RootInodeID + 1

var fooAttrs = fuseops.InodeAttributes{
	Nlink: 1,
	Size:  uint64(len(FooContents)),
	Mode:  0444,
}

// A file system whose sole contents are a file named "foo" containing the
// string defined by FooContents.
//
// The file system can be configured to returned canned errors for particular
// operations using the method SetError.
type FS interface {
	fuseutil.FileSystem

	// Cause the file system to return the supplied error for all future
	// operations matching the supplied type.
	SetError(t reflect.Type, err syscall.Errno)
}

func New() FS {
	return &errorFS{
		errors: make(map[reflect.Type]syscall.Errno),
	}
}

type errorFS struct {
	fuseutil.NotImplementedFileSystem

	mu sync.Mutex

	// GUARDED_BY(mu)
	errors map[reflect.Type]syscall.Errno
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *errorFS) SetError(t reflect.Type, err syscall.Errno) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.errors[t] = err
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *errorFS) transformError(op interface{}) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err, ok := fs.errors[reflect.TypeOf(op).Elem()]; ok {
		return err
	}

	return nil
}

////////////////////////////////////////////////////////////////////////
// File system methods
////////////////////////////////////////////////////////////////////////

func (fs *errorFS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	switch op.Inode {
	case fuseops.RootInodeID:
		op.Attributes.Nlink = 1
		op.Attributes.Mode = os.ModeDir | 0555

	case fooInodeID:
		op.Attributes = fooAttrs

	default:
		return fuse.ENOENT
	}

	return nil
}

func (fs *errorFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	if op.Parent != fuseops.RootInodeID || op.Name != "foo" {
		return fuse.ENOENT
	}

	op.Entry.Child = fooInodeID
	op.Entry.Attributes = fooAttrs

	return nil
}

func (fs *errorFS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	if op.Inode != fooInodeID {
		return fuse.ENOENT
	}

	return nil
}

func (fs *errorFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	if op.Inode != fooInodeID {
		return fuse.ENOENT
	}

	op.Data = make([]byte, op.Size)
	n, err := strings.NewReader(FooContents).ReadAt(op.Data, op.Offset)
	op.Data = op.Data[:n]
	if err == io.EOF {
		return nil
	}

	return err
}

func (fs *errorFS) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	if op.Inode != fuseops.RootInodeID {
		return fuse.ENOTDIR
	}

	return nil
}

func (fs *errorFS) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	if op.Inode != fuseops.RootInodeID {
		return fuse.ENOTDIR
	}

	entries := []fuseops.Dirent{
		{
			Offset: 1,
			Inode:  fooInodeID,
			Name:   "foo",
			Type:   fuseops.DT_File,
		},
	}

	op.Entries = fuseutil.EntriesFrom(entries, op.Offset)
	return nil
}
