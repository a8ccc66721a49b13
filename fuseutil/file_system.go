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

package fuseutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/kernelwire/fuse"
	"github.com/kernelwire/fuse/fuseops"
)

// An interface with a method for each op type in the fuseops package. This can
// be used in conjunction with NewFileSystemServer to avoid writing a "dispatch
// loop" that switches on op types, instead receiving typed method calls
// directly.
//
// The name of the method is the name of the op type with the "Op" suffix
// dropped. Each method should fill in appropriate response fields for the
// supplied op and return an error status, but not reply.
//
// The context is cancelled when the kernel interrupts the request. Methods
// that block should return promptly after that, typically with
// ctx.Err(), which is reported to the kernel as EINTR.
//
// See NotImplementedFileSystem for a convenient way to embed default
// implementations for methods you don't care about.
type FileSystem interface {
	StatFS(context.Context, *fuseops.StatFSOp) error
	LookUpInode(context.Context, *fuseops.LookUpInodeOp) error
	GetInodeAttributes(context.Context, *fuseops.GetInodeAttributesOp) error
	SetInodeAttributes(context.Context, *fuseops.SetInodeAttributesOp) error
	ForgetInode(context.Context, *fuseops.ForgetInodeOp) error
	MkDir(context.Context, *fuseops.MkDirOp) error
	MkNode(context.Context, *fuseops.MkNodeOp) error
	CreateFile(context.Context, *fuseops.CreateFileOp) error
	CreateSymlink(context.Context, *fuseops.CreateSymlinkOp) error
	CreateLink(context.Context, *fuseops.CreateLinkOp) error
	Rename(context.Context, *fuseops.RenameOp) error
	RmDir(context.Context, *fuseops.RmDirOp) error
	Unlink(context.Context, *fuseops.UnlinkOp) error
	OpenDir(context.Context, *fuseops.OpenDirOp) error
	ReadDir(context.Context, *fuseops.ReadDirOp) error
	ReadDirPlus(context.Context, *fuseops.ReadDirPlusOp) error
	ReleaseDirHandle(context.Context, *fuseops.ReleaseDirHandleOp) error
	SyncDir(context.Context, *fuseops.SyncDirOp) error
	OpenFile(context.Context, *fuseops.OpenFileOp) error
	ReadFile(context.Context, *fuseops.ReadFileOp) error
	WriteFile(context.Context, *fuseops.WriteFileOp) error
	SyncFile(context.Context, *fuseops.SyncFileOp) error
	FlushFile(context.Context, *fuseops.FlushFileOp) error
	ReleaseFileHandle(context.Context, *fuseops.ReleaseFileHandleOp) error
	ReadSymlink(context.Context, *fuseops.ReadSymlinkOp) error
	GetXattr(context.Context, *fuseops.GetXattrOp) error
	ListXattr(context.Context, *fuseops.ListXattrOp) error
	SetXattr(context.Context, *fuseops.SetXattrOp) error
	RemoveXattr(context.Context, *fuseops.RemoveXattrOp) error
	Access(context.Context, *fuseops.AccessOp) error
	GetLock(context.Context, *fuseops.GetLockOp) error
	SetLock(context.Context, *fuseops.SetLockOp) error
	Bmap(context.Context, *fuseops.BmapOp) error
	Ioctl(context.Context, *fuseops.IoctlOp) error
	Fallocate(context.Context, *fuseops.FallocateOp) error
	Lseek(context.Context, *fuseops.LseekOp) error

	// Destroy is called once the kernel has ended the session and every
	// in-flight op has been replied to. No other method is called afterward.
	Destroy()
}

// Create a fuse.Server that handles ops by calling the associated FileSystem
// method. Respond with the resulting error. Ops the connection has no method
// for never get here: the connection answers them with ENOSYS.
//
// Each op is handled in its own goroutine, so FileSystem methods must be safe
// for concurrent use.
func NewFileSystemServer(fs FileSystem) fuse.Server {
	return &fileSystemServer{
		fs:     fs,
		logger: log.NewNopLogger(),
	}
}

// Like NewFileSystemServer, logging failures to reply to logger.
func NewFileSystemServerWithLogger(fs FileSystem, logger log.Logger) fuse.Server {
	return &fileSystemServer{
		fs:     fs,
		logger: logger,
	}
}

type fileSystemServer struct {
	fs          FileSystem
	logger      log.Logger
	opsInFlight sync.WaitGroup
}

func (s *fileSystemServer) ServeOps(c *fuse.Connection) {
	// When we are done, we clean up by waiting for all in-flight ops then
	// destroying the file system.
	defer func() {
		s.opsInFlight.Wait()
		s.fs.Destroy()
	}()

	for {
		ctx, op, err := c.ReadOp()
		if err == io.EOF {
			break
		}

		if err != nil {
			level.Error(s.logger).Log("msg", "ReadOp", "err", err)
			break
		}

		s.opsInFlight.Add(1)
		go s.handleOp(c, ctx, op)
	}
}

func (s *fileSystemServer) handleOp(
	c *fuse.Connection,
	ctx context.Context,
	op interface{}) {
	defer s.opsInFlight.Done()

	var err error
	switch typed := op.(type) {
	default:
		err = fuse.ENOSYS

	case *fuseops.StatFSOp:
		err = s.fs.StatFS(ctx, typed)

	case *fuseops.LookUpInodeOp:
		err = s.fs.LookUpInode(ctx, typed)

	case *fuseops.GetInodeAttributesOp:
		err = s.fs.GetInodeAttributes(ctx, typed)

	case *fuseops.SetInodeAttributesOp:
		err = s.fs.SetInodeAttributes(ctx, typed)

	case *fuseops.ForgetInodeOp:
		err = s.fs.ForgetInode(ctx, typed)

	case *fuseops.MkDirOp:
		err = s.fs.MkDir(ctx, typed)

	case *fuseops.MkNodeOp:
		err = s.fs.MkNode(ctx, typed)

	case *fuseops.CreateFileOp:
		err = s.fs.CreateFile(ctx, typed)

	case *fuseops.CreateSymlinkOp:
		err = s.fs.CreateSymlink(ctx, typed)

	case *fuseops.CreateLinkOp:
		err = s.fs.CreateLink(ctx, typed)

	case *fuseops.RenameOp:
		err = s.fs.Rename(ctx, typed)

	case *fuseops.RmDirOp:
		err = s.fs.RmDir(ctx, typed)

	case *fuseops.UnlinkOp:
		err = s.fs.Unlink(ctx, typed)

	case *fuseops.OpenDirOp:
		err = s.fs.OpenDir(ctx, typed)

	case *fuseops.ReadDirOp:
		err = s.fs.ReadDir(ctx, typed)

	case *fuseops.ReadDirPlusOp:
		err = s.fs.ReadDirPlus(ctx, typed)

	case *fuseops.ReleaseDirHandleOp:
		err = s.fs.ReleaseDirHandle(ctx, typed)

	case *fuseops.SyncDirOp:
		err = s.fs.SyncDir(ctx, typed)

	case *fuseops.OpenFileOp:
		err = s.fs.OpenFile(ctx, typed)

	case *fuseops.ReadFileOp:
		err = s.fs.ReadFile(ctx, typed)

	case *fuseops.WriteFileOp:
		err = s.fs.WriteFile(ctx, typed)

	case *fuseops.SyncFileOp:
		err = s.fs.SyncFile(ctx, typed)

	case *fuseops.FlushFileOp:
		err = s.fs.FlushFile(ctx, typed)

	case *fuseops.ReleaseFileHandleOp:
		err = s.fs.ReleaseFileHandle(ctx, typed)

	case *fuseops.ReadSymlinkOp:
		err = s.fs.ReadSymlink(ctx, typed)

	case *fuseops.GetXattrOp:
		err = s.fs.GetXattr(ctx, typed)

	case *fuseops.ListXattrOp:
		err = s.fs.ListXattr(ctx, typed)

	case *fuseops.SetXattrOp:
		err = s.fs.SetXattr(ctx, typed)

	case *fuseops.RemoveXattrOp:
		err = s.fs.RemoveXattr(ctx, typed)

	case *fuseops.AccessOp:
		err = s.fs.Access(ctx, typed)

	case *fuseops.GetLockOp:
		err = s.fs.GetLock(ctx, typed)

	case *fuseops.SetLockOp:
		err = s.fs.SetLock(ctx, typed)

	case *fuseops.BmapOp:
		err = s.fs.Bmap(ctx, typed)

	case *fuseops.IoctlOp:
		err = s.fs.Ioctl(ctx, typed)

	case *fuseops.FallocateOp:
		err = s.fs.Fallocate(ctx, typed)

	case *fuseops.LseekOp:
		err = s.fs.Lseek(ctx, typed)
	}

	if rerr := c.Reply(ctx, err); rerr != nil {
		level.Warn(s.logger).Log("msg", "Reply", "op", fmt.Sprintf("%T", op), "err", rerr)
	}
}
