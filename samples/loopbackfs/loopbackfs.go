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

// Package loopbackfs mirrors a host directory. It supports reading, writing,
// creating and removing files and directories, along with preallocation and
// SEEK_DATA/SEEK_HOLE.
package loopbackfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	fallocate "github.com/detailyang/go-fallocate"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jacobsa/syncutil"
	"github.com/kernelwire/fuse"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/fuseutil"
	"golang.org/x/sys/unix"
)

// Create a file system that mirrors an existing physical path.
func NewLoopbackServer(loopbackPath string, logger log.Logger) (fuse.Server, error) {
	fi, err := os.Stat(loopbackPath)
	if err != nil {
		return nil, err
	}

	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", loopbackPath)
	}

	fs := &loopbackFS{
		logger: logger,
		inodes: map[fuseops.InodeID]*inode{
			fuseops.RootInodeID: {
				id:   fuseops.RootInodeID,
				path: loopbackPath,
			},
		},
		files:      make(map[fuseops.HandleID]*os.File),
		nextHandle: 1,
	}

	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	return fuseutil.NewFileSystemServerWithLogger(fs, logger), nil
}

type loopbackFS struct {
	fuseutil.NotImplementedFileSystem

	logger log.Logger

	mu syncutil.InvariantMutex

	// The inodes the kernel may refer to.
	//
	// INVARIANT: inodes[fuseops.RootInodeID] != nil
	// INVARIANT: For each k, v: v.id == k
	//
	// GUARDED_BY(mu)
	inodes map[fuseops.InodeID]*inode

	// Open files and directories, by handle. Directories are listed when
	// read, so they have no entry here.
	//
	// GUARDED_BY(mu)
	files map[fuseops.HandleID]*os.File

	// INVARIANT: For each k in files, k < nextHandle
	//
	// GUARDED_BY(mu)
	nextHandle fuseops.HandleID
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (fs *loopbackFS) checkInvariants() {
	if fs.inodes[fuseops.RootInodeID] == nil {
		panic("Root inode is missing")
	}

	for k, v := range fs.inodes {
		if v.id != k {
			panic(fmt.Sprintf("ID mismatch: %v vs. %v", v.id, k))
		}
	}

	for k := range fs.files {
		if k >= fs.nextHandle {
			panic(fmt.Sprintf("Handle %v not below %v", k, fs.nextHandle))
		}
	}
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *loopbackFS) getInode(id fuseops.InodeID) (inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, ok := fs.inodes[id]
	if !ok {
		return inode{}, fuse.ENOENT
	}

	return *in, nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *loopbackFS) getFile(h fuseops.HandleID) (*os.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.files[h]
	if !ok {
		return nil, fuse.EINVAL
	}

	return f, nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *loopbackFS) addFile(f *os.File) fuseops.HandleID {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h := fs.nextHandle
	fs.nextHandle++
	fs.files[h] = f

	return h
}

// Stat path and fill in an entry for it, recording the inode.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *loopbackFS) fillEntry(path string, e *fuseops.ChildInodeEntry) error {
	id, attrs, err := statPath(path)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	if _, ok := fs.inodes[id]; !ok {
		fs.inodes[id] = &inode{id: id, path: path}
	}
	fs.mu.Unlock()

	e.Child = id
	e.Attributes = attrs

	return nil
}

// Files are opened with the kernel's flags, minus those the kernel has
// already dealt with. Writes use explicit offsets, so O_APPEND goes too.
func openFlags(flags uint32) int {
	return int(flags) &^ (unix.O_CREAT | unix.O_EXCL | unix.O_NOCTTY | unix.O_APPEND)
}

////////////////////////////////////////////////////////////////////////
// File system methods
////////////////////////////////////////////////////////////////////////

func (fs *loopbackFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	root, err := fs.getInode(fuseops.RootInodeID)
	if err != nil {
		return err
	}

	var st unix.Statfs_t
	if err := unix.Statfs(root.path, &st); err != nil {
		return err
	}

	op.BlockSize = uint32(st.Frsize)
	op.IoSize = uint32(st.Bsize)
	op.Blocks = st.Blocks
	op.BlocksFree = st.Bfree
	op.BlocksAvailable = st.Bavail
	op.Inodes = st.Files
	op.InodesFree = st.Ffree
	op.MaxNameLength = uint32(st.Namelen)

	return nil
}

func (fs *loopbackFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	parent, err := fs.getInode(op.Parent)
	if err != nil {
		return err
	}

	return fs.fillEntry(parent.child(op.Name), &op.Entry)
}

func (fs *loopbackFS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	_, op.Attributes, err = statPath(in.path)
	return err
}

func (fs *loopbackFS) SetInodeAttributes(
	ctx context.Context,
	op *fuseops.SetInodeAttributesOp) error {
	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	if op.Size != nil {
		if err := os.Truncate(in.path, int64(*op.Size)); err != nil {
			return err
		}
	}

	if op.Mode != nil {
		if err := os.Chmod(in.path, *op.Mode); err != nil {
			return err
		}
	}

	if op.Atime != nil || op.Mtime != nil {
		// Leave whichever time wasn't asked for alone.
		ts := []unix.Timespec{
			{Nsec: unix.UTIME_OMIT},
			{Nsec: unix.UTIME_OMIT},
		}

		if op.Atime != nil {
			ts[0] = unix.NsecToTimespec(op.Atime.UnixNano())
		}

		if op.Mtime != nil {
			ts[1] = unix.NsecToTimespec(op.Mtime.UnixNano())
		}

		if err := unix.UtimesNanoAt(unix.AT_FDCWD, in.path, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return err
		}
	}

	_, op.Attributes, err = statPath(in.path)
	return err
}

func (fs *loopbackFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Inode != fuseops.RootInodeID {
		delete(fs.inodes, op.Inode)
	}

	return nil
}

func (fs *loopbackFS) MkDir(
	ctx context.Context,
	op *fuseops.MkDirOp) error {
	parent, err := fs.getInode(op.Parent)
	if err != nil {
		return err
	}

	path := parent.child(op.Name)
	if err := os.Mkdir(path, op.Mode.Perm()); err != nil {
		return err
	}

	return fs.fillEntry(path, &op.Entry)
}

func (fs *loopbackFS) CreateFile(
	ctx context.Context,
	op *fuseops.CreateFileOp) error {
	parent, err := fs.getInode(op.Parent)
	if err != nil {
		return err
	}

	path := parent.child(op.Name)
	f, err := os.OpenFile(path, openFlags(op.Flags)|os.O_CREATE|os.O_EXCL, op.Mode.Perm())
	if err != nil {
		return err
	}

	if err := fs.fillEntry(path, &op.Entry); err != nil {
		f.Close()
		return err
	}

	op.Handle = fs.addFile(f)
	return nil
}

func (fs *loopbackFS) CreateSymlink(
	ctx context.Context,
	op *fuseops.CreateSymlinkOp) error {
	parent, err := fs.getInode(op.Parent)
	if err != nil {
		return err
	}

	path := parent.child(op.Name)
	if err := os.Symlink(op.Target, path); err != nil {
		return err
	}

	return fs.fillEntry(path, &op.Entry)
}

func (fs *loopbackFS) ReadSymlink(
	ctx context.Context,
	op *fuseops.ReadSymlinkOp) (err error) {
	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	op.Target, err = os.Readlink(in.path)
	return
}

func (fs *loopbackFS) Rename(
	ctx context.Context,
	op *fuseops.RenameOp) error {
	oldParent, err := fs.getInode(op.OldParent)
	if err != nil {
		return err
	}

	newParent, err := fs.getInode(op.NewParent)
	if err != nil {
		return err
	}

	oldPath := oldParent.child(op.OldName)
	newPath := newParent.child(op.NewName)

	err = unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, uint(op.Flags))
	if err != nil {
		return err
	}

	// The host inode number follows the file. An exchange moves two.
	moved := []string{newPath}
	if op.Flags&unix.RENAME_EXCHANGE != 0 {
		moved = append(moved, oldPath)
	}

	for _, path := range moved {
		id, _, err := statPath(path)
		if err != nil {
			return err
		}

		fs.mu.Lock()
		if in, ok := fs.inodes[id]; ok {
			in.path = path
		}
		fs.mu.Unlock()
	}

	return nil
}

func (fs *loopbackFS) RmDir(
	ctx context.Context,
	op *fuseops.RmDirOp) error {
	parent, err := fs.getInode(op.Parent)
	if err != nil {
		return err
	}

	return unix.Rmdir(parent.child(op.Name))
}

func (fs *loopbackFS) Unlink(
	ctx context.Context,
	op *fuseops.UnlinkOp) error {
	parent, err := fs.getInode(op.Parent)
	if err != nil {
		return err
	}

	return unix.Unlink(parent.child(op.Name))
}

func (fs *loopbackFS) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	fi, err := os.Stat(in.path)
	if err != nil {
		return err
	}

	if !fi.IsDir() {
		return fuse.ENOTDIR
	}

	return nil
}

func (fs *loopbackFS) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	children, err := os.ReadDir(in.path)
	if err != nil {
		level.Warn(fs.logger).Log("msg", "reading directory", "inode", in, "err", err)
		return err
	}

	entries := make([]fuseops.Dirent, 0, len(children))
	for _, child := range children {
		info, err := child.Info()
		if err != nil {
			// Removed since the listing was taken.
			continue
		}

		var ino fuseops.InodeID
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			ino = fuseops.InodeID(st.Ino)
		}

		entries = append(entries, fuseops.Dirent{
			Inode: ino,
			Name:  child.Name(),
			Type:  fuseops.DirentTypeOf(info.Mode()),
		})
	}

	fuseutil.NumberDirents(entries)
	op.Entries = fuseutil.EntriesFrom(entries, op.Offset)

	return nil
}

func (fs *loopbackFS) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (fs *loopbackFS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(in.path, openFlags(op.Flags), 0)
	if err != nil {
		return err
	}

	op.Handle = fs.addFile(f)
	return nil
}

func (fs *loopbackFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	f, err := fs.getFile(op.Handle)
	if err != nil {
		return err
	}

	op.Data = make([]byte, op.Size)
	n, err := f.ReadAt(op.Data, op.Offset)
	op.Data = op.Data[:n]

	// FUSE doesn't expect us to return io.EOF.
	if err == io.EOF {
		return nil
	}

	return err
}

func (fs *loopbackFS) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	f, err := fs.getFile(op.Handle)
	if err != nil {
		return err
	}

	_, err = f.WriteAt(op.Data, op.Offset)
	return err
}

func (fs *loopbackFS) SyncFile(
	ctx context.Context,
	op *fuseops.SyncFileOp) error {
	f, err := fs.getFile(op.Handle)
	if err != nil {
		return err
	}

	if op.DataOnly {
		return unix.Fdatasync(int(f.Fd()))
	}

	return f.Sync()
}

func (fs *loopbackFS) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	_, err := fs.getFile(op.Handle)
	return err
}

func (fs *loopbackFS) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	f, ok := fs.files[op.Handle]
	delete(fs.files, op.Handle)
	fs.mu.Unlock()

	if !ok {
		return fuse.EINVAL
	}

	return f.Close()
}

func (fs *loopbackFS) Fallocate(
	ctx context.Context,
	op *fuseops.FallocateOp) error {
	f, err := fs.getFile(op.Handle)
	if err != nil {
		return err
	}

	// Mode zero is plain preallocation.
	if op.Mode == 0 {
		return fallocate.Fallocate(f, int64(op.Offset), int64(op.Length))
	}

	return unix.Fallocate(int(f.Fd()), op.Mode, int64(op.Offset), int64(op.Length))
}

func (fs *loopbackFS) Lseek(
	ctx context.Context,
	op *fuseops.LseekOp) error {
	f, err := fs.getFile(op.Handle)
	if err != nil {
		return err
	}

	op.Result, err = unix.Seek(int(f.Fd()), op.Offset, op.Whence)
	return err
}
