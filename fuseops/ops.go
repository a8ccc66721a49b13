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

// Package fuseops contains ops that may be returned by fuse.Connection.ReadOp.
// See documentation in that package for more.
//
// Fields the file system fills in are marked as such; everything else is
// decoded from the kernel's request and must be treated as read-only.
package fuseops

import (
	"os"
	"time"
)

////////////////////////////////////////////////////////////////////////
// File system
////////////////////////////////////////////////////////////////////////

// Return statistics about the file system's capacity and available resources.
//
// Called by statfs(2) and friends:
//
//  *  (https://goo.gl/Xi1lDr) sys_statfs called user_statfs, which calls
//     vfs_statfs, which calls statfs_by_dentry.
//
//  *  (https://goo.gl/VAIOwU) statfs_by_dentry calls the superblock
//     operation statfs, which in our case points at
//     fuse_statfs (cf. https://goo.gl/L7BTM3)
//
//  *  (https://goo.gl/Zn7Sgl) fuse_statfs sends a statfs op, then uses
//     convert_fuse_statfs to convert the response in a straightforward
//     manner.
type StatFSOp struct {
	OpContext OpContext

	// The size of the file system's blocks, and the preferred size for I/O,
	// reported as f_frsize and f_bsize respectively.
	BlockSize uint32
	IoSize    uint32

	// The total number of blocks in the file system, the number of unused
	// blocks, and the number of unused blocks available to unprivileged users.
	Blocks          uint64
	BlocksFree      uint64
	BlocksAvailable uint64

	// The total number of inodes in the file system, and how many remain free.
	Inodes     uint64
	InodesFree uint64

	// The longest name the file system accepts. Zero means 255.
	MaxNameLength uint32
}

////////////////////////////////////////////////////////////////////////
// Inodes
////////////////////////////////////////////////////////////////////////

// Look up a child by name within a parent directory. The kernel sends this
// when resolving user paths to dentry structs, which are then cached.
type LookUpInodeOp struct {
	OpContext OpContext

	// The ID of the directory inode to which the child belongs.
	Parent InodeID

	// The name of the child of interest, relative to the parent. For example, in
	// this directory structure:
	//
	//     foo/
	//         bar/
	//             baz
	//
	// the file system may receive a request to look up the child named "bar" for
	// the parent foo/.
	Name string

	// The resulting entry. Must be filled out by the file system.
	//
	// A zero Entry.Child with a nil error is a negative entry: the kernel caches
	// the absence of the name until Entry.EntryExpiration.
	Entry ChildInodeEntry
}

// Refresh the attributes for an inode whose ID was previously returned in a
// LookUpInodeOp. The kernel sends this when the FUSE VFS layer's cache of
// inode attributes is stale. This is controlled by the AttributesExpiration
// field of ChildInodeEntry, etc.
type GetInodeAttributesOp struct {
	OpContext OpContext

	// The inode of interest.
	Inode InodeID

	// The handle the request came through, for fstat(2) on kernels that send
	// it.
	Handle *HandleID

	// Set by the file system: attributes for the inode, and the time at which
	// they should expire. See notes on ChildInodeEntry.AttributesExpiration for
	// more.
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

// Change attributes for an inode.
//
// The kernel sends this for obvious cases like chmod(2), and for less obvious
// cases like ftrunctate(2).
type SetInodeAttributesOp struct {
	OpContext OpContext

	// The inode of interest.
	Inode InodeID

	// If set, this is ftruncate(2) or similar and the handle is the one the
	// request came through.
	Handle *HandleID

	// The attributes to modify, or nil for attributes that don't need a change.
	// "Now" requests from utimensat(2) arrive with the connection's current
	// time filled in.
	Size  *uint64
	Mode  *os.FileMode
	Uid   *uint32
	Gid   *uint32
	Atime *time.Time
	Mtime *time.Time
	Ctime *time.Time

	// Set by the file system: the new attributes for the inode, and the time at
	// which they should expire. See notes on
	// ChildInodeEntry.AttributesExpiration for more.
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

// The kernel holds no more references to an inode ID previously issued (e.g.
// by LookUpInode or MkDir), and the file system may dispose of it.
//
// The connection counts every entry it returns to the kernel and applies the
// kernel's FORGET and BATCH_FORGET messages itself; this op is sent exactly
// once, when the count reaches zero. It is never sent for the root.
//
// No reply is sent to the kernel. The error returned from the file system is
// only logged.
type ForgetInodeOp struct {
	OpContext OpContext

	// The inode to be forgotten. The kernel guarantees that the node ID will not
	// be used in further calls to the file system (unless it is reissued by the
	// file system).
	Inode InodeID
}

////////////////////////////////////////////////////////////////////////
// Inode creation
////////////////////////////////////////////////////////////////////////

// Create a directory inode as a child of an existing directory inode. The
// kernel sends this in response to a mkdir(2) call.
//
// The kernel appears to verify the name doesn't already exist (mkdir calls
// mkdirat calls user_path_create calls filename_create, which verifies:
// http://goo.gl/FZpLu5). But volatile file systems and paranoid non-volatile
// file systems should check anyway.
type MkDirOp struct {
	OpContext OpContext

	// The ID of parent directory inode within which to create the child.
	Parent InodeID

	// The name of the child to create, and the mode with which to create it.
	Name string
	Mode os.FileMode

	// The umask of the calling process. Only meaningful when the connection
	// negotiated InitDontMask; otherwise the kernel has already applied it.
	Umask uint32

	// Set by the file system: information about the inode that was created.
	Entry ChildInodeEntry
}

// Create a file inode as a child of an existing directory inode. The kernel
// sends this in response to a mknod(2) call. It may also send it in special
// cases such as an NFS export (cf. https://goo.gl/HiLfnK). It is more typical
// to see CreateFileOp, which is received for an open(2) that creates a file.
type MkNodeOp struct {
	OpContext OpContext

	// The ID of parent directory inode within which to create the child.
	Parent InodeID

	// The name of the child to create, and the mode with which to create it.
	Name string
	Mode os.FileMode

	// The device number, for device special files.
	Rdev uint32

	// See MkDirOp.Umask.
	Umask uint32

	// Set by the file system: information about the inode that was created.
	Entry ChildInodeEntry
}

// Create a file inode and open it.
//
// The kernel sends this when the user asks to open a file with the O_CREAT
// flag and the kernel has observed that the file doesn't exist. (See for
// example lookup_open, http://goo.gl/PlqE9d).
type CreateFileOp struct {
	OpContext OpContext

	// The ID of parent directory inode within which to create the child file.
	Parent InodeID

	// The name of the child to create, and the mode with which to create it.
	Name string
	Mode os.FileMode

	// The flags passed to open(2).
	Flags uint32

	// See MkDirOp.Umask.
	Umask uint32

	// Set by the file system: information about the inode that was created.
	Entry ChildInodeEntry

	// Set by the file system: an opaque ID that will be echoed in follow-up
	// calls for this file using the same struct file in the kernel. In practice
	// this usually means follow-up calls using the file descriptor returned by
	// open(2).
	//
	// The handle may be supplied in future ops like ReadFileOp that contain a
	// file handle. The file system must ensure this ID remains valid until a
	// later call to ReleaseFileHandle.
	Handle HandleID

	// Set by the file system: see OpenFileOp.
	KeepPageCache bool
	UseDirectIO   bool
}

// Create a symlink inode. If the name already exists, the file system should
// return EEXIST (cf. the notes on CreateFileOp and MkDirOp).
type CreateSymlinkOp struct {
	OpContext OpContext

	// The ID of parent directory inode within which to create the child symlink.
	Parent InodeID

	// The name of the symlink to create.
	Name string

	// The target of the symlink.
	Target string

	// Set by the file system: information about the symlink inode that was
	// created.
	Entry ChildInodeEntry
}

// Create a hard link to an inode. If the name already exists, the file system
// should return EEXIST (cf. the notes on CreateFileOp and MkDirOp).
type CreateLinkOp struct {
	OpContext OpContext

	// The ID of parent directory inode within which to create the child.
	Parent InodeID

	// The name of the new inode.
	Name string

	// The ID of the target inode.
	Target InodeID

	// Set by the file system: information about the inode that was created.
	Entry ChildInodeEntry
}

////////////////////////////////////////////////////////////////////////
// Unlinking
////////////////////////////////////////////////////////////////////////

// Rename a file or directory, given the IDs of the original parent directory
// and the new one (which may be the same).
//
// In Linux, this is called by vfs_rename (https://goo.gl/eERItT), which is
// called by sys_renameat2 (https://goo.gl/fCC9qC).
//
// The kernel takes care of ensuring that the source and destination are not
// identical (in which case it does nothing), that the rename is not across
// file system boundaries, and that the destination doesn't already exist with
// the wrong type. Some subtleties that the file system must care about:
//
//  *  If the new name is an existing directory, the file system must ensure it
//     is empty before replacing it, returning ENOTEMPTY otherwise. (This is
//     per the posix spec: http://goo.gl/4XtT79)
//
//  *  The rename must be atomic from the point of view of an observer of the
//     new name. That is, if the new name already exists, there must be no
//     point at which it doesn't exist.
//
//  *  It is okay for the new name to be modified before the old name is
//     removed; these need not be atomic. In fact, the Linux man page
//     explicitly says this is likely (cf. https://goo.gl/Y1wVZc).
type RenameOp struct {
	OpContext OpContext

	// The old parent directory, and the name of the entry within it to be
	// relocated.
	OldParent InodeID
	OldName   string

	// The new parent directory, and the name of the entry to be created or
	// overwritten within it.
	NewParent InodeID
	NewName   string

	// The renameat2(2) flags (RENAME_NOREPLACE, RENAME_EXCHANGE, ...). Always
	// zero for a plain rename(2).
	Flags uint32
}

// Unlink a directory from its parent. Because directories cannot have a link
// count above one, this means the directory inode should be deleted as well
// once the kernel drops its references (see ForgetInodeOp).
//
// The file system is responsible for checking that the directory is empty.
//
// Sample implementation in ext2: ext2_rmdir (http://goo.gl/B9QmFf)
type RmDirOp struct {
	OpContext OpContext

	// The ID of parent directory inode, and the name of the directory being
	// removed within it.
	Parent InodeID
	Name   string
}

// Unlink a file or symlink from its parent. If this brings the inode's link
// count to zero, the inode should be deleted once the kernel drops its
// references (see ForgetInodeOp). It may still be referenced before then if a
// user still has the file open.
//
// Sample implementation in ext2: ext2_unlink (http://goo.gl/hY6r6C)
type UnlinkOp struct {
	OpContext OpContext

	// The ID of parent directory inode, and the name of the entry being removed
	// within it.
	Parent InodeID
	Name   string
}

////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////

// Open a directory inode.
//
// On Linux the kernel sends this when setting up a struct file for a
// particular inode with type directory, usually in response to an open(2) call
// from a user-space process.
type OpenDirOp struct {
	OpContext OpContext

	// The ID of the inode to be opened.
	Inode InodeID

	// The flags passed to open(2).
	Flags uint32

	// Set by the file system: an opaque ID that will be echoed in follow-up
	// calls for this directory using the same struct file in the kernel. In
	// practice this usually means follow-up calls using the file descriptor
	// returned by open(2).
	//
	// The handle may be supplied in future ops like ReadDirOp that contain a
	// directory handle. The file system must ensure this ID remains valid until
	// a later call to ReleaseDirHandle.
	Handle HandleID

	// Set by the file system: allow the kernel to cache the directory's
	// contents, and keep them across opens.
	CacheDir  bool
	KeepCache bool
}

// Read entries from a directory previously opened with OpenDir.
type ReadDirOp struct {
	OpContext OpContext

	// The directory inode that we are reading, and the handle previously
	// returned by OpenDir when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The offset within the directory at which to read.
	//
	// Warning: this field is not necessarily a count of bytes. Its legal values
	// are defined by the results returned in ReadDirResponse. See the notes
	// below and the notes on that struct.
	//
	// In the Linux kernel this ultimately comes from file::f_pos, which starts
	// at zero and is set by llseek and by the final consumed result returned by
	// each call to ReadDir:
	//
	//  *  (http://goo.gl/2nWJPL) iterate_dir, which is called by getdents(2) and
	//     readdir(2), sets dir_context::pos to file::f_pos before calling
	//     f_op->iterate, and then does the opposite assignment afterward.
	//
	//  *  (http://goo.gl/rTQVSL) fuse_readdir, which implements iterate for fuse
	//     directories, passes dir_context::pos as the offset to fuse_read_fill,
	//     which passes it on to user-space. fuse_readdir later calls
	//     parse_dirfile with the same context.
	//
	//  *  (http://goo.gl/vU5ukv) For each returned result (except perhaps the
	//     last, which may be truncated by the page boundary), parse_dirfile
	//     updates dir_context::pos with fuse_dirent::off.
	//
	// It is affected by the Posix directory stream interfaces in the following
	// manner:
	//
	//  *  (http://goo.gl/fQhbyn, http://goo.gl/ns1kDF) opendir initially causes
	//     filepos to be set to zero.
	//
	//  *  (http://goo.gl/ezNKyR, http://goo.gl/xOmDv0) readdir allows the user
	//     to iterate through the directory one entry at a time. As each entry is
	//     consumed, its d_off field is stored in __dirstream::filepos.
	//
	//  *  (http://goo.gl/WEOXG8, http://goo.gl/rjSXl3) telldir allows the user
	//     to obtain the d_off field from the most recently returned entry.
	//
	//  *  (http://goo.gl/WG3nDZ, http://goo.gl/Lp0U6W) seekdir allows the user
	//     to seek backward to an offset previously returned by telldir. It
	//     stores the new offset in filepos, and calls llseek to update the
	//     kernel's struct file.
	//
	//  *  (http://goo.gl/gONQhz, http://goo.gl/VlrQkc) rewinddir allows the user
	//     to go back to the beginning of the directory, obtaining a fresh view.
	//     It updates filepos and calls llseek to update the kernel's struct
	//     file.
	//
	// Unfortunately, FUSE offers no way to intercept seeks
	// (http://goo.gl/H6gEXa), so there is no way to cause seekdir or rewinddir
	// to fail. Additionally, there is no way to distinguish an explicit
	// rewinddir followed by readdir from the initial readdir, or a rewinddir
	// from a seekdir to the value returned by telldir just after opendir.
	//
	// Luckily, Posix is vague about what the user will see if they seek
	// backwards, and requires the user not to seek to an old offset after a
	// rewind. The only requirement on freshness is that rewinddir results in
	// something that looks like a newly-opened directory. So FUSE file systems
	// may e.g. cache an entire fresh listing for each ReadDir with a zero
	// offset, and return array offsets into that cached listing.
	Offset DirOffset

	// The maximum number of bytes the kernel will accept.
	Size int

	// Set by the file system: the entries following Offset, in order. Each
	// entry's Offset must name the position after it. Entries that do not fit
	// in Size bytes are dropped; the kernel asks again from the last offset it
	// received. An empty list indicates the end of the directory.
	Entries []Dirent
}

// Like ReadDirOp, but the kernel also wants a lookup result for each entry so
// it can populate its caches without a LookUpInodeOp per name. Only sent when
// the connection negotiated InitDoReaddirplus.
type ReadDirPlusOp struct {
	OpContext OpContext

	Inode  InodeID
	Handle HandleID
	Offset DirOffset
	Size   int

	// Set by the file system. See ReadDirOp.Entries.
	Entries []DirentPlus
}

// Release a previously-minted directory handle. The kernel sends this when
// there are no more references to an open directory: all file descriptors are
// closed and all memory mappings are unmapped.
//
// The kernel guarantees that the handle ID will not be used in further ops
// sent to the file system (unless it is reissued by the file system).
type ReleaseDirHandleOp struct {
	OpContext OpContext

	// The directory inode and the handle ID to be released.
	Inode  InodeID
	Handle HandleID

	// The flags the directory was opened with.
	Flags uint32
}

// Synchronize the contents of a directory to stable storage. Sent for
// fsync(2) on a directory file descriptor.
type SyncDirOp struct {
	OpContext OpContext

	Inode  InodeID
	Handle HandleID

	// Set for fdatasync(2): only the directory contents, not its metadata,
	// need to be made durable.
	DataOnly bool
}

////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////

// Open a file inode.
//
// On Linux the kernel sends this when setting up a struct file for a
// particular inode with type file, usually in response to an open(2) call from
// a user-space process. On a CUSE connection it is sent for every open(2) of
// the device, with a zero Inode.
type OpenFileOp struct {
	OpContext OpContext

	// The ID of the inode to be opened.
	Inode InodeID

	// The flags passed to open(2).
	Flags uint32

	// Set by the file system: an opaque ID that will be echoed in follow-up
	// calls for this file using the same struct file in the kernel. In practice
	// this usually means follow-up calls using the file descriptor returned by
	// open(2).
	//
	// The handle may be supplied in future ops like ReadFileOp that contain a
	// file handle. The file system must ensure this ID remains valid until a
	// later call to ReleaseFileHandle.
	Handle HandleID

	// Set by the file system: keep the page cache from a previous open of the
	// same inode, bypass it entirely, or declare the file non-seekable.
	KeepPageCache bool
	UseDirectIO   bool
	NonSeekable   bool
}

// Read data from a file previously opened with CreateFile or OpenFile.
//
// Note that this op is not sent for every call to read(2) by the end user;
// some reads may be served by the page cache. See notes on WriteFileOp for
// more.
type ReadFileOp struct {
	OpContext OpContext

	// The file inode that we are reading, and the handle previously returned by
	// CreateFile or OpenFile when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The range of the file to read.
	//
	// The FUSE documentation requires that exactly the number of bytes be
	// returned, except in the case of EOF or error (http://goo.gl/ZgfBkF). This
	// appears to be because it uses file mmapping machinery
	// (http://goo.gl/SGxnaN) to read a page at a time. It appears to understand
	// where EOF is by checking the inode size (http://goo.gl/0BkqKD), returned
	// by a previous call to LookUpInode, GetInodeAttributes, etc.
	Offset int64
	Size   int

	// The lock owner of the file table entry, if the kernel sent one.
	LockOwner *LockOwner

	// Set by the file system: the data read. If this is less than the
	// requested size, it indicates EOF. An error should not be returned in
	// this case. Data beyond Size is not sent.
	Data []byte
}

// Write data to a file previously opened with CreateFile or OpenFile.
//
// When the user writes data using write(2), the write goes into the page
// cache and the page is marked dirty. Later the kernel may write back the
// page via the FUSE VFS layer, causing this op to be sent:
//
//  *  The kernel calls address_space_operations::writepage when a dirty page
//     needs to be written to backing store (cf. http://goo.gl/Ezbewg). Fuse
//     sets this to fuse_writepage (cf. http://goo.gl/IeNvLT).
//
//  *  (http://goo.gl/Eestuy) fuse_writepage calls fuse_writepage_locked.
//
//  *  (http://goo.gl/RqYIxY) fuse_writepage_locked makes a write request to
//     the userspace server.
//
// Note that the kernel *will* write out dirty pages before sending
// FlushFileOp when closing the file descriptor to which they were written.
type WriteFileOp struct {
	OpContext OpContext

	// The file inode that we are modifying, and the handle previously returned
	// by CreateFile or OpenFile when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The offset at which to write the data below.
	//
	// The man page for pwrite(2) implies that aside from changing the file
	// handle's offset, using pwrite is equivalent to using lseek(2) and then
	// write(2). The man page for lseek(2) says the following:
	//
	// "The lseek() function allows the file offset to be set beyond the end of
	// the file (but this does not change the size of the file). If data is later
	// written at this point, subsequent reads of the data in the gap (a "hole")
	// return null bytes (aq\0aq) until data is actually written into the gap."
	//
	// It is therefore reasonable to assume that the kernel is looking for
	// the following semantics:
	//
	// *   If the offset is less than or equal to the current size, extend the
	//     file as necessary to fit any data that goes past the end of the file.
	//
	// *   If the offset is greater than the current size, extend the file
	//     with null bytes until it is not, then do the above.
	//
	Offset int64

	// The data to write. It aliases the connection's message buffer and must
	// not be retained after the op returns.
	//
	// The FUSE documentation requires that exactly the number of bytes supplied
	// be written, except on error (http://goo.gl/KUpwwn). This appears to be
	// because it uses file mmapping machinery (http://goo.gl/SGxnaN) to write a
	// page at a time.
	Data []byte

	// WRITE_* flags, and the lock owner if the kernel sent one.
	Flags     uint32
	LockOwner *LockOwner
}

// Synchronize the current contents of an open file to storage.
//
// vfs.txt documents this as being called for by the fsync(2) system call
// (cf. http://goo.gl/j9X8nB). Code walk for that case:
//
//  *  (http://goo.gl/IQkWZa) sys_fsync calls do_fsync, calls vfs_fsync, calls
//     vfs_fsync_range.
//
//  *  (http://goo.gl/5L2SMy) vfs_fsync_range calls f_op->fsync.
//
// Note that this is also sent by fdatasync(2) (cf. http://goo.gl/01R7rF), and
// may be sent for msync(2) with the MS_SYNC flag (see the notes on
// FlushFileOp).
type SyncFileOp struct {
	OpContext OpContext

	// The file and handle being sync'd.
	Inode  InodeID
	Handle HandleID

	// Set for fdatasync(2).
	DataOnly bool
}

// Flush the current state of an open file to storage upon closing a file
// descriptor.
//
// vfs.txt documents this as being sent for each close(2) system call (cf.
// http://goo.gl/FSkbrq). Code walk for that case:
//
//  *  (http://goo.gl/e3lv0e) sys_close calls __close_fd, calls filp_close.
//  *  (http://goo.gl/nI8fxD) filp_close calls f_op->flush (fuse_flush).
//
// But note that this is also sent in other contexts where a file descriptor
// is closed, such as dup2(2) (cf. http://goo.gl/NQDvFS).
//
// One potentially significant case where this may not be sent is mmap'd
// files, where the behavior is complicated:
//
//  *  munmap(2) does not cause flushes (cf. http://goo.gl/j8B9g0).
//
//  *  On Linux, if a user modifies a shared mmap'd file and then closes the
//     file descriptor, a flush will be sent before the changes are written
//     back.
//
// In short, if you care about data written through mmap'd files you must
// handle SyncFileOp as well.
type FlushFileOp struct {
	OpContext OpContext

	// The file and handle being flushed.
	Inode  InodeID
	Handle HandleID

	// The owner of the file table entry being closed.
	LockOwner LockOwner
}

// Release a previously-minted file handle. The kernel sends this when there
// are no more references to an open file: all file descriptors are closed
// and all memory mappings are unmapped.
//
// The kernel guarantees that the handle ID will not be used in further calls
// to the file system (unless it is reissued by the file system).
type ReleaseFileHandleOp struct {
	OpContext OpContext

	// The file inode and the handle being released.
	Inode  InodeID
	Handle HandleID

	// The flags the file was opened with, and the lock owner of the last
	// file table entry.
	Flags     uint32
	LockOwner LockOwner

	// Set when the release doubles as a flush, or must drop flock(2) locks
	// held by LockOwner.
	Flush       bool
	FlockUnlock bool
}

////////////////////////////////////////////////////////////////////////
// Reading symlinks
////////////////////////////////////////////////////////////////////////

// Read the target of a symlink inode.
type ReadSymlinkOp struct {
	OpContext OpContext

	// The symlink inode that we are reading.
	Inode InodeID

	// Set by the file system: the target of the symlink.
	Target string
}

////////////////////////////////////////////////////////////////////////
// eXtended attributes
////////////////////////////////////////////////////////////////////////

// Get an extended attribute.
//
// If the caller asked for the size only, Size is zero and the value is not
// sent back; only its length is. If the value is longer than a non-zero Size,
// the kernel receives ERANGE.
type GetXattrOp struct {
	OpContext OpContext

	// The inode whose extended attribute we are reading.
	Inode InodeID

	// The name of the extended attribute.
	Name string

	// The size of the caller's buffer.
	Size int

	// Set by the file system: the value. Return ENODATA if there is no such
	// attribute.
	Value []byte
}

// List all extended attributes of an inode. Size behaves as in GetXattrOp.
type ListXattrOp struct {
	OpContext OpContext

	// The inode whose extended attributes we are listing.
	Inode InodeID

	// The size of the caller's buffer.
	Size int

	// Set by the file system: the attribute names.
	Names []string
}

// Set an extended attribute.
type SetXattrOp struct {
	OpContext OpContext

	// The inode whose extended attribute we are setting.
	Inode InodeID

	// The name and value of the extended attribute.
	Name  string
	Value []byte

	// XATTR_CREATE or XATTR_REPLACE, see setxattr(2).
	Flags uint32
}

// Remove an extended attribute.
type RemoveXattrOp struct {
	OpContext OpContext

	// The inode whose extended attribute we are removing.
	Inode InodeID

	// The name of the extended attribute.
	Name string
}

////////////////////////////////////////////////////////////////////////
// Permissions, locks, mapping
////////////////////////////////////////////////////////////////////////

// Check whether the caller may access an inode, as in access(2). Only sent
// when the kernel does not check permissions itself.
type AccessOp struct {
	OpContext OpContext

	Inode InodeID

	// R_OK, W_OK, X_OK or F_OK bits.
	Mask uint32
}

// Test for a conflicting POSIX lock, as in fcntl(F_GETLK).
type GetLockOp struct {
	OpContext OpContext

	Inode  InodeID
	Handle HandleID
	Owner  LockOwner

	// The lock the caller would like to place.
	Lock FileLock

	// Set by the file system: the first conflicting lock, or a lock with Type
	// F_UNLOCK if there is none.
	Conflict FileLock
}

// Acquire or release a lock, as in fcntl(F_SETLK), fcntl(F_SETLKW) or
// flock(2).
type SetLockOp struct {
	OpContext OpContext

	Inode  InodeID
	Handle HandleID
	Owner  LockOwner
	Lock   FileLock

	// Set for F_SETLKW: block until the lock can be taken. Blocked requests are
	// cancelled through the op's context when the caller is interrupted.
	Wait bool

	// Set when the request comes from flock(2) rather than fcntl(2).
	Flock bool
}

// Map a file block to a device block, for FIBMAP on block-device backed file
// systems.
type BmapOp struct {
	OpContext OpContext

	Inode     InodeID
	BlockSize uint32

	// The file block on the way in. Set by the file system to the device block.
	Block uint64
}

// Control a device or file, as in ioctl(2).
//
// For ordinary file systems the kernel only forwards ioctls whose argument
// sizes it can infer from the command encoding. CUSE devices negotiated with
// unrestricted ioctls see every command.
type IoctlOp struct {
	OpContext OpContext

	Inode  InodeID
	Handle HandleID

	// IOCTL_* flags, the command and its raw argument.
	Flags uint32
	Cmd   uint32
	Arg   uint64

	// Data copied in from the caller, and the space the caller has for data
	// copied back out.
	InData  []byte
	OutSize int

	// Set by the file system: the value ioctl(2) returns, and the data to copy
	// out. Data beyond OutSize is not sent.
	Result  int32
	OutData []byte
}

// Manipulate allocated disk space for a file, as in fallocate(2).
type FallocateOp struct {
	OpContext OpContext

	Inode  InodeID
	Handle HandleID
	Offset uint64
	Length uint64

	// FALLOC_FL_* flags.
	Mode uint32
}

// Reposition the offset of an open file, for the lseek(2) whences the kernel
// cannot answer itself (SEEK_DATA and SEEK_HOLE).
type LseekOp struct {
	OpContext OpContext

	Inode  InodeID
	Handle HandleID
	Offset int64
	Whence int

	// Set by the file system: the resulting offset.
	Result int64
}
