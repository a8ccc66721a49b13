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

package fuseops

import (
	"fmt"
	"os"
	"time"

	"github.com/kernelwire/fuse/internal/fusekernel"
)

// A 64-bit number used to uniquely identify a file or directory in the file
// system. File systems may mint inode IDs with any value except for
// RootInodeID and zero.
//
// This corresponds to struct inode::i_no in the VFS layer.
// (Cf. http://goo.gl/tvYyQt)
type InodeID uint64

// A distinguished inode ID that identifies the root of the file system, e.g.
// in a request to OpenDir or LookUpInode. Unlike all other inode IDs, which
// are minted by the file system, the FUSE VFS layer may send a request for
// this ID without the file system ever having referenced it in a previous
// response.
const RootInodeID = 1

func init() {
	// Make sure the constant above is correct. It is kept untyped so that it
	// can be used as an array index.
	if RootInodeID != fusekernel.RootID {
		panic(
			fmt.Sprintf(
				"Oops, RootInodeID is wrong: %v vs. %v",
				RootInodeID,
				fusekernel.RootID))
	}
}

// Attributes for a file or directory inode. Corresponds to struct inode (cf.
// http://goo.gl/tvYyQt).
type InodeAttributes struct {
	Size uint64

	// The number of incoming hard links to this inode.
	Nlink uint32

	// The mode of the inode. This is exposed to the user in e.g. the result of
	// fstat(2).
	Mode os.FileMode

	// The device number, for character and block device inodes.
	Rdev uint32

	// The preferred I/O size, reported as st_blksize. Zero lets the kernel pick
	// its default. Ignored by kernels older than protocol 7.9.
	BlockSize uint32

	// Time information. See `man 2 stat` for full details.
	Atime time.Time // Time of last access
	Mtime time.Time // Time of last modification
	Ctime time.Time // Time of last modification to inode

	// Ownership information
	Uid uint32
	Gid uint32
}

func (a *InodeAttributes) DebugString() string {
	return fmt.Sprintf(
		"%d %d %v %d %d",
		a.Size,
		a.Nlink,
		a.Mode,
		a.Uid,
		a.Gid)
}

// A generation number for an inode. Irrelevant for file systems that won't be
// exported over NFS. For those that will and that reuse inode IDs when they
// become free, the generation number must change when an ID is reused.
//
// This corresponds to struct inode::i_generation in the VFS layer.
// (Cf. http://goo.gl/tvYyQt)
type GenerationNumber uint64

// An opaque 64-bit number used to identify a particular open handle to a file
// or directory.
//
// This corresponds to fuse_file_info::fh.
type HandleID uint64

// An offset into an open directory handle. This is opaque to FUSE, and can be
// used for whatever purpose the file system desires. See notes on
// ReadDirOp.Offset for details.
type DirOffset uint64

// An opaque identifier for the owner of a lock or of the file table entry an
// operation came through. Only transported.
type LockOwner uint64

// OpContext describes the request being served. It is included with every op.
type OpContext struct {
	// The kernel's ID for the request. Unique among requests in flight.
	Unique uint64

	// Credentials of the process that caused the request.
	Uid uint32
	Gid uint32
	Pid uint32
}

// Information about a child inode within its parent directory. Shared by the
// responses for LookUpInode, MkDir, CreateFile, etc. Consumed by the kernel in
// order to set up a dcache entry.
type ChildInodeEntry struct {
	// The ID of the child inode. The file system must ensure that the returned
	// inode ID remains valid until a later ForgetInodeOp for it.
	//
	// Returning an entry counts as one lookup of Child. The connection keeps
	// the count, and hands the file system a ForgetInodeOp once the kernel has
	// dropped every lookup it was given.
	Child InodeID

	// A generation number for this incarnation of the inode with the given ID.
	// See comments on type GenerationNumber for more.
	Generation GenerationNumber

	// Current attributes for the child inode.
	//
	// When creating a new inode, the file system is responsible for initializing
	// and recording (where supported) attributes like time information,
	// ownership information, etc.
	Attributes InodeAttributes

	// The FUSE VFS layer in the kernel maintains a cache of file attributes,
	// used whenever up to date information about size, mode, etc. is needed.
	// This field controls when the attributes returned in this response and
	// stashed in the struct inode should be re-queried. Leave at the zero value
	// to disable caching.
	//
	// More reading:
	//     http://stackoverflow.com/q/21540315/1505451
	AttributesExpiration time.Time

	// The time until which the kernel may maintain an entry for this name to
	// inode mapping in its dentry cache. After this time, it will revalidate the
	// dentry by sending another LookUpInodeOp.
	//
	// Leave at the zero value to disable caching.
	EntryExpiration time.Time
}

// The kinds of POSIX lock carried by GetLockOp and SetLockOp.
type LockType uint32

const (
	F_RDLOCK LockType = iota
	F_WRLOCK
	F_UNLOCK
)

func (t LockType) String() string {
	switch t {
	case F_RDLOCK:
		return "F_RDLCK"
	case F_WRLOCK:
		return "F_WRLCK"
	case F_UNLOCK:
		return "F_UNLCK"
	}

	return fmt.Sprintf("LockType(%d)", uint32(t))
}

// A byte-range lock, as in struct flock. End is inclusive; math.MaxUint64 means
// "to the end of the file".
type FileLock struct {
	Start uint64
	End   uint64
	Type  LockType
	Pid   uint32
}
