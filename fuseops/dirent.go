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
	"os"
	"syscall"
)

type DirentType uint32

const (
	DT_Unknown   DirentType = 0
	DT_Socket    DirentType = syscall.DT_SOCK
	DT_Link      DirentType = syscall.DT_LNK
	DT_File      DirentType = syscall.DT_REG
	DT_Block     DirentType = syscall.DT_BLK
	DT_Directory DirentType = syscall.DT_DIR
	DT_Char      DirentType = syscall.DT_CHR
	DT_FIFO      DirentType = syscall.DT_FIFO
)

// DirentTypeOf returns the directory entry type matching the type bits of
// mode.
func DirentTypeOf(mode os.FileMode) DirentType {
	switch {
	case mode&os.ModeDir != 0:
		return DT_Directory
	case mode&os.ModeSymlink != 0:
		return DT_Link
	case mode&os.ModeNamedPipe != 0:
		return DT_FIFO
	case mode&os.ModeSocket != 0:
		return DT_Socket
	case mode&os.ModeCharDevice != 0:
		return DT_Char
	case mode&os.ModeDevice != 0:
		return DT_Block
	case mode&os.ModeType == 0:
		return DT_File
	}

	return DT_Unknown
}

func (t DirentType) String() string {
	switch t {
	case DT_Socket:
		return "socket"
	case DT_Link:
		return "symlink"
	case DT_File:
		return "file"
	case DT_Block:
		return "block"
	case DT_Directory:
		return "directory"
	case DT_Char:
		return "char"
	case DT_FIFO:
		return "fifo"
	}

	return "unknown"
}

// A struct representing an entry within a directory file, describing a child.
// See notes on ReadDirOp for details.
type Dirent struct {
	// The (opaque) offset within the directory file of the entry following this
	// one. See notes on ReadDirOp.Offset for details.
	Offset DirOffset

	// The inode of the child file or directory, and its name within the parent.
	Inode InodeID
	Name  string

	// The type of the child. The zero value (DT_Unknown) is legal, but means
	// that the kernel will need to call GetAttr when the type is needed.
	Type DirentType
}

// A directory entry together with the lookup result for it, as returned by
// ReadDirPlusOp. Returning an entry counts as a lookup of Entry.Child, except
// for "." and "..".
type DirentPlus struct {
	Dirent Dirent
	Entry  ChildInodeEntry
}
