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

package fusekernel

import "fmt"

// Opcode selects the operation a request asks for.
type Opcode uint32

const (
	OpLookup        Opcode = 1
	OpForget        Opcode = 2 // no reply
	OpGetattr       Opcode = 3
	OpSetattr       Opcode = 4
	OpReadlink      Opcode = 5
	OpSymlink       Opcode = 6
	OpMknod         Opcode = 8
	OpMkdir         Opcode = 9
	OpUnlink        Opcode = 10
	OpRmdir         Opcode = 11
	OpRename        Opcode = 12
	OpLink          Opcode = 13
	OpOpen          Opcode = 14
	OpRead          Opcode = 15
	OpWrite         Opcode = 16
	OpStatfs        Opcode = 17
	OpRelease       Opcode = 18
	OpFsync         Opcode = 20
	OpSetxattr      Opcode = 21
	OpGetxattr      Opcode = 22
	OpListxattr     Opcode = 23
	OpRemovexattr   Opcode = 24
	OpFlush         Opcode = 25
	OpInit          Opcode = 26
	OpOpendir       Opcode = 27
	OpReaddir       Opcode = 28
	OpReleasedir    Opcode = 29
	OpFsyncdir      Opcode = 30
	OpGetlk         Opcode = 31
	OpSetlk         Opcode = 32
	OpSetlkw        Opcode = 33
	OpAccess        Opcode = 34
	OpCreate        Opcode = 35
	OpInterrupt     Opcode = 36 // no reply
	OpBmap          Opcode = 37
	OpDestroy       Opcode = 38
	OpIoctl         Opcode = 39
	OpPoll          Opcode = 40
	OpNotifyReply   Opcode = 41 // no reply
	OpBatchForget   Opcode = 42 // no reply
	OpFallocate     Opcode = 43
	OpReaddirplus   Opcode = 44
	OpRename2       Opcode = 45
	OpLseek         Opcode = 46
	OpCopyFileRange Opcode = 47

	OpCuseInit Opcode = 4096
)

var opcodeNames = map[Opcode]string{
	OpLookup:        "LOOKUP",
	OpForget:        "FORGET",
	OpGetattr:       "GETATTR",
	OpSetattr:       "SETATTR",
	OpReadlink:      "READLINK",
	OpSymlink:       "SYMLINK",
	OpMknod:         "MKNOD",
	OpMkdir:         "MKDIR",
	OpUnlink:        "UNLINK",
	OpRmdir:         "RMDIR",
	OpRename:        "RENAME",
	OpLink:          "LINK",
	OpOpen:          "OPEN",
	OpRead:          "READ",
	OpWrite:         "WRITE",
	OpStatfs:        "STATFS",
	OpRelease:       "RELEASE",
	OpFsync:         "FSYNC",
	OpSetxattr:      "SETXATTR",
	OpGetxattr:      "GETXATTR",
	OpListxattr:     "LISTXATTR",
	OpRemovexattr:   "REMOVEXATTR",
	OpFlush:         "FLUSH",
	OpInit:          "INIT",
	OpOpendir:       "OPENDIR",
	OpReaddir:       "READDIR",
	OpReleasedir:    "RELEASEDIR",
	OpFsyncdir:      "FSYNCDIR",
	OpGetlk:         "GETLK",
	OpSetlk:         "SETLK",
	OpSetlkw:        "SETLKW",
	OpAccess:        "ACCESS",
	OpCreate:        "CREATE",
	OpInterrupt:     "INTERRUPT",
	OpBmap:          "BMAP",
	OpDestroy:       "DESTROY",
	OpIoctl:         "IOCTL",
	OpPoll:          "POLL",
	OpNotifyReply:   "NOTIFY_REPLY",
	OpBatchForget:   "BATCH_FORGET",
	OpFallocate:     "FALLOCATE",
	OpReaddirplus:   "READDIRPLUS",
	OpRename2:       "RENAME2",
	OpLseek:         "LSEEK",
	OpCopyFileRange: "COPY_FILE_RANGE",
	OpCuseInit:      "CUSE_INIT",
}

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}

	return fmt.Sprintf("OPCODE_%d", uint32(op))
}

// ExpectsReply returns false for the operations the kernel never waits on.
func (op Opcode) ExpectsReply() bool {
	switch op {
	case OpForget, OpBatchForget, OpInterrupt, OpNotifyReply:
		return false
	}

	return true
}
