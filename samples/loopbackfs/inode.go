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

package loopbackfs

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kernelwire/fuse/fuseops"
)

// An inode is a path within the mirrored directory. IDs are the host's inode
// numbers, except for the root.
type inode struct {
	id   fuseops.InodeID
	path string
}

func (in inode) String() string {
	return fmt.Sprintf("%v::%v", in.id, in.path)
}

func (in inode) child(name string) string {
	return filepath.Join(in.path, name)
}

// Stat path without following symlinks, returning the ID to use for it and
// its attributes.
func statPath(path string) (id fuseops.InodeID, attrs fuseops.InodeAttributes, err error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return
	}

	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		err = fmt.Errorf("no stat_t for %s", path)
		return
	}

	id = fuseops.InodeID(st.Ino)
	attrs = fuseops.InodeAttributes{
		Size:      uint64(st.Size),
		Nlink:     uint32(st.Nlink),
		Mode:      fi.Mode(),
		Rdev:      uint32(st.Rdev),
		BlockSize: uint32(st.Blksize),
		Atime:     time.Unix(st.Atim.Unix()),
		Mtime:     time.Unix(st.Mtim.Unix()),
		Ctime:     time.Unix(st.Ctim.Unix()),
		Uid:       st.Uid,
		Gid:       st.Gid,
	}

	return
}
