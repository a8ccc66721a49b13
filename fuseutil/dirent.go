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
	"github.com/kernelwire/fuse/fuseops"
)

// EntriesFrom returns the entries a ReadDirOp at the given offset should
// return, for a directory whose listing is fixed and whose entry i carries
// Offset i+1. Return nil for offsets past the end.
func EntriesFrom(entries []fuseops.Dirent, offset fuseops.DirOffset) []fuseops.Dirent {
	if offset > fuseops.DirOffset(len(entries)) {
		return nil
	}

	return entries[offset:]
}

// NumberDirents sets the Offset field of each entry to one past its index,
// which is the convention EntriesFrom expects.
func NumberDirents(entries []fuseops.Dirent) {
	for i := range entries {
		entries[i].Offset = fuseops.DirOffset(i + 1)
	}
}
