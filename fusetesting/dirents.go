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

package fusetesting

import (
	"fmt"

	"github.com/kernelwire/fuse/internal/fusekernel"
)

// A directory entry as parsed from a READDIR or READDIRPLUS reply.
type ParsedDirent struct {
	fusekernel.Dirent
	Name string

	// Only filled in for READDIRPLUS.
	Entry fusekernel.EntryOut
}

// Parse the body of a READDIR reply.
func ParseDirents(b []byte) ([]ParsedDirent, error) {
	return parseDirents(b, false)
}

// Parse the body of a READDIRPLUS reply.
func ParseDirentsPlus(b []byte) ([]ParsedDirent, error) {
	return parseDirents(b, true)
}

func parseDirents(b []byte, plus bool) (entries []ParsedDirent, err error) {
	for len(b) > 0 {
		var e ParsedDirent

		if plus {
			if len(b) < fusekernel.EntryOutSize {
				return nil, fmt.Errorf("truncated entry: %d bytes left", len(b))
			}

			if err = Decode(b[:fusekernel.EntryOutSize], &e.Entry); err != nil {
				return
			}
			b = b[fusekernel.EntryOutSize:]
		}

		if len(b) < fusekernel.DirentSize {
			return nil, fmt.Errorf("truncated dirent: %d bytes left", len(b))
		}

		if err = Decode(b[:fusekernel.DirentSize], &e.Dirent); err != nil {
			return
		}

		n := fusekernel.DirentLen(int(e.Namelen))
		if len(b) < n {
			return nil, fmt.Errorf("truncated name: %d bytes left, need %d", len(b), n)
		}

		e.Name = string(b[fusekernel.DirentSize : fusekernel.DirentSize+int(e.Namelen)])
		for _, pad := range b[fusekernel.DirentSize+int(e.Namelen) : n] {
			if pad != 0 {
				return nil, fmt.Errorf("non-zero padding after %q", e.Name)
			}
		}

		entries = append(entries, e)
		b = b[n:]
	}

	return
}
