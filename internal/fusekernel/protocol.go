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

// Package fusekernel contains the kernel side of the FUSE and CUSE ABI: opcodes,
// flag bits, message layouts and the protocol-version rules that decide which
// layout is in effect. It mirrors include/uapi/linux/fuse.h.
package fusekernel

import "fmt"

// The range of protocol versions spoken by this package.
const (
	ProtoVersionMinMajor = 7
	ProtoVersionMinMinor = 1
	ProtoVersionMaxMajor = 7
	ProtoVersionMaxMinor = 31
)

// The node ID of the root of the file system.
const RootID = 1

// The smallest read buffer the kernel accepts on /dev/fuse.
const MinReadBuffer = 8192

// The largest device info string accepted in a CUSE_INIT reply.
const CuseInitInfoMax = 4096

// The kernel's default limit on the pages in a single request, and the maximum
// it allows when FUSE_MAX_PAGES is negotiated.
const (
	DefaultMaxPages = 32
	MaxMaxPages     = 256
	PageSize        = 4096
)

// Protocol is a FUSE protocol version number.
type Protocol struct {
	Major uint32
	Minor uint32
}

// LatestProtocol returns the newest version spoken by this package.
func LatestProtocol() Protocol {
	return Protocol{ProtoVersionMaxMajor, ProtoVersionMaxMinor}
}

// OldestProtocol returns the oldest version spoken by this package.
func OldestProtocol() Protocol {
	return Protocol{ProtoVersionMinMajor, ProtoVersionMinMinor}
}

func (p Protocol) String() string {
	return fmt.Sprintf("%d.%d", p.Major, p.Minor)
}

// LT returns whether a is less than b.
func (a Protocol) LT(b Protocol) bool {
	return a.Major < b.Major ||
		(a.Major == b.Major && a.Minor < b.Minor)
}

// GE returns whether a is greater than or equal to b.
func (a Protocol) GE(b Protocol) bool {
	return !a.LT(b)
}

// IsZero reports whether no version has been negotiated.
func (p Protocol) IsZero() bool {
	return p.Major == 0 && p.Minor == 0
}

// HasAttrBlockSize returns whether Attr.Blksize is respected by the kernel.
func (p Protocol) HasAttrBlockSize() bool {
	return p.GE(Protocol{7, 9})
}

// HasReadWriteFlags returns whether ReadIn and WriteIn carry lock owners and
// open flags.
func (p Protocol) HasReadWriteFlags() bool {
	return p.GE(Protocol{7, 9})
}

// HasGetattrFlags returns whether GETATTR carries a GetattrIn body.
func (p Protocol) HasGetattrFlags() bool {
	return p.GE(Protocol{7, 9})
}

// HasUmask returns whether MknodIn and CreateIn carry the umask.
func (p Protocol) HasUmask() bool {
	return p.GE(Protocol{7, 12})
}

// HasReleaseLockOwner returns whether ReleaseIn and FlushIn carry a lock
// owner.
func (p Protocol) HasReleaseLockOwner() bool {
	return p.GE(Protocol{7, 8})
}

// HasStatfsFrsize returns whether StatfsOut carries the fragment size.
func (p Protocol) HasStatfsFrsize() bool {
	return p.GE(Protocol{7, 4})
}

// HasInitFlags returns whether InitIn carries readahead and capability flags.
func (p Protocol) HasInitFlags() bool {
	return p.GE(Protocol{7, 6})
}
