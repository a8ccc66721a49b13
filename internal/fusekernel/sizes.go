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

// Sizes of the layouts in layout.go, in bytes.
const (
	InHeaderSize      = 40
	OutHeaderSize     = 16
	AttrSize          = 88
	KstatfsSize       = 80
	FileLockSize      = 24
	EntryOutSize      = 40 + AttrSize
	ForgetInSize      = 8
	ForgetOneSize     = 16
	BatchForgetInSize = 8
	GetattrInSize     = 16
	AttrOutSize       = 16 + AttrSize
	MknodInSize       = 16
	MkdirInSize       = 8
	RenameInSize      = 8
	Rename2InSize     = 16
	LinkInSize        = 8
	SetattrInSize     = 88
	OpenInSize        = 8
	CreateInSize      = 16
	OpenOutSize       = 16
	ReleaseInSize     = 24
	FlushInSize       = 24
	ReadInSize        = 40
	WriteInSize       = 40
	WriteOutSize      = 8
	StatfsOutSize     = KstatfsSize
	FsyncInSize       = 16
	SetxattrInSize    = 8
	GetxattrInSize    = 8
	GetxattrOutSize   = 8
	LkInSize          = 16 + FileLockSize + 8
	LkOutSize         = FileLockSize
	AccessInSize      = 8
	InitInSize        = 16
	InitOutSize       = 64
	CuseInitInSize    = 16
	CuseInitOutSize   = 72
	InterruptInSize   = 8
	BmapInSize        = 16
	BmapOutSize       = 8
	IoctlInSize       = 32
	IoctlOutSize      = 16
	FallocateInSize   = 32
	LseekInSize       = 24
	LseekOutSize      = 8
	DirentSize        = 24
	DirentAlign       = 8
)

// Sizes of the layouts used by older protocol versions.
const (
	CompatAttrSize      = 80
	CompatEntryOutSize  = 40 + CompatAttrSize
	CompatAttrOutSize   = 16 + CompatAttrSize
	CompatMknodInSize   = 8
	CompatCreateInSize  = 8
	CompatReadInSize    = 24
	CompatWriteInSize   = 24
	CompatReleaseInSize = 16
	CompatFlushInSize   = 16
	CompatStatfsSize    = 48
	CompatInitInSize    = 8
	CompatInitOutSize   = 8
	Compat22InitOutSize = 24
)

func AttrSizeFor(p Protocol) int {
	if p.HasAttrBlockSize() {
		return AttrSize
	}
	return CompatAttrSize
}

func EntryOutSizeFor(p Protocol) int {
	if p.HasAttrBlockSize() {
		return EntryOutSize
	}
	return CompatEntryOutSize
}

func AttrOutSizeFor(p Protocol) int {
	if p.HasAttrBlockSize() {
		return AttrOutSize
	}
	return CompatAttrOutSize
}

func MknodInSizeFor(p Protocol) int {
	if p.HasUmask() {
		return MknodInSize
	}
	return CompatMknodInSize
}

func CreateInSizeFor(p Protocol) int {
	if p.HasUmask() {
		return CreateInSize
	}
	return CompatCreateInSize
}

func ReadInSizeFor(p Protocol) int {
	if p.HasReadWriteFlags() {
		return ReadInSize
	}
	return CompatReadInSize
}

func WriteInSizeFor(p Protocol) int {
	if p.HasReadWriteFlags() {
		return WriteInSize
	}
	return CompatWriteInSize
}

func ReleaseInSizeFor(p Protocol) int {
	if p.HasReleaseLockOwner() {
		return ReleaseInSize
	}
	return CompatReleaseInSize
}

func FlushInSizeFor(p Protocol) int {
	if p.HasReleaseLockOwner() {
		return FlushInSize
	}
	return CompatFlushInSize
}

func StatfsOutSizeFor(p Protocol) int {
	if p.HasStatfsFrsize() {
		return StatfsOutSize
	}
	return CompatStatfsSize
}

// GetattrInSizeFor returns zero for versions that send GETATTR without a
// body.
func GetattrInSizeFor(p Protocol) int {
	if p.HasGetattrFlags() {
		return GetattrInSize
	}
	return 0
}

// InitOutSizeFor returns the size of the INIT reply the kernel expects from a
// daemon speaking p.
func InitOutSizeFor(p Protocol) int {
	switch {
	case p.LT(Protocol{7, 5}):
		return CompatInitOutSize
	case p.LT(Protocol{7, 23}):
		return Compat22InitOutSize
	default:
		return InitOutSize
	}
}

// DirentLen returns the padded size of a directory entry with a name of the
// given length.
func DirentLen(namelen int) int {
	return (DirentSize + namelen + DirentAlign - 1) &^ (DirentAlign - 1)
}

// DirentplusLen is like DirentLen, for READDIRPLUS records. READDIRPLUS
// only exists from 7.21 on, so the entry always has the full layout.
func DirentplusLen(namelen int) int {
	return EntryOutSize + DirentLen(namelen)
}
