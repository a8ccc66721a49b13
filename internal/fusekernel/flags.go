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

import (
	"fmt"
	"strings"
)

type flagName struct {
	bit  uint32
	name string
}

func flagString(f uint32, names []flagName) string {
	var parts []string
	for _, n := range names {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
			f &^= n.bit
		}
	}

	if f != 0 {
		parts = append(parts, fmt.Sprintf("%#x", f))
	}

	if len(parts) == 0 {
		return "0"
	}

	return strings.Join(parts, "|")
}

////////////////////////////////////////////////////////////////////////
// INIT
////////////////////////////////////////////////////////////////////////

// InitFlags are the capability bits exchanged by INIT.
type InitFlags uint32

const (
	InitAsyncRead         InitFlags = 1 << 0
	InitPosixLocks        InitFlags = 1 << 1
	InitFileOps           InitFlags = 1 << 2
	InitAtomicTrunc       InitFlags = 1 << 3
	InitExportSupport     InitFlags = 1 << 4
	InitBigWrites         InitFlags = 1 << 5
	InitDontMask          InitFlags = 1 << 6
	InitSpliceWrite       InitFlags = 1 << 7
	InitSpliceMove        InitFlags = 1 << 8
	InitSpliceRead        InitFlags = 1 << 9
	InitFlockLocks        InitFlags = 1 << 10
	InitHasIoctlDir       InitFlags = 1 << 11
	InitAutoInvalData     InitFlags = 1 << 12
	InitDoReaddirplus     InitFlags = 1 << 13
	InitReaddirplusAuto   InitFlags = 1 << 14
	InitAsyncDIO          InitFlags = 1 << 15
	InitWritebackCache    InitFlags = 1 << 16
	InitNoOpenSupport     InitFlags = 1 << 17
	InitParallelDirOps    InitFlags = 1 << 18
	InitHandleKillpriv    InitFlags = 1 << 19
	InitPosixACL          InitFlags = 1 << 20
	InitAbortError        InitFlags = 1 << 21
	InitMaxPages          InitFlags = 1 << 22
	InitCacheSymlinks     InitFlags = 1 << 23
	InitNoOpendirSupport  InitFlags = 1 << 24
	InitExplicitInvalData InitFlags = 1 << 25
)

var initFlagNames = []flagName{
	{uint32(InitAsyncRead), "InitAsyncRead"},
	{uint32(InitPosixLocks), "InitPosixLocks"},
	{uint32(InitFileOps), "InitFileOps"},
	{uint32(InitAtomicTrunc), "InitAtomicTrunc"},
	{uint32(InitExportSupport), "InitExportSupport"},
	{uint32(InitBigWrites), "InitBigWrites"},
	{uint32(InitDontMask), "InitDontMask"},
	{uint32(InitSpliceWrite), "InitSpliceWrite"},
	{uint32(InitSpliceMove), "InitSpliceMove"},
	{uint32(InitSpliceRead), "InitSpliceRead"},
	{uint32(InitFlockLocks), "InitFlockLocks"},
	{uint32(InitHasIoctlDir), "InitHasIoctlDir"},
	{uint32(InitAutoInvalData), "InitAutoInvalData"},
	{uint32(InitDoReaddirplus), "InitDoReaddirplus"},
	{uint32(InitReaddirplusAuto), "InitReaddirplusAuto"},
	{uint32(InitAsyncDIO), "InitAsyncDIO"},
	{uint32(InitWritebackCache), "InitWritebackCache"},
	{uint32(InitNoOpenSupport), "InitNoOpenSupport"},
	{uint32(InitParallelDirOps), "InitParallelDirOps"},
	{uint32(InitHandleKillpriv), "InitHandleKillpriv"},
	{uint32(InitPosixACL), "InitPosixACL"},
	{uint32(InitAbortError), "InitAbortError"},
	{uint32(InitMaxPages), "InitMaxPages"},
	{uint32(InitCacheSymlinks), "InitCacheSymlinks"},
	{uint32(InitNoOpendirSupport), "InitNoOpendirSupport"},
	{uint32(InitExplicitInvalData), "InitExplicitInvalData"},
}

func (fl InitFlags) String() string {
	return flagString(uint32(fl), initFlagNames)
}

// CuseFlags are the capability bits exchanged by CUSE_INIT.
type CuseFlags uint32

const (
	CuseUnrestrictedIoctl CuseFlags = 1 << 0
)

var cuseFlagNames = []flagName{
	{uint32(CuseUnrestrictedIoctl), "CuseUnrestrictedIoctl"},
}

func (fl CuseFlags) String() string {
	return flagString(uint32(fl), cuseFlagNames)
}

////////////////////////////////////////////////////////////////////////
// Requests
////////////////////////////////////////////////////////////////////////

// SetattrValid says which SetattrIn fields are meaningful.
type SetattrValid uint32

const (
	SetattrMode      SetattrValid = 1 << 0
	SetattrUid       SetattrValid = 1 << 1
	SetattrGid       SetattrValid = 1 << 2
	SetattrSize      SetattrValid = 1 << 3
	SetattrAtime     SetattrValid = 1 << 4
	SetattrMtime     SetattrValid = 1 << 5
	SetattrHandle    SetattrValid = 1 << 6
	SetattrAtimeNow  SetattrValid = 1 << 7
	SetattrMtimeNow  SetattrValid = 1 << 8
	SetattrLockOwner SetattrValid = 1 << 9
	SetattrCtime     SetattrValid = 1 << 10
)

var setattrValidNames = []flagName{
	{uint32(SetattrMode), "SetattrMode"},
	{uint32(SetattrUid), "SetattrUid"},
	{uint32(SetattrGid), "SetattrGid"},
	{uint32(SetattrSize), "SetattrSize"},
	{uint32(SetattrAtime), "SetattrAtime"},
	{uint32(SetattrMtime), "SetattrMtime"},
	{uint32(SetattrHandle), "SetattrHandle"},
	{uint32(SetattrAtimeNow), "SetattrAtimeNow"},
	{uint32(SetattrMtimeNow), "SetattrMtimeNow"},
	{uint32(SetattrLockOwner), "SetattrLockOwner"},
	{uint32(SetattrCtime), "SetattrCtime"},
}

func (fl SetattrValid) String() string {
	return flagString(uint32(fl), setattrValidNames)
}

// GETATTR_IN flags.
const GetattrFh uint32 = 1 << 0

// FSYNC_IN and FSYNCDIR_IN flags.
const FsyncFdatasync uint32 = 1 << 0

// RELEASE_IN flags.
const (
	ReleaseFlush       uint32 = 1 << 0
	ReleaseFlockUnlock uint32 = 1 << 1
)

// WRITE_IN flags.
const (
	WriteCache     uint32 = 1 << 0
	WriteLockOwner uint32 = 1 << 1
	WriteKillPriv  uint32 = 1 << 2
)

// READ_IN flags.
const ReadLockOwner uint32 = 1 << 1

// LK_IN flags.
const LkFlock uint32 = 1 << 0

// IOCTL_IN and IOCTL_OUT flags.
const (
	IoctlCompat       uint32 = 1 << 0
	IoctlUnrestricted uint32 = 1 << 1
	IoctlRetry        uint32 = 1 << 2
	Ioctl32Bit        uint32 = 1 << 3
	IoctlDir          uint32 = 1 << 4
)

////////////////////////////////////////////////////////////////////////
// Replies
////////////////////////////////////////////////////////////////////////

// OpenResponseFlags are the FOPEN_* bits in OpenOut.
type OpenResponseFlags uint32

const (
	OpenDirectIO    OpenResponseFlags = 1 << 0
	OpenKeepCache   OpenResponseFlags = 1 << 1
	OpenNonSeekable OpenResponseFlags = 1 << 2
	OpenCacheDir    OpenResponseFlags = 1 << 3
	OpenStream      OpenResponseFlags = 1 << 4
)

var openResponseFlagNames = []flagName{
	{uint32(OpenDirectIO), "OpenDirectIO"},
	{uint32(OpenKeepCache), "OpenKeepCache"},
	{uint32(OpenNonSeekable), "OpenNonSeekable"},
	{uint32(OpenCacheDir), "OpenCacheDir"},
	{uint32(OpenStream), "OpenStream"},
}

func (fl OpenResponseFlags) String() string {
	return flagString(uint32(fl), openResponseFlagNames)
}
