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

package statfs_test

import (
	"os"
	"syscall"
	"testing"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/fusetesting"
	"github.com/kernelwire/fuse/fuseutil"
	"github.com/kernelwire/fuse/internal/fusekernel"
	"github.com/kernelwire/fuse/samples"
	"github.com/kernelwire/fuse/samples/statfs"
)

func TestStatFS(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type StatFSTest struct {
	samples.SampleTest
	fs *statfs.FS
}

func init() { RegisterTestSuite(&StatFSTest{}) }

func (t *StatFSTest) SetUp(ti *TestInfo) {
	t.fs = statfs.New()
	AssertEq(nil, t.Initialize(fuseutil.NewFileSystemServer(t.fs)))
}

func (t *StatFSTest) TearDown() {
	AssertEq(nil, t.Destroy())
}

func (t *StatFSTest) statfs() (out fusekernel.Kstatfs) {
	r, err := t.Kernel.Call(fusekernel.OpStatfs, fuseops.RootInodeID)
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())
	AssertThat(r, fusetesting.BodyLenIs(fusekernel.KstatfsSize))
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	return
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *StatFSTest) ZeroResponse() {
	out := t.statfs()

	ExpectEq(0, out.Blocks)
	ExpectEq(0, out.Bsize)
	ExpectEq(0, out.Frsize)
	ExpectEq(255, out.Namelen)
}

func (t *StatFSTest) CannedResponse() {
	t.fs.SetStatFSResponse(fuseops.StatFSOp{
		BlockSize:       4096,
		IoSize:          65536,
		Blocks:          1000,
		BlocksFree:      300,
		BlocksAvailable: 200,
		Inodes:          50,
		InodesFree:      7,
		MaxNameLength:   1024,
	})

	out := t.statfs()

	ExpectEq(1000, out.Blocks)
	ExpectEq(300, out.Bfree)
	ExpectEq(200, out.Bavail)
	ExpectEq(50, out.Files)
	ExpectEq(7, out.Ffree)
	ExpectEq(65536, out.Bsize)
	ExpectEq(4096, out.Frsize)
	ExpectEq(1024, out.Namelen)
}

func (t *StatFSTest) ResponseCanBeReplaced() {
	t.fs.SetStatFSResponse(fuseops.StatFSOp{Blocks: 1})
	ExpectEq(1, t.statfs().Blocks)

	t.fs.SetStatFSResponse(fuseops.StatFSOp{Blocks: 2})
	ExpectEq(2, t.statfs().Blocks)
}

func (t *StatFSTest) FileBlockSize() {
	t.fs.SetFileAttributes(fuseops.InodeAttributes{
		Size:      17,
		Nlink:     1,
		Mode:      0644,
		BlockSize: 8192,
	})

	r, err := t.Kernel.Call(fusekernel.OpLookup, fuseops.RootInodeID, "foo")
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())

	var entry fusekernel.EntryOut
	AssertEq(nil, fusetesting.Decode(r.Body, &entry))
	AssertEq(2, entry.Nodeid)

	r, err = t.Kernel.Call(fusekernel.OpGetattr, entry.Nodeid, fusekernel.GetattrIn{})
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.AttrOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectEq(17, out.Attr.Size)
	ExpectEq(8192, out.Attr.Blksize)
	ExpectEq(0644, out.Attr.Mode&uint32(os.ModePerm))
}

func (t *StatFSTest) RootIsDirectory() {
	r, err := t.Kernel.Call(fusekernel.OpGetattr, fuseops.RootInodeID, fusekernel.GetattrIn{})
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.AttrOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectNe(0, out.Attr.Mode&0040000)
}

func (t *StatFSTest) NoWriteYet() {
	ExpectEq(-1, t.fs.MostRecentWriteSize())
}

func (t *StatFSTest) WriteSizeIsRecorded() {
	r, err := t.Kernel.Call(fusekernel.OpOpen, 2, fusekernel.OpenIn{Flags: uint32(os.O_WRONLY)})
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())

	data := make([]byte, 3000)
	r, err = t.Kernel.Call(
		fusekernel.OpWrite,
		2,
		fusekernel.WriteIn{Size: uint32(len(data))},
		data)
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.WriteOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectEq(3000, out.Size)
	ExpectEq(3000, t.fs.MostRecentWriteSize())
}

func (t *StatFSTest) LookUpBelowChild() {
	r, err := t.Kernel.Call(fusekernel.OpLookup, 2, "bar")
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(syscall.ENOENT))
}

func (t *StatFSTest) WriteSizesAccumulate() {
	for _, n := range []int{10, 4096, 1} {
		r, err := t.Kernel.Call(
			fusekernel.OpWrite,
			2,
			fusekernel.WriteIn{Size: uint32(n)},
			make([]byte, n))
		AssertEq(nil, err)
		AssertThat(r, fusetesting.Succeeded())
	}

	ExpectThat(t.fs.WriteSizes(), ElementsAre(10, 4096, 1))
	ExpectEq(1, t.fs.MostRecentWriteSize())
}

func (t *StatFSTest) OpenRootAsFile() {
	r, err := t.Kernel.Call(fusekernel.OpOpen, fuseops.RootInodeID, fusekernel.OpenIn{})
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(syscall.EINVAL))
}
