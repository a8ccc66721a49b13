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

package loopbackfs_test

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/go-kit/log"
	. "github.com/jacobsa/ogletest"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/fusetesting"
	"github.com/kernelwire/fuse/internal/fusekernel"
	"github.com/kernelwire/fuse/samples"
	"github.com/kernelwire/fuse/samples/loopbackfs"
	"golang.org/x/sys/unix"
)

func TestLoopbackFS(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type LoopbackFSTest struct {
	samples.SampleTest
	physicalPath string
}

func init() { RegisterTestSuite(&LoopbackFSTest{}) }

func (t *LoopbackFSTest) SetUp(ti *TestInfo) {
	var err error

	t.physicalPath, err = os.MkdirTemp("", "loopbackfs_test")
	AssertEq(nil, err)

	AssertEq(nil, os.WriteFile(t.path("foo"), []byte("taco"), 0644))
	AssertEq(nil, os.Mkdir(t.path("dir"), 0755))

	server, err := loopbackfs.NewLoopbackServer(t.physicalPath, log.NewNopLogger())
	AssertEq(nil, err)

	AssertEq(nil, t.Initialize(server))
}

func (t *LoopbackFSTest) TearDown() {
	AssertEq(nil, t.Destroy())
	AssertEq(nil, os.RemoveAll(t.physicalPath))
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (t *LoopbackFSTest) path(name string) string {
	return filepath.Join(t.physicalPath, name)
}

func (t *LoopbackFSTest) call(
	opcode fusekernel.Opcode,
	node uint64,
	body ...interface{}) fusetesting.Reply {
	r, err := t.Kernel.Call(opcode, node, body...)
	AssertEq(nil, err)
	return r
}

func (t *LoopbackFSTest) lookUp(name string) (out fusekernel.EntryOut) {
	r := t.call(fusekernel.OpLookup, fuseops.RootInodeID, name)
	AssertThat(r, fusetesting.Succeeded())
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	return
}

func (t *LoopbackFSTest) open(node uint64, flags uint32) uint64 {
	r := t.call(fusekernel.OpOpen, node, fusekernel.OpenIn{Flags: flags})
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.OpenOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	return out.Fh
}

func (t *LoopbackFSTest) release(node uint64, fh uint64) {
	r := t.call(fusekernel.OpRelease, node, fusekernel.ReleaseIn{Fh: fh})
	AssertThat(r, fusetesting.Succeeded())
}

func (t *LoopbackFSTest) write(node uint64, fh uint64, offset uint64, data string) {
	r := t.call(
		fusekernel.OpWrite,
		node,
		fusekernel.WriteIn{Fh: fh, Offset: offset, Size: uint32(len(data))},
		[]byte(data))
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.WriteOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectEq(len(data), out.Size)
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *LoopbackFSTest) LookUp() {
	foo := t.lookUp("foo")
	ExpectEq(4, foo.Attr.Size)
	ExpectEq(syscall.S_IFREG|0644, foo.Attr.Mode)

	fi, err := os.Stat(t.path("foo"))
	AssertEq(nil, err)
	ExpectEq(fi.Sys().(*syscall.Stat_t).Ino, foo.Nodeid)

	dir := t.lookUp("dir")
	ExpectEq(syscall.S_IFDIR|0755, dir.Attr.Mode)

	r := t.call(fusekernel.OpLookup, fuseops.RootInodeID, "nope")
	ExpectThat(r, fusetesting.ErrnoIs(syscall.ENOENT))
}

func (t *LoopbackFSTest) ReadDir() {
	r := t.call(fusekernel.OpOpendir, fuseops.RootInodeID, fusekernel.OpenIn{})
	AssertThat(r, fusetesting.Succeeded())

	r = t.call(fusekernel.OpReaddir, fuseops.RootInodeID, fusekernel.ReadIn{Size: 4096})
	AssertThat(r, fusetesting.Succeeded())

	entries, err := fusetesting.ParseDirents(r.Body)
	AssertEq(nil, err)
	AssertEq(2, len(entries))

	ExpectEq("dir", entries[0].Name)
	ExpectEq(syscall.DT_DIR, entries[0].Type)
	ExpectEq(1, entries[0].Off)

	ExpectEq("foo", entries[1].Name)
	ExpectEq(syscall.DT_REG, entries[1].Type)
	ExpectEq(2, entries[1].Off)

	// Resume after the first.
	r = t.call(fusekernel.OpReaddir, fuseops.RootInodeID, fusekernel.ReadIn{Offset: 1, Size: 4096})
	entries, err = fusetesting.ParseDirents(r.Body)
	AssertEq(nil, err)
	AssertEq(1, len(entries))
	ExpectEq("foo", entries[0].Name)
}

func (t *LoopbackFSTest) Read() {
	foo := t.lookUp("foo")
	fh := t.open(foo.Nodeid, syscall.O_RDONLY)
	defer t.release(foo.Nodeid, fh)

	r := t.call(fusekernel.OpRead, foo.Nodeid, fusekernel.ReadIn{Fh: fh, Offset: 1, Size: 100})
	AssertThat(r, fusetesting.Succeeded())
	ExpectEq("aco", string(r.Body))
}

func (t *LoopbackFSTest) ReadUnknownHandle() {
	foo := t.lookUp("foo")

	r := t.call(fusekernel.OpRead, foo.Nodeid, fusekernel.ReadIn{Fh: 1234, Size: 100})
	ExpectThat(r, fusetesting.ErrnoIs(syscall.EINVAL))
}

func (t *LoopbackFSTest) CreateAndWrite() {
	r := t.call(
		fusekernel.OpCreate,
		fuseops.RootInodeID,
		fusekernel.CreateIn{Flags: syscall.O_RDWR, Mode: syscall.S_IFREG | 0600},
		"burrito")
	AssertThat(r, fusetesting.Succeeded())
	AssertEq(fusekernel.EntryOutSize+fusekernel.OpenOutSize, len(r.Body))

	var entry fusekernel.EntryOut
	var open fusekernel.OpenOut
	AssertEq(nil, fusetesting.Decode(r.Body[:fusekernel.EntryOutSize], &entry))
	AssertEq(nil, fusetesting.Decode(r.Body[fusekernel.EntryOutSize:], &open))

	t.write(entry.Nodeid, open.Fh, 0, "enchilada")
	t.write(entry.Nodeid, open.Fh, 2, "X")
	t.release(entry.Nodeid, open.Fh)

	contents, err := os.ReadFile(t.path("burrito"))
	AssertEq(nil, err)
	ExpectEq("enXhilada", string(contents))

	fi, err := os.Stat(t.path("burrito"))
	AssertEq(nil, err)
	ExpectEq(0600, fi.Mode())
}

func (t *LoopbackFSTest) CreateExisting() {
	r := t.call(
		fusekernel.OpCreate,
		fuseops.RootInodeID,
		fusekernel.CreateIn{Flags: syscall.O_RDWR, Mode: syscall.S_IFREG | 0600},
		"foo")
	ExpectThat(r, fusetesting.ErrnoIs(syscall.EEXIST))
}

func (t *LoopbackFSTest) Truncate() {
	foo := t.lookUp("foo")

	r := t.call(fusekernel.OpSetattr, foo.Nodeid, fusekernel.SetattrIn{
		Valid: uint32(fusekernel.SetattrSize),
		Size:  2,
	})
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.AttrOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectEq(2, out.Attr.Size)

	contents, err := os.ReadFile(t.path("foo"))
	AssertEq(nil, err)
	ExpectEq("ta", string(contents))
}

func (t *LoopbackFSTest) MkDirAndRmDir() {
	r := t.call(fusekernel.OpMkdir, fuseops.RootInodeID, fusekernel.MkdirIn{Mode: 0700}, "sub")
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.EntryOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectEq(syscall.S_IFDIR|0700, out.Attr.Mode)

	fi, err := os.Stat(t.path("sub"))
	AssertEq(nil, err)
	ExpectTrue(fi.IsDir())

	r = t.call(fusekernel.OpRmdir, fuseops.RootInodeID, "sub")
	AssertThat(r, fusetesting.Succeeded())

	_, err = os.Stat(t.path("sub"))
	ExpectTrue(os.IsNotExist(err))
}

func (t *LoopbackFSTest) RmDirNotEmpty() {
	AssertEq(nil, os.WriteFile(t.path("dir/x"), nil, 0644))

	r := t.call(fusekernel.OpRmdir, fuseops.RootInodeID, "dir")
	ExpectThat(r, fusetesting.ErrnoIs(syscall.ENOTEMPTY))
}

func (t *LoopbackFSTest) Unlink() {
	r := t.call(fusekernel.OpUnlink, fuseops.RootInodeID, "foo")
	AssertThat(r, fusetesting.Succeeded())

	_, err := os.Stat(t.path("foo"))
	ExpectTrue(os.IsNotExist(err))
}

func (t *LoopbackFSTest) Rename() {
	foo := t.lookUp("foo")
	dir := t.lookUp("dir")

	r := t.call(fusekernel.OpRename, fuseops.RootInodeID, fusekernel.RenameIn{Newdir: dir.Nodeid}, "foo", "bar")
	AssertThat(r, fusetesting.Succeeded())

	contents, err := os.ReadFile(t.path("dir/bar"))
	AssertEq(nil, err)
	ExpectEq("taco", string(contents))

	// The node now refers to the new path.
	fh := t.open(foo.Nodeid, syscall.O_RDONLY)
	r = t.call(fusekernel.OpRead, foo.Nodeid, fusekernel.ReadIn{Fh: fh, Size: 100})
	AssertThat(r, fusetesting.Succeeded())
	ExpectEq("taco", string(r.Body))
	t.release(foo.Nodeid, fh)
}

func (t *LoopbackFSTest) RenameNoReplace() {
	AssertEq(nil, os.WriteFile(t.path("bar"), nil, 0644))

	r := t.call(
		fusekernel.OpRename2,
		fuseops.RootInodeID,
		fusekernel.Rename2In{Newdir: fuseops.RootInodeID, Flags: unix.RENAME_NOREPLACE},
		"foo",
		"bar")
	ExpectThat(r, fusetesting.ErrnoIs(syscall.EEXIST))
}

func (t *LoopbackFSTest) Symlink() {
	r := t.call(fusekernel.OpSymlink, fuseops.RootInodeID, "link", "foo")
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.EntryOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectEq(syscall.S_IFLNK, out.Attr.Mode&syscall.S_IFMT)

	r = t.call(fusekernel.OpReadlink, out.Nodeid)
	AssertThat(r, fusetesting.Succeeded())
	ExpectEq("foo", string(r.Body))
}

func (t *LoopbackFSTest) SeekEnd() {
	foo := t.lookUp("foo")
	fh := t.open(foo.Nodeid, syscall.O_RDONLY)
	defer t.release(foo.Nodeid, fh)

	r := t.call(fusekernel.OpLseek, foo.Nodeid, fusekernel.LseekIn{
		Fh:     fh,
		Offset: 0,
		Whence: unix.SEEK_END,
	})
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.LseekOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectEq(4, out.Offset)
}

func (t *LoopbackFSTest) Fallocate() {
	foo := t.lookUp("foo")
	fh := t.open(foo.Nodeid, syscall.O_RDWR)
	defer t.release(foo.Nodeid, fh)

	r := t.call(fusekernel.OpFallocate, foo.Nodeid, fusekernel.FallocateIn{
		Fh:     fh,
		Offset: 0,
		Length: 8192,
	})

	// Not every file system backing the temporary directory supports
	// preallocation.
	if r.Errno == syscall.EOPNOTSUPP {
		return
	}

	AssertThat(r, fusetesting.Succeeded())

	fi, err := os.Stat(t.path("foo"))
	AssertEq(nil, err)
	ExpectEq(8192, fi.Size())
}

func (t *LoopbackFSTest) StatFS() {
	r := t.call(fusekernel.OpStatfs, fuseops.RootInodeID)
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.Kstatfs
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectNe(0, out.Bsize)
	ExpectNe(0, out.Namelen)
}
