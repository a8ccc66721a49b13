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

package forgetfs_test

import (
	"syscall"
	"testing"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/fusetesting"
	"github.com/kernelwire/fuse/internal/fusekernel"
	"github.com/kernelwire/fuse/samples"
	"github.com/kernelwire/fuse/samples/forgetfs"
)

func TestForgetFS(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type ForgetFSTest struct {
	samples.SampleTest
	fs *forgetfs.ForgetFS
}

func init() { RegisterTestSuite(&ForgetFSTest{}) }

func (t *ForgetFSTest) SetUp(ti *TestInfo) {
	t.fs = forgetfs.NewFileSystem()
	AssertEq(nil, t.Initialize(t.fs))
}

// Each test ends the session itself, so that it can inspect the file system
// once every op has been handled.
func (t *ForgetFSTest) TearDown() {
}

func (t *ForgetFSTest) lookUp(name string) uint64 {
	r, err := t.Kernel.Call(fusekernel.OpLookup, fuseops.RootInodeID, name)
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.EntryOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	return out.Nodeid
}

func (t *ForgetFSTest) createBar() uint64 {
	r, err := t.Kernel.Call(
		fusekernel.OpCreate,
		fuseops.RootInodeID,
		fusekernel.CreateIn{Flags: syscall.O_RDWR, Mode: syscall.S_IFREG | 0644},
		"bar")
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.EntryOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	return out.Nodeid
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *ForgetFSTest) NothingHandedOut() {
	AssertEq(nil, t.Destroy())

	ExpectEq(nil, t.fs.Check())
	ExpectEq(0, t.fs.Forgotten())
}

func (t *ForgetFSTest) RepeatedLookUpsForgottenOnce() {
	var foo uint64
	for i := 0; i < 3; i++ {
		foo = t.lookUp("foo")
	}

	t.Kernel.Forget(foo, 2)
	t.Kernel.Forget(foo, 1)
	AssertEq(nil, t.Destroy())

	ExpectEq(nil, t.fs.Check())
	ExpectEq(1, t.fs.Forgotten())
}

func (t *ForgetFSTest) PartialForget() {
	foo := t.lookUp("foo")
	t.lookUp("foo")

	t.Kernel.Forget(foo, 1)
	AssertEq(nil, t.Destroy())

	ExpectThat(t.fs.Check(), Error(HasSubstr("still live")))
	ExpectEq(0, t.fs.Forgotten())
}

func (t *ForgetFSTest) CreatedFiles() {
	bar1 := t.createBar()
	bar2 := t.createBar()
	ExpectNe(bar1, bar2)

	bar := t.lookUp("bar")
	foo := t.lookUp("foo")

	// Drop everything in one message.
	t.Kernel.Send(
		fusekernel.OpBatchForget,
		0,
		fusekernel.BatchForgetIn{Count: 4},
		fusekernel.ForgetOne{Nodeid: bar1, Nlookup: 1},
		fusekernel.ForgetOne{Nodeid: bar2, Nlookup: 1},
		fusekernel.ForgetOne{Nodeid: bar, Nlookup: 1},
		fusekernel.ForgetOne{Nodeid: foo, Nlookup: 1})

	AssertEq(nil, t.Destroy())

	ExpectEq(nil, t.fs.Check())
	ExpectEq(4, t.fs.Forgotten())
}

func (t *ForgetFSTest) CreateOtherName() {
	r, err := t.Kernel.Call(
		fusekernel.OpCreate,
		fuseops.RootInodeID,
		fusekernel.CreateIn{Mode: syscall.S_IFREG | 0644},
		"baz")
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(syscall.EPERM))

	AssertEq(nil, t.Destroy())
	ExpectEq(nil, t.fs.Check())
}
