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

package fuse_test

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/go-kit/log"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
	"github.com/kernelwire/fuse"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/fusetesting"
	"github.com/kernelwire/fuse/fuseutil"
	"github.com/kernelwire/fuse/internal/fusekernel"
)

func TestSession(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// A file system with a single file
////////////////////////////////////////////////////////////////////////

const fileInode fuseops.InodeID = fuseops.RootInodeID + 1

type singleFileFS struct {
	fuseutil.NotImplementedFileSystem

	mu        sync.Mutex
	forgotten []fuseops.InodeID
	destroyed chan struct{}
}

func (fs *singleFileFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	if op.Parent != fuseops.RootInodeID || op.Name != "taco" {
		return fuse.ENOENT
	}

	op.Entry.Child = fileInode
	op.Entry.Attributes = fuseops.InodeAttributes{
		Size:  17,
		Nlink: 1,
		Mode:  0444,
	}

	return nil
}

func (fs *singleFileFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.forgotten = append(fs.forgotten, op.Inode)
	return nil
}

func (fs *singleFileFS) Forgotten() []fuseops.InodeID {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return append([]fuseops.InodeID(nil), fs.forgotten...)
}

func (fs *singleFileFS) Destroy() {
	close(fs.destroyed)
}

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type SessionTest struct {
	ctx     context.Context
	fs      *singleFileFS
	dev     *fusetesting.Device
	kernel  *fusetesting.Kernel
	session *fuse.Session
}

func init() { RegisterTestSuite(&SessionTest{}) }

func (t *SessionTest) SetUp(ti *TestInfo) {
	t.ctx = context.Background()
	t.fs = &singleFileFS{destroyed: make(chan struct{})}
	t.dev = fusetesting.NewDevice()
	t.kernel = fusetesting.NewKernel(t.dev)

	cfg := fuse.DefaultConfig()
	cfg.Logger = log.NewNopLogger()

	// Serve blocks until the handshake is done, so play the kernel's part in
	// the background.
	initDone := make(chan error, 1)
	go func() {
		_, err := t.kernel.Init(fusekernel.LatestProtocol().Minor, 1<<20, 0)
		initDone <- err
	}()

	var err error
	t.session, err = fuse.Serve(t.dev, fuseutil.NewFileSystemServer(t.fs), cfg)
	AssertEq(nil, err)
	AssertEq(nil, <-initDone)
}

func (t *SessionTest) TearDown() {
	t.session.Close()
}

func (t *SessionTest) join() error {
	ctx, cancel := context.WithTimeout(t.ctx, fusetesting.DefaultTimeout)
	defer cancel()

	return t.session.Join(ctx)
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *SessionTest) Negotiated() {
	n := t.session.Connection().Negotiated()

	ExpectEq(7, n.Major)
	ExpectEq(fusekernel.LatestProtocol().Minor, n.Minor)
	ExpectEq(128<<10, n.MaxWrite)
	ExpectFalse(n.CUSE)
}

func (t *SessionTest) LookUp() {
	r, err := t.kernel.Call(fusekernel.OpLookup, fuseops.RootInodeID, "taco")
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.EntryOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectEq(uint64(fileInode), out.Nodeid)
	ExpectEq(17, out.Attr.Size)

	r, err = t.kernel.Call(fusekernel.OpLookup, fuseops.RootInodeID, "burrito")
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(syscall.ENOENT))
}

func (t *SessionTest) UnimplementedMethod() {
	r, err := t.kernel.Call(fusekernel.OpReadlink, uint64(fileInode))
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(syscall.ENOSYS))
}

func (t *SessionTest) UnknownOpcode() {
	r, err := t.kernel.Call(fusekernel.Opcode(9999), fuseops.RootInodeID)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(syscall.ENOSYS))
}

func (t *SessionTest) ForgetReachesFileSystem() {
	for i := 0; i < 2; i++ {
		r, err := t.kernel.Call(fusekernel.OpLookup, fuseops.RootInodeID, "taco")
		AssertEq(nil, err)
		AssertThat(r, fusetesting.Succeeded())
	}

	t.kernel.Forget(uint64(fileInode), 1)

	// Still one lookup outstanding. A round trip makes sure the forget has
	// been read.
	r, err := t.kernel.Call(fusekernel.OpReadlink, uint64(fileInode))
	AssertEq(nil, err)
	AssertThat(r, fusetesting.ErrnoIs(syscall.ENOSYS))
	ExpectThat(t.fs.Forgotten(), ElementsAre())

	t.kernel.Forget(uint64(fileInode), 1)
	_, err = t.kernel.Destroy()
	AssertEq(nil, err)
	AssertEq(nil, t.join())

	ExpectThat(t.fs.Forgotten(), ElementsAre(fileInode))
}

func (t *SessionTest) DestroyEndsSession() {
	r, err := t.kernel.Destroy()
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.Succeeded())

	AssertEq(nil, t.join())

	select {
	case <-t.fs.destroyed:
	default:
		AddFailure("Destroy was not called")
	}

	select {
	case <-t.dev.Closed():
	default:
		AddFailure("Device was not closed")
	}
}

func (t *SessionTest) HangupEndsSession() {
	t.dev.Hangup()

	AssertEq(nil, t.join())
	<-t.fs.destroyed
}

func (t *SessionTest) JoinHonorsContext() {
	ctx, cancel := context.WithTimeout(t.ctx, 10*time.Millisecond)
	defer cancel()

	ExpectTrue(t.session.Join(ctx) == context.DeadlineExceeded)
}
