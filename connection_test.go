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

package fuse

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/jacobsa/timeutil"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/fusetesting"
	"github.com/kernelwire/fuse/internal/fusekernel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestConnection(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type ConnectionTest struct {
	clock  timeutil.SimulatedClock
	cfg    *Config
	dev    *fusetesting.Device
	kernel *fusetesting.Kernel
	conn   *Connection
}

var _ SetUpInterface = &ConnectionTest{}
var _ TearDownInterface = &ConnectionTest{}

func init() { RegisterTestSuite(&ConnectionTest{}) }

func (t *ConnectionTest) SetUp(ti *TestInfo) {
	t.clock.SetTime(time.Date(2015, 4, 5, 2, 15, 0, 0, time.Local))

	t.cfg = DefaultConfig()
	t.cfg.Clock = &t.clock
	t.cfg.Logger = log.NewNopLogger()
	t.cfg.MetricsRegisterer = prometheus.NewRegistry()
	t.cfg.EnableReaddirplus = true
	t.cfg.EnablePosixLocks = true

	t.dev = fusetesting.NewDevice()
	t.kernel = fusetesting.NewKernel(t.dev)

	var err error
	t.conn, err = NewConnection(t.dev, t.cfg)
	AssertEq(nil, err)
}

func (t *ConnectionTest) TearDown() {
	t.conn.Close()
}

// Perform the handshake as a kernel speaking 7.minor.
func (t *ConnectionTest) handshake(
	minor uint32,
	flags fusekernel.InitFlags) (r fusetesting.Reply, out fusekernel.InitOut) {
	body := fusetesting.Encode(fusekernel.InitIn{
		Major:        7,
		Minor:        minor,
		MaxReadahead: 1 << 20,
		Flags:        uint32(flags),
	})

	if minor < 6 {
		body = body[:fusekernel.CompatInitInSize]
	}

	unique := t.kernel.Send(fusekernel.OpInit, 0, body)
	AssertEq(nil, t.conn.Init())

	r, err := t.kernel.Await(unique)
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())
	AssertEq(nil, fusetesting.Decode(r.Body, &out))

	return
}

func (t *ConnectionTest) init() {
	t.handshake(31, fusekernel.InitAsyncRead|fusekernel.InitDoReaddirplus|fusekernel.InitMaxPages)
}

// Send a request and read the op it turns into.
func (t *ConnectionTest) call(
	opcode fusekernel.Opcode,
	node uint64,
	body ...interface{}) (unique uint64, ctx context.Context, op interface{}) {
	unique = t.kernel.Send(opcode, node, body...)

	ctx, op, err := t.conn.ReadOp()
	AssertEq(nil, err)
	return
}

func (t *ConnectionTest) lookUp(name string, child fuseops.InodeID) (unique uint64) {
	unique, ctx, op := t.call(fusekernel.OpLookup, fuseops.RootInodeID, name)

	o, ok := op.(*fuseops.LookUpInodeOp)
	AssertTrue(ok, "%T", op)
	o.Entry.Child = child
	o.Entry.Attributes.Mode = 0644

	AssertEq(nil, t.conn.Reply(ctx, nil))
	return
}

func (t *ConnectionTest) counter(c prometheus.Collector) float64 {
	return testutil.ToFloat64(c)
}

// A clock whose first Now call blocks until release is closed. entered is
// closed once that call has started.
type stallingClock struct {
	timeutil.Clock

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newStallingClock(wrapped timeutil.Clock) *stallingClock {
	return &stallingClock{
		Clock:   wrapped,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (c *stallingClock) Now() time.Time {
	c.once.Do(func() {
		close(c.entered)
		<-c.release
	})

	return c.Clock.Now()
}

////////////////////////////////////////////////////////////////////////
// Handshake
////////////////////////////////////////////////////////////////////////

func (t *ConnectionTest) ReadOpBeforeInit() {
	_, _, err := t.conn.ReadOp()
	ExpectEq(ErrNotInitialized, err)
}

func (t *ConnectionTest) Init_CurrentKernel() {
	r, out := t.handshake(
		31,
		fusekernel.InitAsyncRead|fusekernel.InitMaxPages|fusekernel.InitSpliceRead)

	ExpectThat(r, fusetesting.BodyLenIs(fusekernel.InitOutSize))
	ExpectEq(7, out.Major)
	ExpectEq(31, out.Minor)
	ExpectEq(128<<10, out.MaxWrite)
	ExpectEq(128<<10, out.MaxReadahead)
	ExpectEq(32, out.MaxPages)
	ExpectEq(12, out.MaxBackground)
	ExpectEq(9, out.CongestionThreshold)
	ExpectEq(1, out.TimeGran)

	// Splice was not offered by us.
	ExpectEq(
		uint32(fusekernel.InitAsyncRead|fusekernel.InitMaxPages),
		out.Flags)

	n := t.conn.Negotiated()
	ExpectEq(31, n.Minor)
	ExpectEq(128<<10, n.MaxWrite)
	ExpectFalse(n.CUSE)
}

func (t *ConnectionTest) Init_OldKernel() {
	r, out := t.handshake(7, fusekernel.InitAsyncRead)

	ExpectThat(r, fusetesting.BodyLenIs(fusekernel.Compat22InitOutSize))
	ExpectEq(7, out.Major)
	ExpectEq(7, out.Minor)
	ExpectEq(uint32(fusekernel.InitAsyncRead), out.Flags)
	ExpectEq(0, out.MaxPages)
}

func (t *ConnectionTest) Init_AncientKernel() {
	r, out := t.handshake(4, 0)

	ExpectThat(r, fusetesting.BodyLenIs(fusekernel.CompatInitOutSize))
	ExpectEq(4, out.Minor)
	ExpectEq(0, out.Flags)
}

func (t *ConnectionTest) Init_KernelTooOld() {
	unique := t.kernel.Send(
		fusekernel.OpInit,
		0,
		fusetesting.Prefix(fusekernel.InitIn{Major: 6, Minor: 9}, fusekernel.CompatInitInSize))

	err := t.conn.Init()

	var perr *ProtocolError
	ExpectTrue(errors.As(err, &perr))

	r, err := t.kernel.Await(unique)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(EPROTO))
}

func (t *ConnectionTest) Init_KernelNewerMajor() {
	first := t.kernel.Send(fusekernel.OpInit, 0, fusekernel.InitIn{Major: 8, Minor: 2})
	second := t.kernel.Send(fusekernel.OpInit, 0, fusekernel.InitIn{Major: 7, Minor: 31})

	AssertEq(nil, t.conn.Init())

	// The first reply names our version and nothing else.
	r, err := t.kernel.Await(first)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.BodyLenIs(fusekernel.InitOutSize))

	var out fusekernel.InitOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectEq(7, out.Major)
	ExpectEq(31, out.Minor)
	ExpectEq(0, out.Flags)
	ExpectEq(0, out.MaxWrite)

	r, err = t.kernel.Await(second)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.Succeeded())
}

func (t *ConnectionTest) Init_RequestsBeforeInit() {
	lookup := t.kernel.Send(fusekernel.OpLookup, 1, "foo")
	t.kernel.Forget(17, 1)

	t.init()

	r, err := t.kernel.Await(lookup)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(ENOSYS))
}

func (t *ConnectionTest) Init_Repeated() {
	t.init()

	again := t.kernel.Send(fusekernel.OpInit, 0, fusekernel.InitIn{Major: 7, Minor: 31})
	_, _, op := t.call(fusekernel.OpGetattr, 1, fusekernel.GetattrIn{})
	ExpectThat(op, HasSameTypeAs(&fuseops.GetInodeAttributesOp{}))

	r, err := t.kernel.Await(again)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(EIO))
}

func (t *ConnectionTest) Init_DeviceClosed() {
	t.dev.Close()
	ExpectNe(nil, t.conn.Init())
}

////////////////////////////////////////////////////////////////////////
// Replies
////////////////////////////////////////////////////////////////////////

func (t *ConnectionTest) LookUp() {
	t.init()

	unique, ctx, op := t.call(fusekernel.OpLookup, 1, "taco")
	o := op.(*fuseops.LookUpInodeOp)
	ExpectEq(fuseops.RootInodeID, o.Parent)
	ExpectEq("taco", o.Name)
	ExpectEq(unique, o.OpContext.Unique)
	ExpectEq(1000, o.OpContext.Uid)
	ExpectEq(4242, o.OpContext.Pid)

	o.Entry = fuseops.ChildInodeEntry{
		Child:      17,
		Generation: 3,
		Attributes: fuseops.InodeAttributes{
			Size:  1025,
			Nlink: 1,
			Mode:  0644,
			Mtime: t.clock.Now().Add(-time.Hour),
		},
		AttributesExpiration: t.clock.Now().Add(90 * time.Second),
		EntryExpiration:      t.clock.Now().Add(-time.Second),
	}

	AssertEq(nil, t.conn.Reply(ctx, nil))

	r, err := t.kernel.Await(unique)
	AssertEq(nil, err)
	AssertThat(r, fusetesting.BodyLenIs(fusekernel.EntryOutSize))

	var out fusekernel.EntryOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectEq(17, out.Nodeid)
	ExpectEq(3, out.Generation)
	ExpectEq(90, out.AttrValid)
	ExpectEq(0, out.EntryValid)
	ExpectEq(17, out.Attr.Ino)
	ExpectEq(1025, out.Attr.Size)
	ExpectEq(3, out.Attr.Blocks)
	ExpectEq(0100644, out.Attr.Mode)
	ExpectEq(t.clock.Now().Add(-time.Hour).Unix(), int64(out.Attr.Mtime))

	ExpectEq(1, t.conn.nodes.Count(17))
}

func (t *ConnectionTest) LookUp_OldKernelGetsShortAttributes() {
	t.handshake(8, 0)

	unique := t.lookUp("taco", 17)

	r, err := t.kernel.Await(unique)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.BodyLenIs(fusekernel.CompatEntryOutSize))
}

func (t *ConnectionTest) LookUp_NegativeEntry() {
	t.init()

	unique := t.lookUp("taco", 0)

	r, err := t.kernel.Await(unique)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.Succeeded())
	ExpectEq(1, t.conn.nodes.Len())
}

func (t *ConnectionTest) LookUp_NegativeEntryBefore74() {
	t.handshake(3, 0)

	unique := t.lookUp("taco", 0)

	r, err := t.kernel.Await(unique)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(ENOENT))
}

func (t *ConnectionTest) ReplyTwice() {
	t.init()

	unique, ctx, _ := t.call(fusekernel.OpGetattr, 1, fusekernel.GetattrIn{})
	AssertEq(nil, t.conn.Reply(ctx, nil))
	ExpectEq(ErrAlreadyReplied, t.conn.Reply(ctx, ENOENT))

	_, err := t.kernel.Await(unique)
	AssertEq(nil, err)
	ExpectEq(1, t.kernel.ReplyCount(unique))
}

func (t *ConnectionTest) ErrorMapping() {
	t.init()

	testCases := []struct {
		err      error
		expected syscall.Errno
	}{
		{ENOENT, ENOENT},
		{ENOATTR, ENOATTR},
		{os.NewSyscallError("open", EACCES), EACCES},
		{context.Canceled, EINTR},
		{context.DeadlineExceeded, EINTR},
		{errors.New("taco"), EIO},
	}

	for _, tc := range testCases {
		unique, ctx, _ := t.call(fusekernel.OpUnlink, 1, "foo")
		AssertEq(nil, t.conn.Reply(ctx, tc.err))

		r, err := t.kernel.Await(unique)
		AssertEq(nil, err)
		ExpectEq(tc.expected, r.Errno, "%v", tc.err)
		ExpectEq(0, len(r.Body))
	}
}

func (t *ConnectionTest) UnsupportedOpcode() {
	t.init()

	unsupported := t.kernel.Send(fusekernel.Opcode(9999), 1)
	_, _, op := t.call(fusekernel.OpStatfs, 1)
	ExpectThat(op, HasSameTypeAs(&fuseops.StatFSOp{}))

	r, err := t.kernel.Await(unsupported)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(ENOSYS))

	ExpectEq(
		1,
		t.counter(t.conn.metrics.ops.WithLabelValues("OPCODE_9999", outcomeUnsupported)))
}

func (t *ConnectionTest) MalformedBody() {
	t.init()

	// No terminating NUL.
	bad := t.kernel.Send(fusekernel.OpLookup, 1, []byte("taco"))
	_, _, op := t.call(fusekernel.OpLookup, 1, "burrito")
	ExpectEq("burrito", op.(*fuseops.LookUpInodeOp).Name)

	r, err := t.kernel.Await(bad)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(EIO))
}

func (t *ConnectionTest) DeclaredLengthExceedsFrame() {
	t.init()

	_, frame := t.kernel.Frame(fusekernel.OpLookup, 1, "taco")
	binary.NativeEndian.PutUint32(frame, uint32(len(frame)+100))
	t.dev.Push(frame)

	_, _, err := t.conn.ReadOp()

	var perr *ProtocolError
	AssertTrue(errors.As(err, &perr), "%v", err)
	ExpectThat(err, Error(HasSubstr("exceeds")))

	// The error sticks, and nothing was written.
	_, _, err2 := t.conn.ReadOp()
	ExpectEq(err, err2)
	ExpectEq(0, len(t.kernel.Garbage()))
	ExpectEq(1, t.counter(t.conn.metrics.protocolErrors))
}

////////////////////////////////////////////////////////////////////////
// Node accounting
////////////////////////////////////////////////////////////////////////

func (t *ConnectionTest) ForgetDisposesOnce() {
	t.init()

	t.lookUp("taco", 17)
	t.lookUp("taco", 17)
	ExpectEq(2, t.conn.nodes.Count(17))

	t.kernel.Forget(17, 1)
	t.kernel.Forget(17, 1)

	ctx, op, err := t.conn.ReadOp()
	AssertEq(nil, err)
	ExpectThat(op, Pointee(DeepEquals(fuseops.ForgetInodeOp{Inode: 17})))
	ExpectEq(0, t.conn.nodes.Count(17))
	AssertEq(nil, t.conn.Reply(ctx, nil))

	// The disposal is not repeated.
	_, _, op = t.call(fusekernel.OpStatfs, 1)
	ExpectThat(op, HasSameTypeAs(&fuseops.StatFSOp{}))
}

func (t *ConnectionTest) BatchForget() {
	t.init()

	t.lookUp("taco", 17)
	t.lookUp("burrito", 19)
	t.lookUp("burrito", 19)

	t.kernel.Send(
		fusekernel.OpBatchForget,
		0,
		fusekernel.BatchForgetIn{Count: 2},
		fusekernel.ForgetOne{Nodeid: 17, Nlookup: 1},
		fusekernel.ForgetOne{Nodeid: 19, Nlookup: 1})

	_, _, op := t.call(fusekernel.OpStatfs, 1)

	// 17 is disposed of first, ahead of the request read after it.
	ExpectThat(op, Pointee(DeepEquals(fuseops.ForgetInodeOp{Inode: 17})))
	ExpectEq(1, t.conn.nodes.Count(19))
}

func (t *ConnectionTest) ForgetUnderflowIsFatal() {
	t.init()

	t.lookUp("taco", 17)
	t.kernel.Forget(17, 2)

	_, _, err := t.conn.ReadOp()
	ExpectTrue(errors.Is(err, ErrNodeUnderflow), "%v", err)

	// The table is untouched.
	ExpectEq(1, t.conn.nodes.Count(17))

	_, _, err2 := t.conn.ReadOp()
	ExpectEq(err, err2)
}

func (t *ConnectionTest) RootIsPinned() {
	t.init()

	t.kernel.Forget(fuseops.RootInodeID, 5)
	_, _, op := t.call(fusekernel.OpStatfs, 1)

	ExpectThat(op, HasSameTypeAs(&fuseops.StatFSOp{}))
	ExpectEq(1, t.conn.nodes.Count(fuseops.RootInodeID))
}

func (t *ConnectionTest) AbandonedReplyIsRolledBack() {
	t.init()

	unique, ctx, op := t.call(fusekernel.OpLookup, 1, "taco")
	op.(*fuseops.LookUpInodeOp).Entry.Child = 23

	t.dev.Abandon(unique)
	AssertEq(nil, t.conn.Reply(ctx, nil))

	ExpectEq(0, t.conn.nodes.Count(23))
	ExpectEq(1, t.counter(t.conn.metrics.abandoned))

	// The server hears about the node going away.
	_, _, op = t.call(fusekernel.OpStatfs, 1)
	ExpectThat(op, Pointee(DeepEquals(fuseops.ForgetInodeOp{Inode: 23})))
}

func (t *ConnectionTest) ReadDirPlusCountsLookups() {
	t.init()

	unique, ctx, op := t.call(
		fusekernel.OpReaddirplus,
		1,
		fusekernel.ReadIn{Fh: 7, Size: 4096})

	o := op.(*fuseops.ReadDirPlusOp)
	ExpectEq(7, o.Handle)
	ExpectEq(4096, o.Size)

	o.Entries = []fuseops.DirentPlus{
		{Dirent: fuseops.Dirent{Offset: 1, Inode: 1, Name: "."}, Entry: fuseops.ChildInodeEntry{Child: 1}},
		{Dirent: fuseops.Dirent{Offset: 2, Inode: 1, Name: ".."}, Entry: fuseops.ChildInodeEntry{Child: 1}},
		{Dirent: fuseops.Dirent{Offset: 3, Inode: 17, Name: "taco"}, Entry: fuseops.ChildInodeEntry{Child: 17}},
		{Dirent: fuseops.Dirent{Offset: 4, Inode: 19, Name: "burrito"}},
	}

	AssertEq(nil, t.conn.Reply(ctx, nil))

	r, err := t.kernel.Await(unique)
	AssertEq(nil, err)

	entries, err := fusetesting.ParseDirentsPlus(r.Body)
	AssertEq(nil, err)
	AssertEq(4, len(entries))
	ExpectEq("taco", entries[2].Name)
	ExpectEq(17, entries[2].Entry.Nodeid)

	ExpectEq(1, t.conn.nodes.Count(17))
	ExpectEq(0, t.conn.nodes.Count(19))
	ExpectEq(1, t.conn.nodes.Count(fuseops.RootInodeID))
}

////////////////////////////////////////////////////////////////////////
// Interrupts
////////////////////////////////////////////////////////////////////////

func (t *ConnectionTest) InterruptCancelsContext() {
	t.init()

	unique, ctx, _ := t.call(fusekernel.OpRead, 1, fusekernel.ReadIn{Size: 10})

	t.kernel.Interrupt(unique)
	t.kernel.Interrupt(unique)
	_, _, op := t.call(fusekernel.OpStatfs, 1)
	ExpectThat(op, HasSameTypeAs(&fuseops.StatFSOp{}))

	select {
	case <-ctx.Done():
	default:
		AddFailure("context not cancelled")
	}

	ExpectEq(2, t.counter(t.conn.metrics.interrupts))

	AssertEq(nil, t.conn.Reply(ctx, ctx.Err()))
	r, err := t.kernel.Await(unique)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(EINTR))
}

func (t *ConnectionTest) InterruptUnknownRequest() {
	t.init()

	unique, ctx, _ := t.call(fusekernel.OpStatfs, 1)

	t.kernel.Interrupt(unique + 1000)
	_, _, op := t.call(fusekernel.OpStatfs, 1)
	ExpectThat(op, HasSameTypeAs(&fuseops.StatFSOp{}))

	ExpectEq(nil, ctx.Err())
}

func (t *ConnectionTest) InterruptAfterReply() {
	t.init()

	unique, ctx, _ := t.call(fusekernel.OpStatfs, 1)
	AssertEq(nil, t.conn.Reply(ctx, nil))

	t.kernel.Interrupt(unique)
	_, _, op := t.call(fusekernel.OpStatfs, 1)
	ExpectThat(op, HasSameTypeAs(&fuseops.StatFSOp{}))
	ExpectEq(1, t.kernel.ReplyCount(unique))
}

////////////////////////////////////////////////////////////////////////
// Teardown
////////////////////////////////////////////////////////////////////////

func (t *ConnectionTest) Destroy() {
	t.init()

	inFlight, ctx, _ := t.call(fusekernel.OpStatfs, 1)
	destroy := t.kernel.Send(fusekernel.OpDestroy, 0)

	_, _, err := t.conn.ReadOp()
	ExpectEq(io.EOF, err)

	r, err := t.kernel.Await(destroy)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.Succeeded())

	// Replies after DESTROY go nowhere.
	AssertEq(nil, t.conn.Reply(ctx, nil))
	ExpectEq(0, t.kernel.ReplyCount(inFlight))
	ExpectEq(1, t.counter(t.conn.metrics.dropped))

	_, _, err = t.conn.ReadOp()
	ExpectEq(io.EOF, err)
}

func (t *ConnectionTest) DestroyWaitsForReplyBeingWritten() {
	t.init()

	inFlight, ctx, op := t.call(fusekernel.OpGetattr, 1, fusekernel.GetattrIn{})
	o, ok := op.(*fuseops.GetInodeAttributesOp)
	AssertTrue(ok, "%T", op)
	o.Attributes.Mode = 0755 | os.ModeDir
	o.AttributesExpiration = t.clock.Now().Add(time.Minute)

	// Stall the reply while it is being encoded.
	clock := newStallingClock(&t.clock)
	t.conn.clock = clock

	replied := make(chan error, 1)
	go func() { replied <- t.conn.Reply(ctx, nil) }()
	<-clock.entered

	destroy := t.kernel.Send(fusekernel.OpDestroy, 0)

	readDone := make(chan error, 1)
	go func() {
		_, _, err := t.conn.ReadOp()
		readDone <- err
	}()

	select {
	case err := <-readDone:
		AddFailure("ReadOp returned %v while a reply was being written", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(clock.release)
	AssertEq(nil, <-replied)
	ExpectEq(io.EOF, <-readDone)

	r, err := t.kernel.Await(destroy)
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.Succeeded())

	// INIT, the in-flight GETATTR, then DESTROY.
	ExpectThat(t.kernel.Answered()[1:], ElementsAre(inFlight, destroy))
	ExpectEq(0, t.counter(t.conn.metrics.dropped))
}

func (t *ConnectionTest) DeviceClosed() {
	t.init()

	t.dev.Close()
	_, _, err := t.conn.ReadOp()
	ExpectEq(io.EOF, err)
}

func (t *ConnectionTest) Unmounted() {
	t.init()

	t.dev.Hangup()
	_, _, err := t.conn.ReadOp()
	ExpectEq(io.EOF, err)
}
