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

package cusedev_test

import (
	"encoding/binary"
	"syscall"
	"testing"

	"github.com/go-kit/log"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
	"github.com/kernelwire/fuse"
	"github.com/kernelwire/fuse/fusetesting"
	"github.com/kernelwire/fuse/internal/fusekernel"
	"github.com/kernelwire/fuse/samples"
	"github.com/kernelwire/fuse/samples/cusedev"
)

func TestCuseDev(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type CuseDevTest struct {
	samples.SampleTest
	dev     *cusedev.Device
	initOut fusetesting.Reply
}

func init() { RegisterTestSuite(&CuseDevTest{}) }

func (t *CuseDevTest) SetUp(ti *TestInfo) {
	t.Config = fuse.DefaultConfig()
	t.Config.Logger = log.NewNopLogger()
	t.Config.DeviceName = "cusedev-test"
	t.Config.DeviceMajor = 240
	t.Config.DeviceMinor = 7

	t.dev = cusedev.NewDevice(log.NewNopLogger())

	var err error
	t.initOut, err = t.InitializeCUSE(cusedev.NewServer(t.dev))
	AssertEq(nil, err)
}

func (t *CuseDevTest) TearDown() {
	AssertEq(nil, t.Destroy())
}

const fh = 0

func (t *CuseDevTest) write(offset uint64, data string) {
	r, err := t.Kernel.Call(
		fusekernel.OpWrite,
		0,
		fusekernel.WriteIn{Fh: fh, Offset: offset, Size: uint32(len(data))},
		[]byte(data))
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())
}

func (t *CuseDevTest) read(offset uint64, size uint32) string {
	r, err := t.Kernel.Call(
		fusekernel.OpRead,
		0,
		fusekernel.ReadIn{Fh: fh, Offset: offset, Size: size})
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())
	return string(r.Body)
}

func (t *CuseDevTest) ioctl(cmd uint32, outSize uint32) fusetesting.Reply {
	r, err := t.Kernel.Call(
		fusekernel.OpIoctl,
		0,
		fusekernel.IoctlIn{Fh: fh, Cmd: cmd, OutSize: outSize})
	AssertEq(nil, err)
	return r
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *CuseDevTest) Handshake() {
	AssertThat(t.initOut, fusetesting.Succeeded())
	AssertEq(
		fusekernel.CuseInitOutSize+len("DEVNAME=cusedev-test\x00"),
		len(t.initOut.Body))

	var out fusekernel.CuseInitOut
	AssertEq(nil, fusetesting.Decode(t.initOut.Body, &out))
	ExpectEq(7, out.Major)
	ExpectEq(fusekernel.LatestProtocol().Minor, out.Minor)
	ExpectEq(240, out.DevMajor)
	ExpectEq(7, out.DevMinor)
	ExpectEq(128<<10, out.MaxWrite)
	ExpectEq(out.MaxWrite, out.MaxRead)

	ExpectEq(
		"DEVNAME=cusedev-test\x00",
		string(t.initOut.Body[fusekernel.CuseInitOutSize:]))

	ExpectTrue(t.Session.Connection().Negotiated().CUSE)
}

func (t *CuseDevTest) OpenAndRelease() {
	r, err := t.Kernel.Call(fusekernel.OpOpen, 0, fusekernel.OpenIn{Flags: syscall.O_RDWR})
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())

	var out fusekernel.OpenOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectNe(0, out.OpenFlags&uint32(fusekernel.OpenDirectIO))
	ExpectEq(1, t.dev.OpenCount())

	r, err = t.Kernel.Call(fusekernel.OpRelease, 0, fusekernel.ReleaseIn{Fh: out.Fh})
	AssertEq(nil, err)
	AssertThat(r, fusetesting.Succeeded())
	ExpectEq(0, t.dev.OpenCount())
}

func (t *CuseDevTest) WriteThenRead() {
	t.write(0, "taco")
	t.write(6, "burrito")

	ExpectThat(t.dev.Contents(), DeepEquals([]byte("taco\x00\x00burrito")))
	ExpectEq("co\x00\x00bu", t.read(2, 6))
	ExpectEq("", t.read(100, 6))
}

func (t *CuseDevTest) WriteTooLarge() {
	r, err := t.Kernel.Call(
		fusekernel.OpWrite,
		0,
		fusekernel.WriteIn{Fh: fh, Offset: cusedev.MaxSize, Size: 1},
		[]byte("x"))
	AssertEq(nil, err)
	ExpectThat(r, fusetesting.ErrnoIs(syscall.ENOSPC))
}

func (t *CuseDevTest) IoctlGetSize() {
	t.write(0, "enchilada")

	r := t.ioctl(cusedev.IoctlGetSize, 8)
	AssertThat(r, fusetesting.Succeeded())
	AssertEq(fusekernel.IoctlOutSize+8, len(r.Body))

	var out fusekernel.IoctlOut
	AssertEq(nil, fusetesting.Decode(r.Body, &out))
	ExpectEq(0, out.Result)
	ExpectEq(9, binary.NativeEndian.Uint64(r.Body[fusekernel.IoctlOutSize:]))
}

func (t *CuseDevTest) IoctlOutputTruncated() {
	t.write(0, "enchilada")

	// The caller only made room for four bytes.
	r := t.ioctl(cusedev.IoctlGetSize, 4)
	AssertThat(r, fusetesting.Succeeded())
	ExpectEq(fusekernel.IoctlOutSize+4, len(r.Body))
}

func (t *CuseDevTest) IoctlReset() {
	t.write(0, "enchilada")

	r := t.ioctl(cusedev.IoctlReset, 0)
	AssertThat(r, fusetesting.Succeeded())
	ExpectEq(0, len(t.dev.Contents()))
}

func (t *CuseDevTest) IoctlUnknown() {
	r := t.ioctl(0x1234, 0)
	ExpectThat(r, fusetesting.ErrnoIs(syscall.ENOTTY))
}
