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

// Package cusedev implements a character device served over CUSE. The device
// holds a byte buffer: reads and writes address it by offset, and two ioctls
// report its size and clear it.
package cusedev

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/kernelwire/fuse"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/fuseutil"
)

// Ioctl commands understood by the device, encoded as _IOR('C', 1, uint64)
// and _IO('C', 2).
const (
	IoctlGetSize uint32 = 0x80084301
	IoctlReset   uint32 = 0x00004302
)

// The most the buffer may hold.
const MaxSize = 1 << 20

// Device is the file system behind the character device. Use NewServer to
// serve it.
type Device struct {
	fuseutil.NotImplementedFileSystem

	logger log.Logger

	mu sync.Mutex

	// GUARDED_BY(mu)
	contents []byte

	// GUARDED_BY(mu)
	openCount int
}

func NewDevice(logger log.Logger) *Device {
	return &Device{logger: logger}
}

// NewServer returns a server for d, for use with fuse.Serve on a /dev/cuse
// descriptor.
func NewServer(d *Device) fuse.Server {
	return fuseutil.NewFileSystemServerWithLogger(d, d.logger)
}

// Contents returns a copy of the buffer.
//
// LOCKS_EXCLUDED(d.mu)
func (d *Device) Contents() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]byte(nil), d.contents...)
}

// OpenCount returns how many opens have not yet been released.
//
// LOCKS_EXCLUDED(d.mu)
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.openCount
}

func (d *Device) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.openCount++
	op.UseDirectIO = true

	return nil
}

func (d *Device) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if op.Offset < 0 {
		return fuse.EINVAL
	}

	if op.Offset >= int64(len(d.contents)) {
		return nil
	}

	end := op.Offset + int64(op.Size)
	if end > int64(len(d.contents)) {
		end = int64(len(d.contents))
	}

	op.Data = append([]byte(nil), d.contents[op.Offset:end]...)
	return nil
}

func (d *Device) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	end := op.Offset + int64(len(op.Data))
	if op.Offset < 0 || end > MaxSize {
		return fuse.ENOSPC
	}

	if end > int64(len(d.contents)) {
		d.contents = append(d.contents, make([]byte, end-int64(len(d.contents)))...)
	}

	copy(d.contents[op.Offset:], op.Data)
	return nil
}

func (d *Device) Ioctl(
	ctx context.Context,
	op *fuseops.IoctlOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch op.Cmd {
	case IoctlGetSize:
		op.OutData = binary.NativeEndian.AppendUint64(nil, uint64(len(d.contents)))

	case IoctlReset:
		d.contents = nil

	default:
		level.Debug(d.logger).Log("msg", "unknown ioctl", "cmd", op.Cmd)
		return fuse.ENOTTY
	}

	return nil
}

func (d *Device) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	return nil
}

func (d *Device) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.openCount--
	return nil
}
