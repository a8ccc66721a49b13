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
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kernelwire/fuse/internal/fusekernel"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// A Channel performs framed I/O against a kernel device: one read per
// message from the kernel, one write per reply. It knows nothing about
// opcodes.
//
// Receive must only be called by a single goroutine. Send may be called
// concurrently.
type Channel struct {
	dev    io.ReadWriteCloser
	closed atomic.Bool

	// Serializes writes, so that two replies are never interleaved.
	wmu sync.Mutex
}

// NewChannel returns a channel over dev, typically an *os.File for
// /dev/fuse or /dev/cuse. The channel takes ownership of dev.
func NewChannel(dev io.ReadWriteCloser) *Channel {
	return &Channel{dev: dev}
}

// OpenDevice opens a FUSE or CUSE device node, such as /dev/cuse, for use with
// NewChannel.
func OpenDevice(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	return f, nil
}

// Receive reads the next message into buf, returning its length. The kernel
// delivers exactly one message per read, so buf must be able to hold the
// largest message the session allows.
//
// io.EOF means the kernel closed the session: the read returned nothing, a
// fragment shorter than a header, or ENODEV (the file system was unmounted).
// EINTR is retried once. Any other failure is a *ChannelError.
func (c *Channel) Receive(buf []byte) (n int, err error) {
	for attempt := 0; ; attempt++ {
		n, err = c.dev.Read(buf)

		switch {
		case err == nil && n < fusekernel.InHeaderSize:
			return 0, io.EOF

		case err == nil:
			return n, nil

		case errors.Is(err, unix.EINTR) && attempt == 0:
			continue

		case errors.Is(err, io.EOF),
			errors.Is(err, unix.ENODEV),
			errors.Is(err, os.ErrClosed) && c.closed.Load():
			return 0, io.EOF

		default:
			return 0, &ChannelError{Op: "read", Err: err}
		}
	}
}

// Send writes a complete reply. A reply the kernel no longer waits for,
// because the request was abandoned, is not an error: delivered is false and
// err is nil. A short write is a *ChannelError, since the kernel cannot
// resume a split reply.
func (c *Channel) Send(msg []byte) (delivered bool, err error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	n, err := c.dev.Write(msg)
	switch {
	case errors.Is(err, unix.ENOENT):
		return false, nil

	case err != nil:
		return false, &ChannelError{Op: "write", Err: err}

	case n != len(msg):
		return false, &ChannelError{
			Op:  "write",
			Err: fmt.Errorf("short write: %d of %d bytes", n, len(msg)),
		}
	}

	return true, nil
}

// Close closes the device. Later calls to Receive return io.EOF.
func (c *Channel) Close() error {
	if !c.closed.CAS(false, true) {
		return nil
	}

	return c.dev.Close()
}
