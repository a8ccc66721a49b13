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

// Package fusetesting plays the kernel's side of a FUSE or CUSE session in
// memory, so that connections and servers can be tested without mounting
// anything.
package fusetesting

import (
	"encoding/binary"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

// Device is an in-memory stand-in for /dev/fuse. The connection reads
// requests from it and writes replies to it; a Kernel (or the test itself)
// does the opposite.
//
// Like the real device, each Read returns exactly one request and each Write
// must carry exactly one reply. A reply to a request marked with Abandon fails
// with ENOENT.
type Device struct {
	requests chan []byte
	replies  chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	hangupOnce sync.Once
	hungUp     chan struct{}

	mu sync.Mutex

	// GUARDED_BY(mu)
	abandoned map[uint64]bool
}

// NewDevice returns an empty device. Requests queue without limit up to a
// generous buffer, as do replies.
func NewDevice() *Device {
	return &Device{
		requests:  make(chan []byte, 4096),
		replies:   make(chan []byte, 4096),
		closed:    make(chan struct{}),
		hungUp:    make(chan struct{}),
		abandoned: make(map[uint64]bool),
	}
}

////////////////////////////////////////////////////////////////////////
// Daemon side
////////////////////////////////////////////////////////////////////////

// Read blocks for the next request. After Close it returns io.EOF; after
// Hangup, once queued requests are drained, it fails with ENODEV as the real
// device does after an unmount. A request too large for p fails with EINVAL.
func (d *Device) Read(p []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, io.EOF
	default:
	}

	select {
	case msg := <-d.requests:
		if len(msg) > len(p) {
			return 0, unix.EINVAL
		}

		return copy(p, msg), nil

	case <-d.closed:
		return 0, io.EOF

	case <-d.hungUp:
		select {
		case msg := <-d.requests:
			return copy(p, msg), nil
		default:
			return 0, unix.ENODEV
		}
	}
}

// Write accepts one reply.
func (d *Device) Write(p []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, unix.EBADF
	case <-d.hungUp:
		return 0, unix.ENODEV
	default:
	}

	if len(p) >= 16 {
		unique := binary.NativeEndian.Uint64(p[8:])

		d.mu.Lock()
		gone := d.abandoned[unique]
		delete(d.abandoned, unique)
		d.mu.Unlock()

		if gone {
			return 0, unix.ENOENT
		}
	}

	d.replies <- append([]byte(nil), p...)
	return len(p), nil
}

// Close the daemon's end. Later reads return io.EOF.
func (d *Device) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

////////////////////////////////////////////////////////////////////////
// Kernel side
////////////////////////////////////////////////////////////////////////

// Push a raw request frame for the daemon to read.
func (d *Device) Push(frame []byte) {
	d.requests <- append([]byte(nil), frame...)
}

// Replies returns the channel on which written replies appear, in the order
// they were written.
func (d *Device) Replies() <-chan []byte {
	return d.replies
}

// Abandon makes the next reply to the given request fail with ENOENT, as
// when the kernel has given up on it.
func (d *Device) Abandon(unique uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.abandoned[unique] = true
}

// Hangup simulates the file system being unmounted: reads fail with ENODEV
// once queued requests have been consumed.
func (d *Device) Hangup() {
	d.hangupOnce.Do(func() { close(d.hungUp) })
}

// Closed returns a channel that is closed once the daemon closes its end.
func (d *Device) Closed() <-chan struct{} {
	return d.closed
}
