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

package fusetesting

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/kernelwire/fuse/internal/fusekernel"
	"go.uber.org/atomic"
)

// How long Await waits for a reply by default.
const DefaultTimeout = 5 * time.Second

// A Reply is a message written by the daemon, split into its header and
// body.
type Reply struct {
	Unique uint64

	// Positive, as in syscall.Errno; zero for success.
	Errno syscall.Errno

	Body []byte
}

// Kernel plays the kernel's side of a session over a Device: it numbers and
// frames requests, and files replies by the request they answer.
//
// Bodies are built by feeding the structs of internal/fusekernel through
// encoding/binary, independently of the daemon's hand-written codec.
type Kernel struct {
	dev     *Device
	timeout time.Duration

	nextUnique atomic.Uint64

	mu sync.Mutex

	// GUARDED_BY(mu)
	waiting map[uint64]chan Reply

	// The number of replies seen for each request.
	//
	// GUARDED_BY(mu)
	counts map[uint64]int

	// The requests answered, in the order their replies were written.
	//
	// GUARDED_BY(mu)
	order []uint64

	// Replies that could not be parsed.
	//
	// GUARDED_BY(mu)
	garbage [][]byte
}

// NewKernel starts filing the device's replies. It runs until the device is
// closed.
func NewKernel(dev *Device) *Kernel {
	k := &Kernel{
		dev:     dev,
		timeout: DefaultTimeout,
		waiting: make(map[uint64]chan Reply),
		counts:  make(map[uint64]int),
	}

	go k.pump()
	return k
}

func (k *Kernel) pump() {
	for {
		select {
		case msg := <-k.dev.Replies():
			k.file(msg)

		case <-k.dev.Closed():
			// Drain what was written before the close.
			for {
				select {
				case msg := <-k.dev.Replies():
					k.file(msg)
				default:
					return
				}
			}
		}
	}
}

func (k *Kernel) file(msg []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()

	var h fusekernel.OutHeader
	if err := binary.Read(bytes.NewReader(msg), binary.NativeEndian, &h); err != nil ||
		int(h.Len) != len(msg) {
		k.garbage = append(k.garbage, msg)
		return
	}

	k.counts[h.Unique]++
	k.order = append(k.order, h.Unique)
	k.channel(h.Unique) <- Reply{
		Unique: h.Unique,
		Errno:  syscall.Errno(-h.Error),
		Body:   msg[fusekernel.OutHeaderSize:],
	}
}

// LOCKS_REQUIRED(k.mu)
func (k *Kernel) channel(unique uint64) chan Reply {
	c, ok := k.waiting[unique]
	if !ok {
		c = make(chan Reply, 16)
		k.waiting[unique] = c
	}

	return c
}

// Encode returns the native-endian encoding of each part, concatenated.
// Strings are NUL-terminated, byte slices are copied as they are, and
// anything else must be a fixed-size value acceptable to encoding/binary.
func Encode(parts ...interface{}) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			buf.WriteString(v)
			buf.WriteByte(0)

		case []byte:
			buf.Write(v)

		default:
			if err := binary.Write(&buf, binary.NativeEndian, v); err != nil {
				panic(fmt.Sprintf("Encode(%T): %v", v, err))
			}
		}
	}

	return buf.Bytes()
}

// Prefix returns the first n bytes of the encoding of v, for the shorter
// layouts of older protocol versions.
func Prefix(v interface{}, n int) []byte {
	return Encode(v)[:n]
}

// Decode fills in v from b. If b is shorter than v, as for the shorter
// layouts of older protocol versions, the missing fields are zero.
func Decode(b []byte, v interface{}) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("cannot decode into %T", v)
	}

	if len(b) < size {
		b = append(append([]byte(nil), b...), make([]byte, size-len(b))...)
	}

	return binary.Read(bytes.NewReader(b[:size]), binary.NativeEndian, v)
}

// Frame returns a complete request frame with a fresh unique ID.
func (k *Kernel) Frame(
	opcode fusekernel.Opcode,
	node uint64,
	body ...interface{}) (unique uint64, frame []byte) {
	unique = k.nextUnique.Add(2)
	b := Encode(body...)

	h := fusekernel.InHeader{
		Len:    uint32(fusekernel.InHeaderSize + len(b)),
		Opcode: uint32(opcode),
		Unique: unique,
		Nodeid: node,
		Uid:    1000,
		Gid:    1000,
		Pid:    4242,
	}

	frame = append(Encode(h), b...)
	return
}

// Send a request, returning its unique ID.
func (k *Kernel) Send(
	opcode fusekernel.Opcode,
	node uint64,
	body ...interface{}) uint64 {
	unique, frame := k.Frame(opcode, node, body...)
	k.dev.Push(frame)
	return unique
}

// Await the next reply to the given request.
func (k *Kernel) Await(unique uint64) (r Reply, err error) {
	k.mu.Lock()
	c := k.channel(unique)
	k.mu.Unlock()

	select {
	case r = <-c:
		return
	case <-time.After(k.timeout):
		err = fmt.Errorf("no reply to request %d after %v", unique, k.timeout)
		return
	}
}

// Call sends a request and awaits its reply.
func (k *Kernel) Call(
	opcode fusekernel.Opcode,
	node uint64,
	body ...interface{}) (Reply, error) {
	return k.Await(k.Send(opcode, node, body...))
}

// ReplyCount returns how many replies to the request have been seen so far.
func (k *Kernel) ReplyCount(unique uint64) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.counts[unique]
}

// Answered returns the IDs of the requests replied to so far, in the order
// the replies were written. An ID appears once per reply.
func (k *Kernel) Answered() []uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()

	return append([]uint64(nil), k.order...)
}

// Garbage returns the replies that did not carry a well-formed header.
func (k *Kernel) Garbage() [][]byte {
	k.mu.Lock()
	defer k.mu.Unlock()

	return append([][]byte(nil), k.garbage...)
}

// Init performs the INIT handshake as a kernel speaking 7.minor, offering the
// given readahead and flags. It returns the daemon's reply.
func (k *Kernel) Init(
	minor uint32,
	maxReadahead uint32,
	flags fusekernel.InitFlags) (out fusekernel.InitOut, err error) {
	in := fusekernel.InitIn{
		Major:        7,
		Minor:        minor,
		MaxReadahead: maxReadahead,
		Flags:        uint32(flags),
	}

	body := Encode(in)
	if !(fusekernel.Protocol{Major: 7, Minor: minor}).HasInitFlags() {
		body = body[:fusekernel.CompatInitInSize]
	}

	r, err := k.Call(fusekernel.OpInit, 0, body)
	if err != nil {
		return
	}

	if r.Errno != 0 {
		err = fmt.Errorf("INIT failed: %v", r.Errno)
		return
	}

	err = Decode(r.Body, &out)
	return
}

// Forget drops n lookups of a node. There is no reply.
func (k *Kernel) Forget(node uint64, n uint64) {
	k.Send(fusekernel.OpForget, node, fusekernel.ForgetIn{Nlookup: n})
}

// Interrupt asks the daemon to abandon a request. There is no reply.
func (k *Kernel) Interrupt(unique uint64) {
	k.Send(fusekernel.OpInterrupt, 0, fusekernel.InterruptIn{Unique: unique})
}

// Destroy ends the session.
func (k *Kernel) Destroy() (Reply, error) {
	return k.Call(fusekernel.OpDestroy, 0)
}

// ErrNoReply is returned by ExpectNoReply when a reply arrives.
var ErrNoReply = errors.New("unexpected reply")

// ExpectNoReply waits for d and fails if the request was replied to in that
// time.
func (k *Kernel) ExpectNoReply(unique uint64, d time.Duration) error {
	time.Sleep(d)
	if n := k.ReplyCount(unique); n != 0 {
		return fmt.Errorf("%w: %d replies to request %d", ErrNoReply, n, unique)
	}

	return nil
}
