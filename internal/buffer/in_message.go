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

package buffer

import (
	"bytes"
	"fmt"

	"github.com/kernelwire/fuse/internal/fusekernel"
)

// An incoming message from the kernel, including the leading
// fusekernel.InHeader. Provides storage for messages and convenient access to
// their contents.
type InMessage struct {
	storage   []byte
	header    fusekernel.InHeader
	remaining []byte
}

// NewInMessage returns a message whose storage holds size bytes.
func NewInMessage(size int) *InMessage {
	return &InMessage{storage: make([]byte, size)}
}

// Storage returns a buffer of at least size bytes to read the next message
// into, growing the message's storage if necessary.
func (m *InMessage) Storage(size int) []byte {
	if cap(m.storage) < size {
		m.storage = make([]byte, size)
	}

	return m.storage[:size]
}

// Init parses the header of the message held in frame, which is normally a
// prefix of the slice returned by Storage. The first call to Consume will
// consume the bytes directly after the header.
//
// The header's length field must be at least a header and at most
// len(frame); anything else means the frame cannot be trusted at all.
func (m *InMessage) Init(frame []byte) (err error) {
	m.remaining = nil
	if len(frame) < fusekernel.InHeaderSize {
		err = fmt.Errorf("message too short: %d bytes", len(frame))
		return
	}

	d := NewDecoder(frame[:fusekernel.InHeaderSize])
	m.header = fusekernel.InHeader{
		Len:     d.Uint32(),
		Opcode:  d.Uint32(),
		Unique:  d.Uint64(),
		Nodeid:  d.Uint64(),
		Uid:     d.Uint32(),
		Gid:     d.Uint32(),
		Pid:     d.Uint32(),
		Padding: d.Uint32(),
	}

	switch {
	case int(m.header.Len) > len(frame):
		err = fmt.Errorf(
			"declared length %d exceeds the %d bytes read",
			m.header.Len,
			len(frame))
		return

	case m.header.Len < fusekernel.InHeaderSize:
		err = fmt.Errorf("declared length %d is shorter than a header", m.header.Len)
		return
	}

	m.remaining = frame[fusekernel.InHeaderSize:m.header.Len]
	return
}

// Return the header read in the most recent call to Init.
func (m *InMessage) Header() fusekernel.InHeader {
	return m.header
}

// Return the number of bytes left to consume.
func (m *InMessage) Len() int {
	return len(m.remaining)
}

// Consume the next n bytes from the message, returning nil if there are
// fewer than n bytes available.
func (m *InMessage) Consume(n int) (b []byte) {
	if n < 0 || n > len(m.remaining) {
		return
	}

	b = m.remaining[:n:n]
	m.remaining = m.remaining[n:]
	return
}

// Consume everything that is left.
func (m *InMessage) ConsumeRest() []byte {
	return m.Consume(len(m.remaining))
}

// ConsumeString consumes a NUL-terminated string. ok is false if there is no
// terminator.
func (m *InMessage) ConsumeString() (s string, ok bool) {
	i := bytes.IndexByte(m.remaining, 0)
	if i < 0 {
		return
	}

	s = string(m.remaining[:i])
	m.remaining = m.remaining[i+1:]
	ok = true
	return
}
