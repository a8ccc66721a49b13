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
	"github.com/kernelwire/fuse/internal/fusekernel"
)

// OutMessageHeaderSize is the size of the leading fusekernel.OutHeader.
const OutMessageHeaderSize = fusekernel.OutHeaderSize

// OutMessage provides a mechanism for constructing a single contiguous fuse
// message from multiple segments, where the first segment is always a
// fusekernel.OutHeader.
//
// Must be initialized with Reset.
type OutMessage struct {
	storage []byte
}

// Reset the message so that it is ready to be used again. Afterward, the
// contents are solely a zeroed header.
func (m *OutMessage) Reset() {
	if cap(m.storage) < OutMessageHeaderSize {
		m.storage = make([]byte, OutMessageHeaderSize, 4096)
	}

	m.storage = m.storage[:OutMessageHeaderSize]
	clear(m.storage)
}

// SetUnique sets the request ID the message answers.
func (m *OutMessage) SetUnique(unique uint64) {
	hostOrder.PutUint64(m.storage[8:], unique)
}

// SetError sets the header's error field. errno is positive; the kernel wants
// it negated.
func (m *OutMessage) SetError(errno uint32) {
	hostOrder.PutUint32(m.storage[4:], uint32(-int32(errno)))
}

// Grow the message by n bytes, returning the new segment, which is zeroed.
func (m *OutMessage) Grow(n int) (p []byte) {
	l := len(m.storage)
	if cap(m.storage)-l < n {
		grown := make([]byte, l, 2*cap(m.storage)+n)
		copy(grown, m.storage)
		m.storage = grown
	}

	m.storage = m.storage[:l+n]
	p = m.storage[l:]
	clear(p)
	return
}

// Shrink the message to n bytes. n must not be less than the header or more
// than the current length.
func (m *OutMessage) ShrinkTo(n int) {
	if n < OutMessageHeaderSize || n > len(m.storage) {
		panic("buffer: bad ShrinkTo")
	}

	m.storage = m.storage[:n]
}

// Equivalent to growing by the length of p, then copying p over the new
// segment.
func (m *OutMessage) Append(p []byte) {
	m.storage = append(m.storage, p...)
}

// Equivalent to growing by the length of s, then copying s over the new
// segment.
func (m *OutMessage) AppendString(s string) {
	m.storage = append(m.storage, s...)
}

func (m *OutMessage) AppendUint16(v uint16) {
	m.storage = hostOrder.AppendUint16(m.storage, v)
}

func (m *OutMessage) AppendUint32(v uint32) {
	m.storage = hostOrder.AppendUint32(m.storage, v)
}

func (m *OutMessage) AppendInt32(v int32) {
	m.storage = hostOrder.AppendUint32(m.storage, uint32(v))
}

func (m *OutMessage) AppendUint64(v uint64) {
	m.storage = hostOrder.AppendUint64(m.storage, v)
}

// Return the current size of the message.
func (m *OutMessage) Len() int {
	return len(m.storage)
}

// Bytes stamps the header's length field with the current size and returns
// the contents of the message.
func (m *OutMessage) Bytes() []byte {
	hostOrder.PutUint32(m.storage[0:], uint32(len(m.storage)))
	return m.storage
}
