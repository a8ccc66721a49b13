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

// Package buffer holds the storage for messages exchanged with the kernel and
// the field-by-field readers and writers used to interpret them. Everything is
// in host byte order.
package buffer

import "encoding/binary"

var hostOrder = binary.NativeEndian

// Decoder reads consecutive host-order integers out of a fixed-size message
// body. The caller checks the body length up front; reading past the end
// panics.
type Decoder struct {
	b   []byte
	off int
}

// NewDecoder returns a decoder positioned at the start of b.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{b: b}
}

func (d *Decoder) Uint16() (v uint16) {
	v = hostOrder.Uint16(d.b[d.off:])
	d.off += 2
	return
}

func (d *Decoder) Uint32() (v uint32) {
	v = hostOrder.Uint32(d.b[d.off:])
	d.off += 4
	return
}

func (d *Decoder) Int32() int32 {
	return int32(d.Uint32())
}

func (d *Decoder) Uint64() (v uint64) {
	v = hostOrder.Uint64(d.b[d.off:])
	d.off += 8
	return
}

// Skip n bytes of padding.
func (d *Decoder) Skip(n int) {
	if d.off+n > len(d.b) {
		panic("buffer: skip past end of body")
	}
	d.off += n
}

// Remaining returns the number of bytes not yet read.
func (d *Decoder) Remaining() int {
	return len(d.b) - d.off
}
