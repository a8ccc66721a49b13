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
	"sync"

	"github.com/kernelwire/fuse/internal/buffer"
	"github.com/kernelwire/fuse/internal/fusekernel"
)

// MessageProvider is used to get and release the buffers needed to
// communicate with the kernel. Implementations must be safe for concurrent
// use.
type MessageProvider interface {
	// GetInMessage is called before reading each message from the kernel. The
	// connection sizes its storage itself.
	GetInMessage() *buffer.InMessage

	// GetOutMessage is called for each reply. The result must be Reset.
	GetOutMessage() *buffer.OutMessage

	// PutInMessage and PutOutMessage are called once the reply built from a
	// message has been written, or the message was discarded. Data handed to
	// the server, such as WriteFileOp.Data, is not used afterward.
	PutInMessage(*buffer.InMessage)
	PutOutMessage(*buffer.OutMessage)
}

// DefaultMessageProvider recycles messages through a pair of sync.Pools. The
// zero value is ready to use.
type DefaultMessageProvider struct {
	inMessages  sync.Pool
	outMessages sync.Pool
}

var _ MessageProvider = &DefaultMessageProvider{}

func (m *DefaultMessageProvider) GetInMessage() *buffer.InMessage {
	if x, ok := m.inMessages.Get().(*buffer.InMessage); ok {
		return x
	}

	return buffer.NewInMessage(fusekernel.MinReadBuffer)
}

func (m *DefaultMessageProvider) GetOutMessage() *buffer.OutMessage {
	x, ok := m.outMessages.Get().(*buffer.OutMessage)
	if !ok {
		x = new(buffer.OutMessage)
	}

	x.Reset()
	return x
}

func (m *DefaultMessageProvider) PutInMessage(x *buffer.InMessage) {
	m.inMessages.Put(x)
}

func (m *DefaultMessageProvider) PutOutMessage(x *buffer.OutMessage) {
	m.outMessages.Put(x)
}
