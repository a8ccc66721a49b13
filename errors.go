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

	"github.com/kernelwire/fuse/internal/fusekernel"
	"golang.org/x/sys/unix"
)

const (
	// Errors corresponding to kernel error numbers. These may be treated
	// specially by Connection.Reply.
	EACCES    = unix.EACCES
	EAGAIN    = unix.EAGAIN
	EEXIST    = unix.EEXIST
	EINTR     = unix.EINTR
	EINVAL    = unix.EINVAL
	EIO       = unix.EIO
	ENOATTR   = unix.ENODATA
	ENOENT    = unix.ENOENT
	ENOSPC    = unix.ENOSPC
	ENOSYS    = unix.ENOSYS
	ENOTDIR   = unix.ENOTDIR
	ENOTEMPTY = unix.ENOTEMPTY
	ENOTSUP   = unix.ENOTSUP
	ENOTTY    = unix.ENOTTY
	EPERM     = unix.EPERM
	EPROTO    = unix.EPROTO
	ERANGE    = unix.ERANGE
	EROFS     = unix.EROFS
)

var (
	// ErrAlreadyReplied is returned by Connection.Reply when the op was
	// already replied to. Nothing is written to the kernel.
	ErrAlreadyReplied = errors.New("fuse: op already replied to")

	// ErrNotInitialized is returned by Connection.ReadOp when the handshake
	// with the kernel has not completed.
	ErrNotInitialized = errors.New("fuse: connection not initialized")

	// ErrNodeUnderflow reports that the kernel forgot more lookups of a node
	// than it was ever given. The session cannot continue.
	ErrNodeUnderflow = errors.New("fuse: node lookup count underflow")
)

// A ProtocolError reports a message that does not follow the kernel ABI. A
// ProtocolError returned by Connection.ReadOp is fatal to the session.
type ProtocolError struct {
	// The header fields of the offending message, if it had a readable header.
	Unique uint64
	Opcode uint32

	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf(
		"fuse: protocol error in %v (unique %d): %v",
		fusekernel.Opcode(e.Opcode),
		e.Unique,
		e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// A ChannelError reports a failure reading from or writing to the kernel
// device. It is always fatal to the session.
type ChannelError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("fuse: device %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
