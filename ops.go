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
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/internal/fusekernel"
)

// Ops the connection handles itself. None of these are returned by ReadOp.

// INIT, as offered by the kernel.
type initOp struct {
	Kernel       fusekernel.Protocol
	MaxReadahead uint32
	Flags        fusekernel.InitFlags
}

// CUSE_INIT, as offered by the kernel.
type cuseInitOp struct {
	Kernel fusekernel.Protocol
	Flags  fusekernel.CuseFlags
}

type interruptOp struct {
	// The request to cancel.
	Unique uint64
}

type destroyOp struct {
}

// A request the connection has no op for. Answered with ENOSYS.
type unknownOp struct {
	Opcode fusekernel.Opcode
	Inode  fuseops.InodeID
}

// FORGET or BATCH_FORGET. Applied to the node table on the reader goroutine.
type forgetOp struct {
	Entries []forgetEntry
}

type forgetEntry struct {
	Inode   fuseops.InodeID
	Nlookup uint64
}
