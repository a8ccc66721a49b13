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

// Package fuse speaks the kernel side of the FUSE and CUSE protocols from user
// space: it decodes the requests read from a device descriptor, hands them to
// a server, and encodes the replies.
//
// The primary elements of interest are:
//
//   - Connection, which performs the INIT handshake, tracks the lookups the
//     kernel holds on each node, and exchanges ops with a server via ReadOp
//     and Reply.
//
//   - Serve, which runs a Server against a device in the background and
//     returns a Session to wait on.
//
//   - fuseutil.FileSystem and fuseutil.NewFileSystemServer, which dispatch
//     each op to a typed method, and fuseutil.NotImplementedFileSystem, which
//     may be embedded to obtain ENOSYS defaults.
//
// Obtaining the descriptor is left to the caller: a mount helper passes an
// open /dev/fuse, while a character device is served by opening /dev/cuse
// with OpenDevice.
package fuse
