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
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/internal/buffer"
	"github.com/kernelwire/fuse/internal/fusekernel"
	"golang.org/x/sys/unix"
)

////////////////////////////////////////////////////////////////////////
// Incoming messages
////////////////////////////////////////////////////////////////////////

func corrupt(opcode fusekernel.Opcode) error {
	return fmt.Errorf("corrupt %v request", opcode)
}

// Convert a kernel message to an appropriate op. If the op is unknown, a
// special unexported type will be used. Layouts that changed across protocol
// versions are read as the negotiated version defines them.
//
// The result may alias the message's storage, so the caller must not recycle
// the message while the op is in use.
func convertInMessage(
	inMsg *buffer.InMessage,
	protocol fusekernel.Protocol,
	clock timeutil.Clock) (o interface{}, err error) {
	h := inMsg.Header()
	opcode := fusekernel.Opcode(h.Opcode)
	node := fuseops.InodeID(h.Nodeid)
	opCtx := fuseops.OpContext{
		Unique: h.Unique,
		Uid:    h.Uid,
		Gid:    h.Gid,
		Pid:    h.Pid,
	}

	// Consume a fixed-size body, failing the conversion if it is missing.
	body := func(size int) *buffer.Decoder {
		b := inMsg.Consume(size)
		if b == nil {
			err = corrupt(opcode)
			return nil
		}

		return buffer.NewDecoder(b)
	}

	// Consume a NUL-terminated name.
	name := func() string {
		s, ok := inMsg.ConsumeString()
		if !ok && err == nil {
			err = corrupt(opcode)
		}

		return s
	}

	switch opcode {
	case fusekernel.OpLookup:
		o = &fuseops.LookUpInodeOp{
			OpContext: opCtx,
			Parent:    node,
			Name:      name(),
		}

	case fusekernel.OpGetattr:
		to := &fuseops.GetInodeAttributesOp{
			OpContext: opCtx,
			Inode:     node,
		}
		o = to

		if size := fusekernel.GetattrInSizeFor(protocol); size > 0 {
			d := body(size)
			if d == nil {
				return nil, err
			}

			flags := d.Uint32()
			d.Skip(4)
			fh := fuseops.HandleID(d.Uint64())
			if flags&fusekernel.GetattrFh != 0 {
				to.Handle = &fh
			}
		}

	case fusekernel.OpSetattr:
		d := body(fusekernel.SetattrInSize)
		if d == nil {
			return nil, err
		}

		valid := fusekernel.SetattrValid(d.Uint32())
		d.Skip(4)
		fh := fuseops.HandleID(d.Uint64())
		size := d.Uint64()
		d.Skip(8) // lock owner
		atime := d.Uint64()
		mtime := d.Uint64()
		ctime := d.Uint64()
		atimeNsec := d.Uint32()
		mtimeNsec := d.Uint32()
		ctimeNsec := d.Uint32()
		mode := d.Uint32()
		d.Skip(4)
		uid := d.Uint32()
		gid := d.Uint32()

		to := &fuseops.SetInodeAttributesOp{
			OpContext: opCtx,
			Inode:     node,
		}
		o = to

		if valid&fusekernel.SetattrHandle != 0 {
			to.Handle = &fh
		}

		if valid&fusekernel.SetattrSize != 0 {
			to.Size = &size
		}

		if valid&fusekernel.SetattrMode != 0 {
			m := ConvertFileMode(mode)
			to.Mode = &m
		}

		if valid&fusekernel.SetattrUid != 0 {
			to.Uid = &uid
		}

		if valid&fusekernel.SetattrGid != 0 {
			to.Gid = &gid
		}

		switch {
		case valid&fusekernel.SetattrAtimeNow != 0:
			t := clock.Now()
			to.Atime = &t

		case valid&fusekernel.SetattrAtime != 0:
			t := time.Unix(int64(atime), int64(atimeNsec))
			to.Atime = &t
		}

		switch {
		case valid&fusekernel.SetattrMtimeNow != 0:
			t := clock.Now()
			to.Mtime = &t

		case valid&fusekernel.SetattrMtime != 0:
			t := time.Unix(int64(mtime), int64(mtimeNsec))
			to.Mtime = &t
		}

		if valid&fusekernel.SetattrCtime != 0 {
			t := time.Unix(int64(ctime), int64(ctimeNsec))
			to.Ctime = &t
		}

	case fusekernel.OpForget:
		d := body(fusekernel.ForgetInSize)
		if d == nil {
			return nil, err
		}

		o = &forgetOp{
			Entries: []forgetEntry{{Inode: node, Nlookup: d.Uint64()}},
		}

	case fusekernel.OpBatchForget:
		d := body(fusekernel.BatchForgetInSize)
		if d == nil {
			return nil, err
		}

		count := int(d.Uint32())
		if count > inMsg.Len()/fusekernel.ForgetOneSize {
			return nil, corrupt(opcode)
		}

		d = body(count * fusekernel.ForgetOneSize)
		if d == nil {
			return nil, err
		}

		to := &forgetOp{Entries: make([]forgetEntry, count)}
		for i := range to.Entries {
			to.Entries[i].Inode = fuseops.InodeID(d.Uint64())
			to.Entries[i].Nlookup = d.Uint64()
		}
		o = to

	case fusekernel.OpReadlink:
		o = &fuseops.ReadSymlinkOp{
			OpContext: opCtx,
			Inode:     node,
		}

	case fusekernel.OpSymlink:
		// The kernel sends the new name first, then the target.
		to := &fuseops.CreateSymlinkOp{
			OpContext: opCtx,
			Parent:    node,
		}
		to.Name = name()
		to.Target = name()
		o = to

	case fusekernel.OpMknod:
		d := body(fusekernel.MknodInSizeFor(protocol))
		if d == nil {
			return nil, err
		}

		to := &fuseops.MkNodeOp{
			OpContext: opCtx,
			Parent:    node,
			Mode:      ConvertFileMode(d.Uint32()),
			Rdev:      d.Uint32(),
		}
		if protocol.HasUmask() {
			to.Umask = d.Uint32()
		}

		to.Name = name()
		o = to

	case fusekernel.OpMkdir:
		d := body(fusekernel.MkdirInSize)
		if d == nil {
			return nil, err
		}

		to := &fuseops.MkDirOp{
			OpContext: opCtx,
			Parent:    node,

			// On Linux, vfs_mkdir calls through to the inode with at most
			// permissions and sticky bits set (cf. https://goo.gl/WxgQXk), and fuse
			// passes that on directly (cf. https://goo.gl/f31aMo). In other words,
			// the fact that this is a directory is implicit in the fact that the
			// opcode is mkdir. But we want the correct mode to go through, so ensure
			// that os.ModeDir is set.
			Mode: ConvertFileMode(d.Uint32()) | os.ModeDir,
		}
		if protocol.HasUmask() {
			to.Umask = d.Uint32()
		}

		to.Name = name()
		o = to

	case fusekernel.OpUnlink:
		o = &fuseops.UnlinkOp{
			OpContext: opCtx,
			Parent:    node,
			Name:      name(),
		}

	case fusekernel.OpRmdir:
		o = &fuseops.RmDirOp{
			OpContext: opCtx,
			Parent:    node,
			Name:      name(),
		}

	case fusekernel.OpRename, fusekernel.OpRename2:
		to := &fuseops.RenameOp{
			OpContext: opCtx,
			OldParent: node,
		}

		if opcode == fusekernel.OpRename2 {
			d := body(fusekernel.Rename2InSize)
			if d == nil {
				return nil, err
			}

			to.NewParent = fuseops.InodeID(d.Uint64())
			to.Flags = d.Uint32()
		} else {
			d := body(fusekernel.RenameInSize)
			if d == nil {
				return nil, err
			}

			to.NewParent = fuseops.InodeID(d.Uint64())
		}

		to.OldName = name()
		to.NewName = name()
		o = to

	case fusekernel.OpLink:
		d := body(fusekernel.LinkInSize)
		if d == nil {
			return nil, err
		}

		to := &fuseops.CreateLinkOp{
			OpContext: opCtx,
			Parent:    node,
			Target:    fuseops.InodeID(d.Uint64()),
		}
		to.Name = name()
		o = to

	case fusekernel.OpOpen, fusekernel.OpOpendir:
		d := body(fusekernel.OpenInSize)
		if d == nil {
			return nil, err
		}

		flags := d.Uint32()
		if opcode == fusekernel.OpOpendir {
			o = &fuseops.OpenDirOp{
				OpContext: opCtx,
				Inode:     node,
				Flags:     flags,
			}
		} else {
			o = &fuseops.OpenFileOp{
				OpContext: opCtx,
				Inode:     node,
				Flags:     flags,
			}
		}

	case fusekernel.OpRead, fusekernel.OpReaddir, fusekernel.OpReaddirplus:
		d := body(fusekernel.ReadInSizeFor(protocol))
		if d == nil {
			return nil, err
		}

		fh := fuseops.HandleID(d.Uint64())
		offset := d.Uint64()
		size := int(d.Uint32())
		readFlags := d.Uint32()

		switch opcode {
		case fusekernel.OpReaddir:
			o = &fuseops.ReadDirOp{
				OpContext: opCtx,
				Inode:     node,
				Handle:    fh,
				Offset:    fuseops.DirOffset(offset),
				Size:      size,
			}

		case fusekernel.OpReaddirplus:
			o = &fuseops.ReadDirPlusOp{
				OpContext: opCtx,
				Inode:     node,
				Handle:    fh,
				Offset:    fuseops.DirOffset(offset),
				Size:      size,
			}

		default:
			to := &fuseops.ReadFileOp{
				OpContext: opCtx,
				Inode:     node,
				Handle:    fh,
				Offset:    int64(offset),
				Size:      size,
			}

			if protocol.HasReadWriteFlags() {
				owner := fuseops.LockOwner(d.Uint64())
				if readFlags&fusekernel.ReadLockOwner != 0 {
					to.LockOwner = &owner
				}
			}
			o = to
		}

	case fusekernel.OpWrite:
		d := body(fusekernel.WriteInSizeFor(protocol))
		if d == nil {
			return nil, err
		}

		to := &fuseops.WriteFileOp{
			OpContext: opCtx,
			Inode:     node,
			Handle:    fuseops.HandleID(d.Uint64()),
			Offset:    int64(d.Uint64()),
		}
		size := int(d.Uint32())
		to.Flags = d.Uint32()

		if protocol.HasReadWriteFlags() {
			owner := fuseops.LockOwner(d.Uint64())
			if to.Flags&fusekernel.WriteLockOwner != 0 {
				to.LockOwner = &owner
			}
		}

		to.Data = inMsg.Consume(size)
		if to.Data == nil && size != 0 {
			return nil, corrupt(opcode)
		}
		o = to

	case fusekernel.OpStatfs:
		o = &fuseops.StatFSOp{
			OpContext: opCtx,
		}

	case fusekernel.OpRelease, fusekernel.OpReleasedir:
		d := body(fusekernel.ReleaseInSizeFor(protocol))
		if d == nil {
			return nil, err
		}

		fh := fuseops.HandleID(d.Uint64())
		flags := d.Uint32()
		releaseFlags := d.Uint32()
		var owner fuseops.LockOwner
		if protocol.HasReleaseLockOwner() {
			owner = fuseops.LockOwner(d.Uint64())
		}

		if opcode == fusekernel.OpReleasedir {
			o = &fuseops.ReleaseDirHandleOp{
				OpContext: opCtx,
				Inode:     node,
				Handle:    fh,
				Flags:     flags,
			}
		} else {
			o = &fuseops.ReleaseFileHandleOp{
				OpContext:   opCtx,
				Inode:       node,
				Handle:      fh,
				Flags:       flags,
				LockOwner:   owner,
				Flush:       releaseFlags&fusekernel.ReleaseFlush != 0,
				FlockUnlock: releaseFlags&fusekernel.ReleaseFlockUnlock != 0,
			}
		}

	case fusekernel.OpFsync, fusekernel.OpFsyncdir:
		d := body(fusekernel.FsyncInSize)
		if d == nil {
			return nil, err
		}

		fh := fuseops.HandleID(d.Uint64())
		dataOnly := d.Uint32()&fusekernel.FsyncFdatasync != 0

		if opcode == fusekernel.OpFsyncdir {
			o = &fuseops.SyncDirOp{
				OpContext: opCtx,
				Inode:     node,
				Handle:    fh,
				DataOnly:  dataOnly,
			}
		} else {
			o = &fuseops.SyncFileOp{
				OpContext: opCtx,
				Inode:     node,
				Handle:    fh,
				DataOnly:  dataOnly,
			}
		}

	case fusekernel.OpFlush:
		d := body(fusekernel.FlushInSizeFor(protocol))
		if d == nil {
			return nil, err
		}

		to := &fuseops.FlushFileOp{
			OpContext: opCtx,
			Inode:     node,
			Handle:    fuseops.HandleID(d.Uint64()),
		}
		d.Skip(8)
		if protocol.HasReleaseLockOwner() {
			to.LockOwner = fuseops.LockOwner(d.Uint64())
		}
		o = to

	case fusekernel.OpSetxattr:
		d := body(fusekernel.SetxattrInSize)
		if d == nil {
			return nil, err
		}

		size := int(d.Uint32())
		to := &fuseops.SetXattrOp{
			OpContext: opCtx,
			Inode:     node,
			Flags:     d.Uint32(),
		}
		to.Name = name()
		to.Value = inMsg.Consume(size)
		if to.Value == nil && err == nil {
			err = corrupt(opcode)
		}
		o = to

	case fusekernel.OpGetxattr:
		d := body(fusekernel.GetxattrInSize)
		if d == nil {
			return nil, err
		}

		to := &fuseops.GetXattrOp{
			OpContext: opCtx,
			Inode:     node,
			Size:      int(d.Uint32()),
		}
		to.Name = name()
		o = to

	case fusekernel.OpListxattr:
		d := body(fusekernel.GetxattrInSize)
		if d == nil {
			return nil, err
		}

		o = &fuseops.ListXattrOp{
			OpContext: opCtx,
			Inode:     node,
			Size:      int(d.Uint32()),
		}

	case fusekernel.OpRemovexattr:
		o = &fuseops.RemoveXattrOp{
			OpContext: opCtx,
			Inode:     node,
			Name:      name(),
		}

	case fusekernel.OpGetlk, fusekernel.OpSetlk, fusekernel.OpSetlkw:
		d := body(fusekernel.LkInSize)
		if d == nil {
			return nil, err
		}

		fh := fuseops.HandleID(d.Uint64())
		owner := fuseops.LockOwner(d.Uint64())
		lock, lerr := decodeFileLock(d)
		if lerr != nil {
			return nil, fmt.Errorf("%v: %w", corrupt(opcode), lerr)
		}
		lkFlags := d.Uint32()

		if opcode == fusekernel.OpGetlk {
			o = &fuseops.GetLockOp{
				OpContext: opCtx,
				Inode:     node,
				Handle:    fh,
				Owner:     owner,
				Lock:      lock,
			}
		} else {
			o = &fuseops.SetLockOp{
				OpContext: opCtx,
				Inode:     node,
				Handle:    fh,
				Owner:     owner,
				Lock:      lock,
				Wait:      opcode == fusekernel.OpSetlkw,
				Flock:     lkFlags&fusekernel.LkFlock != 0,
			}
		}

	case fusekernel.OpAccess:
		d := body(fusekernel.AccessInSize)
		if d == nil {
			return nil, err
		}

		o = &fuseops.AccessOp{
			OpContext: opCtx,
			Inode:     node,
			Mask:      d.Uint32(),
		}

	case fusekernel.OpCreate:
		d := body(fusekernel.CreateInSizeFor(protocol))
		if d == nil {
			return nil, err
		}

		to := &fuseops.CreateFileOp{
			OpContext: opCtx,
			Parent:    node,
			Flags:     d.Uint32(),
			Mode:      ConvertFileMode(d.Uint32()),
		}
		if protocol.HasUmask() {
			to.Umask = d.Uint32()
		}

		to.Name = name()
		o = to

	case fusekernel.OpInterrupt:
		d := body(fusekernel.InterruptInSize)
		if d == nil {
			return nil, err
		}

		o = &interruptOp{Unique: d.Uint64()}

	case fusekernel.OpBmap:
		d := body(fusekernel.BmapInSize)
		if d == nil {
			return nil, err
		}

		o = &fuseops.BmapOp{
			OpContext: opCtx,
			Inode:     node,
			Block:     d.Uint64(),
			BlockSize: d.Uint32(),
		}

	case fusekernel.OpDestroy:
		o = &destroyOp{}

	case fusekernel.OpIoctl:
		d := body(fusekernel.IoctlInSize)
		if d == nil {
			return nil, err
		}

		to := &fuseops.IoctlOp{
			OpContext: opCtx,
			Inode:     node,
			Handle:    fuseops.HandleID(d.Uint64()),
			Flags:     d.Uint32(),
			Cmd:       d.Uint32(),
			Arg:       d.Uint64(),
		}
		inSize := int(d.Uint32())
		to.OutSize = int(d.Uint32())

		to.InData = inMsg.Consume(inSize)
		if to.InData == nil && inSize != 0 {
			return nil, corrupt(opcode)
		}
		o = to

	case fusekernel.OpFallocate:
		d := body(fusekernel.FallocateInSize)
		if d == nil {
			return nil, err
		}

		o = &fuseops.FallocateOp{
			OpContext: opCtx,
			Inode:     node,
			Handle:    fuseops.HandleID(d.Uint64()),
			Offset:    d.Uint64(),
			Length:    d.Uint64(),
			Mode:      d.Uint32(),
		}

	case fusekernel.OpLseek:
		d := body(fusekernel.LseekInSize)
		if d == nil {
			return nil, err
		}

		o = &fuseops.LseekOp{
			OpContext: opCtx,
			Inode:     node,
			Handle:    fuseops.HandleID(d.Uint64()),
			Offset:    int64(d.Uint64()),
			Whence:    int(d.Uint32()),
		}

	case fusekernel.OpInit:
		// The size of the body depends on the version it announces.
		d := body(fusekernel.CompatInitInSize)
		if d == nil {
			return nil, err
		}

		to := &initOp{
			Kernel: fusekernel.Protocol{
				Major: d.Uint32(),
				Minor: d.Uint32(),
			},
		}

		if to.Kernel.HasInitFlags() {
			d = body(fusekernel.InitInSize - fusekernel.CompatInitInSize)
			if d == nil {
				return nil, err
			}

			to.MaxReadahead = d.Uint32()
			to.Flags = fusekernel.InitFlags(d.Uint32())
		}
		o = to

	case fusekernel.OpCuseInit:
		d := body(fusekernel.CuseInitInSize)
		if d == nil {
			return nil, err
		}

		to := &cuseInitOp{
			Kernel: fusekernel.Protocol{
				Major: d.Uint32(),
				Minor: d.Uint32(),
			},
		}
		d.Skip(4)
		to.Flags = fusekernel.CuseFlags(d.Uint32())
		o = to

	default:
		o = &unknownOp{
			Opcode: opcode,
			Inode:  node,
		}
	}

	if err != nil {
		return nil, err
	}

	return o, nil
}

////////////////////////////////////////////////////////////////////////
// Outgoing messages
////////////////////////////////////////////////////////////////////////

// Fill in the reply to op in m, whose header must already carry the request's
// unique ID. On success, return the nodes whose entries the reply hands to the
// kernel; each counts as one lookup. If the reply cannot be encoded, return
// the errno to send instead.
func (c *Connection) kernelResponseForOp(
	m *buffer.OutMessage,
	op interface{}) (lookups []fuseops.InodeID, errno syscall.Errno) {
	switch o := op.(type) {
	case *fuseops.LookUpInodeOp:
		// Negative entries are only understood from 7.4 on.
		if o.Entry.Child == 0 && c.protocol.LT(fusekernel.Protocol{Major: 7, Minor: 4}) {
			return nil, ENOENT
		}

		c.writeEntryOut(m, &o.Entry)
		lookups = entryLookups(&o.Entry)

	case *fuseops.GetInodeAttributesOp:
		c.writeAttrOut(m, o.Inode, &o.Attributes, o.AttributesExpiration)

	case *fuseops.SetInodeAttributesOp:
		c.writeAttrOut(m, o.Inode, &o.Attributes, o.AttributesExpiration)

	case *fuseops.MkDirOp:
		c.writeEntryOut(m, &o.Entry)
		lookups = entryLookups(&o.Entry)

	case *fuseops.MkNodeOp:
		c.writeEntryOut(m, &o.Entry)
		lookups = entryLookups(&o.Entry)

	case *fuseops.CreateFileOp:
		c.writeEntryOut(m, &o.Entry)
		lookups = entryLookups(&o.Entry)

		var flags fusekernel.OpenResponseFlags
		if o.KeepPageCache {
			flags |= fusekernel.OpenKeepCache
		}

		if o.UseDirectIO {
			flags |= fusekernel.OpenDirectIO
		}

		writeOpenOut(m, o.Handle, flags)

	case *fuseops.CreateSymlinkOp:
		c.writeEntryOut(m, &o.Entry)
		lookups = entryLookups(&o.Entry)

	case *fuseops.CreateLinkOp:
		c.writeEntryOut(m, &o.Entry)
		lookups = entryLookups(&o.Entry)

	case *fuseops.RenameOp:
		// Empty response

	case *fuseops.RmDirOp:
		// Empty response

	case *fuseops.UnlinkOp:
		// Empty response

	case *fuseops.OpenDirOp:
		var flags fusekernel.OpenResponseFlags
		if o.CacheDir {
			flags |= fusekernel.OpenCacheDir
		}

		if o.KeepCache {
			flags |= fusekernel.OpenKeepCache
		}

		writeOpenOut(m, o.Handle, flags)

	case *fuseops.ReadDirOp:
		writeDirents(m, o.Size, o.Entries)

	case *fuseops.ReadDirPlusOp:
		lookups = c.writeDirentsPlus(m, o.Size, o.Entries)

	case *fuseops.ReleaseDirHandleOp:
		// Empty response

	case *fuseops.SyncDirOp:
		// Empty response

	case *fuseops.OpenFileOp:
		var flags fusekernel.OpenResponseFlags
		if o.KeepPageCache {
			flags |= fusekernel.OpenKeepCache
		}

		if o.UseDirectIO {
			flags |= fusekernel.OpenDirectIO
		}

		if o.NonSeekable {
			flags |= fusekernel.OpenNonSeekable
		}

		writeOpenOut(m, o.Handle, flags)

	case *fuseops.ReadFileOp:
		data := o.Data
		if len(data) > o.Size {
			data = data[:o.Size]
		}

		m.Append(data)

	case *fuseops.WriteFileOp:
		m.AppendUint32(uint32(len(o.Data)))
		m.AppendUint32(0)

	case *fuseops.SyncFileOp:
		// Empty response

	case *fuseops.FlushFileOp:
		// Empty response

	case *fuseops.ReleaseFileHandleOp:
		// Empty response

	case *fuseops.ReadSymlinkOp:
		m.AppendString(o.Target)

	case *fuseops.StatFSOp:
		namelen := o.MaxNameLength
		if namelen == 0 {
			namelen = 255
		}

		start := m.Len()
		m.AppendUint64(o.Blocks)
		m.AppendUint64(o.BlocksFree)
		m.AppendUint64(o.BlocksAvailable)
		m.AppendUint64(o.Inodes)
		m.AppendUint64(o.InodesFree)

		// The posix spec for sys/statvfs.h (https://tinyurl.com/2juj6ah6) defines
		// f_bsize as the file system block size and f_frsize as the fundamental
		// block size, in units of which f_blocks is counted. Linux reports
		// fuse_kstatfs::bsize as f_bsize and fuse_kstatfs::frsize as f_frsize.
		m.AppendUint32(o.IoSize)
		m.AppendUint32(namelen)
		m.AppendUint32(o.BlockSize)
		m.Grow(fusekernel.KstatfsSize - (m.Len() - start))
		m.ShrinkTo(start + fusekernel.StatfsOutSizeFor(c.protocol))

	case *fuseops.GetXattrOp:
		if o.Size == 0 {
			writeXattrSize(m, len(o.Value))
			break
		}

		if len(o.Value) > o.Size {
			return nil, ERANGE
		}

		m.Append(o.Value)

	case *fuseops.ListXattrOp:
		var names strings.Builder
		for _, n := range o.Names {
			names.WriteString(n)
			names.WriteByte(0)
		}

		if o.Size == 0 {
			writeXattrSize(m, names.Len())
			break
		}

		if names.Len() > o.Size {
			return nil, ERANGE
		}

		m.AppendString(names.String())

	case *fuseops.SetXattrOp:
		// Empty response

	case *fuseops.RemoveXattrOp:
		// Empty response

	case *fuseops.AccessOp:
		// Empty response

	case *fuseops.GetLockOp:
		if err := encodeFileLock(m, o.Conflict); err != nil {
			return nil, EIO
		}

	case *fuseops.SetLockOp:
		// Empty response

	case *fuseops.BmapOp:
		m.AppendUint64(o.Block)

	case *fuseops.IoctlOp:
		data := o.OutData
		if len(data) > o.OutSize {
			data = data[:o.OutSize]
		}

		m.AppendInt32(o.Result)
		m.Grow(fusekernel.IoctlOutSize - 4)
		m.Append(data)

	case *fuseops.FallocateOp:
		// Empty response

	case *fuseops.LseekOp:
		m.AppendUint64(uint64(o.Result))

	case *destroyOp:
		// Empty response

	default:
		panic(fmt.Sprintf("Unexpected op: %#v", op))
	}

	return
}

func entryLookups(e *fuseops.ChildInodeEntry) []fuseops.InodeID {
	if e.Child == 0 {
		return nil
	}

	return []fuseops.InodeID{e.Child}
}

func writeOpenOut(
	m *buffer.OutMessage,
	h fuseops.HandleID,
	flags fusekernel.OpenResponseFlags) {
	m.AppendUint64(uint64(h))
	m.AppendUint32(uint32(flags))
	m.AppendUint32(0)
}

func writeXattrSize(m *buffer.OutMessage, size int) {
	m.AppendUint32(uint32(size))
	m.AppendUint32(0)
}

// Append as many of the entries as fit within size bytes.
func writeDirents(m *buffer.OutMessage, size int, entries []fuseops.Dirent) {
	used := 0
	for i := range entries {
		n := fusekernel.DirentLen(len(entries[i].Name))
		if used+n > size {
			break
		}

		writeDirent(m, &entries[i])
		used += n
	}
}

// Like writeDirents, but each entry is preceded by its lookup result. Return
// the nodes the kernel will count a lookup of: all of the appended entries
// except "." and ".." and those naming node zero.
func (c *Connection) writeDirentsPlus(
	m *buffer.OutMessage,
	size int,
	entries []fuseops.DirentPlus) (lookups []fuseops.InodeID) {
	used := 0
	for i := range entries {
		e := &entries[i]
		n := fusekernel.EntryOutSizeFor(c.protocol) + fusekernel.DirentLen(len(e.Dirent.Name))
		if used+n > size {
			break
		}

		c.writeEntryOut(m, &e.Entry)
		writeDirent(m, &e.Dirent)
		used += n

		if e.Dirent.Name != "." && e.Dirent.Name != ".." {
			lookups = append(lookups, entryLookups(&e.Entry)...)
		}
	}

	return
}

func writeDirent(m *buffer.OutMessage, d *fuseops.Dirent) {
	start := m.Len()
	m.AppendUint64(uint64(d.Inode))
	m.AppendUint64(uint64(d.Offset))
	m.AppendUint32(uint32(len(d.Name)))
	m.AppendUint32(uint32(d.Type))
	m.AppendString(d.Name)

	// Pad to the dirent alignment with zeroes.
	m.Grow(fusekernel.DirentLen(len(d.Name)) - (m.Len() - start))
}

func (c *Connection) writeEntryOut(
	m *buffer.OutMessage,
	e *fuseops.ChildInodeEntry) {
	m.AppendUint64(uint64(e.Child))
	m.AppendUint64(uint64(e.Generation))

	entrySecs, entryNsec := c.convertExpirationTime(e.EntryExpiration)
	attrSecs, attrNsec := c.convertExpirationTime(e.AttributesExpiration)
	m.AppendUint64(entrySecs)
	m.AppendUint64(attrSecs)
	m.AppendUint32(entryNsec)
	m.AppendUint32(attrNsec)

	c.writeAttr(m, e.Child, &e.Attributes)
}

func (c *Connection) writeAttrOut(
	m *buffer.OutMessage,
	inode fuseops.InodeID,
	attr *fuseops.InodeAttributes,
	expiration time.Time) {
	secs, nsec := c.convertExpirationTime(expiration)
	m.AppendUint64(secs)
	m.AppendUint32(nsec)
	m.AppendUint32(0)

	c.writeAttr(m, inode, attr)
}

// Append a fuse_attr in the layout of the negotiated protocol.
func (c *Connection) writeAttr(
	m *buffer.OutMessage,
	inode fuseops.InodeID,
	attr *fuseops.InodeAttributes) {
	mode := ConvertGoMode(attr.Mode)

	var rdev uint32
	if mode&syscall.S_IFMT == syscall.S_IFCHR || mode&syscall.S_IFMT == syscall.S_IFBLK {
		rdev = attr.Rdev
	}

	atime, atimeNsec := convertTime(attr.Atime)
	mtime, mtimeNsec := convertTime(attr.Mtime)
	ctime, ctimeNsec := convertTime(attr.Ctime)

	m.AppendUint64(uint64(inode))
	m.AppendUint64(attr.Size)

	// Round up to the nearest 512 boundary.
	m.AppendUint64((attr.Size + 512 - 1) / 512)

	m.AppendUint64(atime)
	m.AppendUint64(mtime)
	m.AppendUint64(ctime)
	m.AppendUint32(atimeNsec)
	m.AppendUint32(mtimeNsec)
	m.AppendUint32(ctimeNsec)
	m.AppendUint32(mode)
	m.AppendUint32(attr.Nlink)
	m.AppendUint32(attr.Uid)
	m.AppendUint32(attr.Gid)
	m.AppendUint32(rdev)

	if c.protocol.HasAttrBlockSize() {
		m.AppendUint32(attr.BlockSize)
		m.AppendUint32(0)
	}
}

////////////////////////////////////////////////////////////////////////
// General conversions
////////////////////////////////////////////////////////////////////////

// Times before the epoch are not representable and are sent as the epoch.
func convertTime(t time.Time) (secs uint64, nsec uint32) {
	if t.Unix() < 0 {
		return 0, 0
	}

	return uint64(t.Unix()), uint32(t.Nanosecond())
}

// Convert an absolute cache expiration time to a relative time from now for
// consumption by the fuse kernel module.
func (c *Connection) convertExpirationTime(t time.Time) (secs uint64, nsecs uint32) {
	// Fuse represents durations as unsigned 64-bit counts of seconds and 32-bit
	// counts of nanoseconds (https://tinyurl.com/4muvkr6k). So negative
	// durations are right out. There is no need to cap the positive magnitude,
	// because 2^64 seconds is well longer than the 2^63 ns range of
	// time.Duration.
	d := t.Sub(c.clock.Now())
	if d > 0 {
		secs = uint64(d / time.Second)
		nsecs = uint32((d % time.Second) / time.Nanosecond)
	}

	return secs, nsecs
}

func decodeFileLock(d *buffer.Decoder) (l fuseops.FileLock, err error) {
	l.Start = d.Uint64()
	l.End = d.Uint64()
	t := d.Uint32()
	l.Pid = d.Uint32()

	l.Type, err = MapFlockType(t)
	return
}

func encodeFileLock(m *buffer.OutMessage, l fuseops.FileLock) error {
	t, err := UnmapFlockType(l.Type)
	if err != nil {
		return err
	}

	m.AppendUint64(l.Start)
	m.AppendUint64(l.End)
	m.AppendUint32(t)
	m.AppendUint32(l.Pid)
	return nil
}

// MapFlockType converts a struct flock l_type as sent by the kernel.
func MapFlockType(t uint32) (fuseops.LockType, error) {
	switch t {
	case unix.F_RDLCK:
		return fuseops.F_RDLOCK, nil
	case unix.F_WRLCK:
		return fuseops.F_WRLOCK, nil
	case unix.F_UNLCK:
		return fuseops.F_UNLOCK, nil
	}

	return 0, fmt.Errorf("unknown lock type %d", t)
}

// UnmapFlockType is the inverse of MapFlockType.
func UnmapFlockType(t fuseops.LockType) (uint32, error) {
	switch t {
	case fuseops.F_RDLOCK:
		return unix.F_RDLCK, nil
	case fuseops.F_WRLOCK:
		return unix.F_WRLCK, nil
	case fuseops.F_UNLOCK:
		return unix.F_UNLCK, nil
	}

	return 0, fmt.Errorf("unknown lock type %v", t)
}

// ConvertFileMode returns an os.FileMode with the Go mode and permission bits
// set according to the Linux mode and permission bits.
func ConvertFileMode(unixMode uint32) os.FileMode {
	mode := os.FileMode(unixMode & 0777)
	switch unixMode & syscall.S_IFMT {
	case syscall.S_IFREG:
		// nothing
	case syscall.S_IFDIR:
		mode |= os.ModeDir
	case syscall.S_IFCHR:
		mode |= os.ModeCharDevice | os.ModeDevice
	case syscall.S_IFBLK:
		mode |= os.ModeDevice
	case syscall.S_IFIFO:
		mode |= os.ModeNamedPipe
	case syscall.S_IFLNK:
		mode |= os.ModeSymlink
	case syscall.S_IFSOCK:
		mode |= os.ModeSocket
	}

	if unixMode&syscall.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}

	if unixMode&syscall.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}

	if unixMode&syscall.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}

	return mode
}

// ConvertGoMode returns an integer with the Linux mode and permission bits
// set according to the Go mode and permission bits.
func ConvertGoMode(inMode os.FileMode) uint32 {
	outMode := uint32(inMode) & 0777
	switch {
	default:
		outMode |= syscall.S_IFREG
	case inMode&os.ModeDir != 0:
		outMode |= syscall.S_IFDIR
	case inMode&os.ModeDevice != 0:
		if inMode&os.ModeCharDevice != 0 {
			outMode |= syscall.S_IFCHR
		} else {
			outMode |= syscall.S_IFBLK
		}
	case inMode&os.ModeNamedPipe != 0:
		outMode |= syscall.S_IFIFO
	case inMode&os.ModeSymlink != 0:
		outMode |= syscall.S_IFLNK
	case inMode&os.ModeSocket != 0:
		outMode |= syscall.S_IFSOCK
	}

	if inMode&os.ModeSetuid != 0 {
		outMode |= syscall.S_ISUID
	}

	if inMode&os.ModeSetgid != 0 {
		outMode |= syscall.S_ISGID
	}

	if inMode&os.ModeSticky != 0 {
		outMode |= syscall.S_ISVTX
	}

	return outMode
}
