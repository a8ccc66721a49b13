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
	"io"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/kernelwire/fuse/internal/buffer"
	"github.com/kernelwire/fuse/internal/fusekernel"
)

// The states of a connection. Transitions only go forward.
const (
	stateUninitialized uint32 = iota
	stateNegotiated
	stateActive
	stateDestroyed
)

// Negotiated describes what the kernel and the connection agreed on during
// the handshake.
type Negotiated struct {
	// The protocol version both sides speak.
	Major uint32
	Minor uint32

	// The capability flags offered by both sides, as in fusekernel.InitFlags
	// (or fusekernel.CuseFlags for a character device).
	Flags uint32

	// The largest WRITE payload the kernel will send.
	MaxWrite uint32

	MaxReadahead        uint32
	MaxBackground       uint16
	CongestionThreshold uint16

	// The page limit per request. Zero unless FUSE_MAX_PAGES was agreed.
	MaxPages uint16

	TimeGran uint32

	// Whether the session serves a character device rather than a file
	// system.
	CUSE bool
}

func (n Negotiated) protocol() fusekernel.Protocol {
	return fusekernel.Protocol{Major: n.Major, Minor: n.Minor}
}

// The kernel spoke a newer major version. We answer with ours and it retries.
var errNewerMajor = errors.New("kernel speaks a newer major version")

func checkKernelVersion(kernel fusekernel.Protocol) error {
	switch {
	case kernel.Major > fusekernel.ProtoVersionMaxMajor:
		return errNewerMajor

	case kernel.LT(fusekernel.OldestProtocol()):
		return fmt.Errorf(
			"kernel protocol %v is older than %v",
			kernel,
			fusekernel.OldestProtocol())
	}

	return nil
}

func minMinor(kernel fusekernel.Protocol) uint32 {
	if kernel.Minor < fusekernel.ProtoVersionMaxMinor {
		return kernel.Minor
	}

	return fusekernel.ProtoVersionMaxMinor
}

// Compute the outcome of an INIT offer. Pure, so that it can be tested
// without a kernel.
func negotiate(cfg *Config, in *initOp) (n Negotiated, err error) {
	if err = checkKernelVersion(in.Kernel); err != nil {
		return
	}

	n.Major = fusekernel.ProtoVersionMaxMajor
	n.Minor = minMinor(in.Kernel)

	// Kernels before 7.6 send no flags and no readahead, and take none back.
	var flags fusekernel.InitFlags
	if in.Kernel.HasInitFlags() {
		flags = in.Flags & cfg.initFlags()
		n.MaxReadahead = in.MaxReadahead
		if uint32(cfg.MaxReadahead) < n.MaxReadahead {
			n.MaxReadahead = uint32(cfg.MaxReadahead)
		}
	}
	n.Flags = uint32(flags)

	// Without FUSE_MAX_PAGES, the kernel will not send more than its default
	// number of pages in one request.
	ceiling := uint32(fusekernel.DefaultMaxPages * fusekernel.PageSize)
	if flags&fusekernel.InitMaxPages != 0 {
		ceiling = fusekernel.MaxMaxPages * fusekernel.PageSize
	}

	n.MaxWrite = uint32(cfg.MaxWrite)
	if n.MaxWrite > ceiling {
		n.MaxWrite = ceiling
	}

	if flags&fusekernel.InitMaxPages != 0 {
		n.MaxPages = uint16((n.MaxWrite + fusekernel.PageSize - 1) / fusekernel.PageSize)
	}

	n.MaxBackground = cfg.MaxBackground
	n.CongestionThreshold = cfg.CongestionThreshold
	n.TimeGran = cfg.TimeGran
	if n.TimeGran == 0 {
		n.TimeGran = 1
	}

	return
}

// Like negotiate, for CUSE_INIT.
func negotiateCUSE(cfg *Config, in *cuseInitOp) (n Negotiated, err error) {
	if err = checkKernelVersion(in.Kernel); err != nil {
		return
	}

	if err = validateDeviceName(cfg.DeviceName); err != nil {
		return
	}

	n.Major = fusekernel.ProtoVersionMaxMajor
	n.Minor = minMinor(in.Kernel)
	n.MaxWrite = uint32(cfg.MaxWrite)
	n.CUSE = true

	if cfg.UnrestrictedIoctl && in.Flags&fusekernel.CuseUnrestrictedIoctl != 0 {
		n.Flags = uint32(fusekernel.CuseUnrestrictedIoctl)
	}

	return
}

// Append an INIT reply in the layout the agreed version defines.
func writeInitOut(m *buffer.OutMessage, n *Negotiated) {
	start := m.Len()

	m.AppendUint32(n.Major)
	m.AppendUint32(n.Minor)
	m.AppendUint32(n.MaxReadahead)
	m.AppendUint32(n.Flags)
	m.AppendUint16(n.MaxBackground)
	m.AppendUint16(n.CongestionThreshold)
	m.AppendUint32(n.MaxWrite)
	m.AppendUint32(n.TimeGran)
	m.AppendUint16(n.MaxPages)
	m.AppendUint16(0) // map_alignment
	m.Grow(fusekernel.InitOutSize - (m.Len() - start))

	m.ShrinkTo(start + fusekernel.InitOutSizeFor(n.protocol()))
}

// Append a CUSE_INIT reply followed by the device info.
func writeCuseInitOut(m *buffer.OutMessage, n *Negotiated, cfg *Config) {
	start := m.Len()

	m.AppendUint32(n.Major)
	m.AppendUint32(n.Minor)
	m.AppendUint32(0)
	m.AppendUint32(n.Flags)
	m.AppendUint32(n.MaxWrite) // max_read
	m.AppendUint32(n.MaxWrite)
	m.AppendUint32(cfg.DeviceMajor)
	m.AppendUint32(cfg.DeviceMinor)
	m.Grow(fusekernel.CuseInitOutSize - (m.Len() - start))

	m.AppendString(cuseDeviceInfo(cfg.DeviceName))
}

// Perform the handshake: wait for INIT or CUSE_INIT, answering anything else
// with ENOSYS, and reply with the negotiated parameters. On return without
// error the connection is active.
func (c *Connection) Init() error {
	if c.state.Load() != stateUninitialized {
		return errors.New("fuse: handshake already done")
	}

	for {
		inMsg, err := c.readMessage()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("fuse: device closed during handshake: %w", err)
			}

			return err
		}

		done, err := c.handleHandshakeMessage(inMsg)
		c.provider.PutInMessage(inMsg)

		if err != nil || done {
			return err
		}
	}
}

func (c *Connection) handleHandshakeMessage(
	inMsg *buffer.InMessage) (done bool, err error) {
	h := inMsg.Header()
	opcode := fusekernel.Opcode(h.Opcode)

	if opcode != fusekernel.OpInit && opcode != fusekernel.OpCuseInit {
		level.Debug(c.logger).Log(
			"msg", "request before INIT",
			"unique", h.Unique,
			"op", opcode)

		if opcode.ExpectsReply() {
			err = c.replyErrno(h.Unique, ENOSYS)
		}

		return
	}

	op, err := convertInMessage(inMsg, fusekernel.OldestProtocol(), c.clock)
	if err != nil {
		c.metrics.protocolErrors.Inc()
		err = &ProtocolError{Unique: h.Unique, Opcode: h.Opcode, Err: err}
		return
	}

	var n Negotiated
	var kernel fusekernel.Protocol
	switch o := op.(type) {
	case *initOp:
		kernel = o.Kernel
		n, err = negotiate(&c.cfg, o)

	case *cuseInitOp:
		kernel = o.Kernel
		n, err = negotiateCUSE(&c.cfg, o)
	}

	switch {
	case err == errNewerMajor:
		level.Info(c.logger).Log(
			"msg", "kernel offered a newer major version; answering with ours",
			"kernel", kernel)

		err = c.replyNewerMajor(h.Unique)
		return

	case err != nil:
		level.Error(c.logger).Log(
			"msg", "handshake failed",
			"kernel", kernel,
			"err", err)

		c.metrics.protocolErrors.Inc()
		if rerr := c.replyErrno(h.Unique, EPROTO); rerr != nil {
			level.Warn(c.logger).Log("msg", "replying to INIT", "err", rerr)
		}

		err = &ProtocolError{Unique: h.Unique, Opcode: h.Opcode, Err: err}
		return
	}

	c.negotiated = n
	c.protocol = n.protocol()
	c.state.Store(stateNegotiated)

	m := c.provider.GetOutMessage()
	defer c.provider.PutOutMessage(m)

	m.SetUnique(h.Unique)
	if n.CUSE {
		writeCuseInitOut(m, &n, &c.cfg)
	} else {
		writeInitOut(m, &n)
	}

	if err = c.send(m); err != nil {
		return
	}

	c.state.Store(stateActive)
	done = true

	var flags fmt.Stringer = fusekernel.InitFlags(n.Flags)
	if n.CUSE {
		flags = fusekernel.CuseFlags(n.Flags)
	}

	level.Info(c.logger).Log(
		"msg", "handshake complete",
		"kernel", kernel,
		"protocol", c.protocol,
		"cuse", n.CUSE,
		"flags", flags,
		"max_write", humanize.IBytes(uint64(n.MaxWrite)),
		"max_readahead", humanize.IBytes(uint64(n.MaxReadahead)))

	return
}

// Answer an INIT from a kernel with a newer major version: the full reply
// carrying our version and nothing else.
func (c *Connection) replyNewerMajor(unique uint64) error {
	m := c.provider.GetOutMessage()
	defer c.provider.PutOutMessage(m)

	n := Negotiated{
		Major: fusekernel.ProtoVersionMaxMajor,
		Minor: fusekernel.ProtoVersionMaxMinor,
	}

	m.SetUnique(unique)
	writeInitOut(m, &n)
	return c.send(m)
}
