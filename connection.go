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
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jacobsa/reqtrace"
	"github.com/jacobsa/timeutil"
	"github.com/kernelwire/fuse/fuseops"
	"github.com/kernelwire/fuse/internal/buffer"
	"github.com/kernelwire/fuse/internal/fusekernel"
	"go.uber.org/atomic"
)

// A connection to the fuse kernel process.
type Connection struct {
	cfg       Config
	logger    log.Logger
	clock     timeutil.Clock
	metrics   *metrics
	opContext context.Context
	ch        *Channel
	provider  MessageProvider

	// The size of the buffer each message is read into.
	readSize int

	// One of the state* constants.
	state atomic.Uint32

	// Set by Init and constant once the state is stateActive.
	protocol   fusekernel.Protocol
	negotiated Negotiated

	nodes *nodeTable

	// The error that ended the session, returned by every later ReadOp. Only
	// touched by the goroutine calling ReadOp.
	fatalErr error

	// For logging purposes only.
	nextOpID atomic.Uint64

	opsInFlight sync.WaitGroup

	// Held for reading while a reply is checked against the state and written,
	// and for writing while DESTROY is recorded and answered. No reply reaches
	// the device after DESTROY's.
	replyMu sync.RWMutex

	mu sync.Mutex

	// A map from fuse "unique" request ID (*not* the op ID for logging used
	// above) to a function that cancel's its associated context.
	//
	// GUARDED_BY(mu)
	cancelFuncs map[uint64]func()

	// Nodes whose last lookup was dropped, waiting to be handed to the server
	// as ForgetInodeOps.
	//
	// GUARDED_BY(mu)
	disposals []fuseops.InodeID
}

// State for an op that has been read and not yet replied to. Carried in the
// op's context.
type opState struct {
	inMsg  *buffer.InMessage
	op     interface{}
	opcode fusekernel.Opcode
	unique uint64
	node   uint64
	opID   uint64
	start  time.Time

	cancel  func()
	report  reqtrace.ReportFunc
	replied atomic.Bool
}

type contextKeyType uint64

var contextKey interface{} = contextKeyType(0)

// NewConnection returns a connection speaking the FUSE or CUSE protocol over
// dev, which it takes ownership of. cfg may be nil, meaning DefaultConfig().
// Call Init before reading ops.
func NewConnection(
	dev io.ReadWriteCloser,
	cfg *Config) (c *Connection, err error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err = cfg.Validate(); err != nil {
		err = fmt.Errorf("invalid config: %w", err)
		return
	}

	m, err := newMetrics(cfg.MetricsRegisterer)
	if err != nil {
		err = fmt.Errorf("registering metrics: %w", err)
		return
	}

	c = &Connection{
		cfg:         *cfg,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		metrics:     m,
		opContext:   cfg.OpContext,
		ch:          NewChannel(dev),
		provider:    cfg.MessageProvider,
		nodes:       newNodeTable(),
		cancelFuncs: make(map[uint64]func()),
	}

	if c.logger == nil {
		c.logger = getLogger()
	}

	if c.clock == nil {
		c.clock = timeutil.RealClock()
	}

	if c.opContext == nil {
		c.opContext = context.Background()
	}

	if c.provider == nil {
		c.provider = &DefaultMessageProvider{}
	}

	c.readSize = fusekernel.InHeaderSize + fusekernel.WriteInSize + int(cfg.MaxWrite)
	if c.readSize < fusekernel.MinReadBuffer {
		c.readSize = fusekernel.MinReadBuffer
	}

	c.metrics.nodes.Set(float64(c.nodes.Len()))
	return
}

// Negotiated returns the outcome of the handshake. It is the zero value until
// Init has succeeded.
func (c *Connection) Negotiated() Negotiated {
	if c.state.Load() < stateActive {
		return Negotiated{}
	}

	return c.negotiated
}

// Close the device. A ReadOp blocked on it returns io.EOF. Ops still in flight
// may be replied to, though their replies go nowhere.
func (c *Connection) Close() error {
	return c.ch.Close()
}

// Wait until every op returned by ReadOp has been replied to.
func (c *Connection) waitForOps() {
	c.opsInFlight.Wait()
}

// Read and parse the next message from the device.
func (c *Connection) readMessage() (*buffer.InMessage, error) {
	inMsg := c.provider.GetInMessage()
	buf := inMsg.Storage(c.readSize)

	n, err := c.ch.Receive(buf)
	if err != nil {
		c.provider.PutInMessage(inMsg)
		return nil, err
	}

	if err := inMsg.Init(buf[:n]); err != nil {
		h := inMsg.Header()
		c.provider.PutInMessage(inMsg)
		c.metrics.protocolErrors.Inc()

		return nil, &ProtocolError{
			Unique: h.Unique,
			Opcode: h.Opcode,
			Err:    err,
		}
	}

	return inMsg, nil
}

// Read the next op from the kernel process, returning the op and a context
// that should be used for work related to the op. Return io.EOF if the kernel
// has closed the connection or sent DESTROY.
//
// If err == nil, the user is responsible for later calling c.Reply with the
// returned context.
//
// This function delivers ops in exactly the order they are received from the
// device, except that ForgetInodeOps are delivered as soon as a node is
// disposed of. Requests the connection answers itself (FORGET, INTERRUPT,
// DESTROY, unknown opcodes) are never returned. It must not be called
// multiple times concurrently.
func (c *Connection) ReadOp() (ctx context.Context, op interface{}, err error) {
	switch c.state.Load() {
	case stateUninitialized, stateNegotiated:
		err = ErrNotInitialized
		return

	case stateDestroyed:
		err = io.EOF
		return
	}

	if c.fatalErr != nil {
		err = c.fatalErr
		return
	}

	// Keep going until we find a request we know how to convert.
	for {
		if inode, ok := c.popDisposal(); ok {
			op = &fuseops.ForgetInodeOp{Inode: inode}
			ctx = c.beginOp(nil, op, fusekernel.OpForget)
			return
		}

		var inMsg *buffer.InMessage
		inMsg, err = c.readMessage()
		if err != nil {
			if err == io.EOF {
				level.Debug(c.logger).Log("msg", "device closed")
			} else {
				level.Error(c.logger).Log("msg", "reading from device", "err", err)
				c.fatalErr = err
			}

			return
		}

		var done bool
		ctx, op, done, err = c.handleMessage(inMsg)
		if err != nil && err != io.EOF {
			c.fatalErr = err
		}

		if done || err != nil {
			return
		}
	}
}

// Handle one message. If the message carries an op for the server, return it
// with done set. Otherwise the message has been fully dealt with.
func (c *Connection) handleMessage(
	inMsg *buffer.InMessage) (ctx context.Context, op interface{}, done bool, err error) {
	h := inMsg.Header()
	opcode := fusekernel.Opcode(h.Opcode)

	o, convErr := convertInMessage(inMsg, c.protocol, c.clock)
	if convErr != nil {
		c.provider.PutInMessage(inMsg)
		c.metrics.ops.WithLabelValues(opcode.String(), outcomeMalformed).Inc()

		level.Warn(c.logger).Log(
			"msg", "malformed request",
			"unique", h.Unique,
			"op", opcode,
			"err", convErr)

		// The frame boundary is intact, so only this request is lost.
		if opcode.ExpectsReply() {
			err = c.replyErrno(h.Unique, EIO)
		}

		return
	}

	switch typed := o.(type) {
	case *forgetOp:
		c.provider.PutInMessage(inMsg)
		c.metrics.ops.WithLabelValues(opcode.String(), outcomeOK).Inc()
		err = c.applyForgets(h, typed)

	case *interruptOp:
		c.provider.PutInMessage(inMsg)
		c.metrics.ops.WithLabelValues(opcode.String(), outcomeOK).Inc()
		c.interrupt(typed.Unique)

	case *destroyOp:
		c.provider.PutInMessage(inMsg)
		c.metrics.ops.WithLabelValues(opcode.String(), outcomeOK).Inc()
		level.Info(c.logger).Log("msg", "kernel sent DESTROY", "unique", h.Unique)

		c.replyMu.Lock()
		c.state.Store(stateDestroyed)
		rerr := c.replyErrno(h.Unique, 0)
		c.replyMu.Unlock()

		if rerr != nil {
			level.Warn(c.logger).Log("msg", "replying to DESTROY", "err", rerr)
		}

		err = io.EOF

	case *initOp, *cuseInitOp:
		c.provider.PutInMessage(inMsg)
		c.metrics.ops.WithLabelValues(opcode.String(), outcomeError).Inc()

		level.Warn(c.logger).Log("msg", "handshake repeated", "unique", h.Unique)
		err = c.replyErrno(h.Unique, EIO)

	case *unknownOp:
		c.provider.PutInMessage(inMsg)
		c.metrics.ops.WithLabelValues(opcode.String(), outcomeUnsupported).Inc()

		level.Debug(c.logger).Log(
			"msg", "unsupported opcode",
			"unique", h.Unique,
			"op", typed.Opcode,
			"node", typed.Inode)

		if opcode.ExpectsReply() {
			err = c.replyErrno(h.Unique, ENOSYS)
		}

	default:
		ctx = c.beginOp(inMsg, o, opcode)
		op = o
		done = true
	}

	return
}

// Apply FORGET or BATCH_FORGET to the node table, queueing a ForgetInodeOp for
// each node whose count reaches zero.
func (c *Connection) applyForgets(h fusekernel.InHeader, op *forgetOp) error {
	defer func() {
		c.metrics.nodes.Set(float64(c.nodes.Len()))
	}()

	for _, e := range op.Entries {
		disposed, err := c.nodes.Decrement(e.Inode, e.Nlookup)
		if err != nil {
			c.metrics.protocolErrors.Inc()
			level.Error(c.logger).Log("msg", "bad forget", "err", err)

			return &ProtocolError{
				Unique: h.Unique,
				Opcode: h.Opcode,
				Err:    err,
			}
		}

		if disposed {
			c.queueDisposal(e.Inode)
		}
	}

	return nil
}

func (c *Connection) queueDisposal(id fuseops.InodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disposals = append(c.disposals, id)
}

func (c *Connection) popDisposal() (id fuseops.InodeID, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.disposals) == 0 {
		return
	}

	id = c.disposals[0]
	c.disposals = c.disposals[1:]
	ok = true
	return
}

// Cancel the context of the request with the given unique ID, if it is still
// in flight. Interrupting a request more than once, or one that has already
// been replied to, has no further effect.
func (c *Connection) interrupt(unique uint64) {
	c.metrics.interrupts.Inc()

	c.mu.Lock()
	cancel, ok := c.cancelFuncs[unique]
	c.mu.Unlock()

	if !ok {
		level.Debug(c.logger).Log("msg", "interrupt for unknown request", "unique", unique)
		return
	}

	level.Debug(c.logger).Log("msg", "interrupting", "unique", unique)
	cancel()
}

func describeOpType(t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t.Name()
}

// Set up the bookkeeping for an op about to be handed to the server.
func (c *Connection) beginOp(
	inMsg *buffer.InMessage,
	op interface{},
	opcode fusekernel.Opcode) context.Context {
	s := &opState{
		inMsg:  inMsg,
		op:     op,
		opcode: opcode,
		opID:   c.nextOpID.Inc(),
		start:  time.Now(),
	}

	if inMsg != nil {
		h := inMsg.Header()
		s.unique = h.Unique
		s.node = h.Nodeid
	}

	ctx, cancel := context.WithCancel(c.opContext)
	s.cancel = cancel

	// Set up a trace span for this op.
	ctx, s.report = reqtrace.StartSpan(ctx, describeOpType(reflect.TypeOf(op)))
	ctx = context.WithValue(ctx, contextKey, s)

	if s.unique != 0 {
		c.mu.Lock()
		c.cancelFuncs[s.unique] = cancel
		c.mu.Unlock()
	}

	c.opsInFlight.Add(1)
	c.metrics.inFlight.Inc()

	level.Debug(c.logger).Log(
		"msg", "received",
		"id", s.opID,
		"unique", s.unique,
		"op", describeOpType(reflect.TypeOf(op)),
		"node", s.node)

	return ctx
}

// Undo beginOp.
func (c *Connection) finishOp(s *opState, opErr error) {
	if s.unique != 0 {
		c.mu.Lock()
		delete(c.cancelFuncs, s.unique)
		c.mu.Unlock()
	}

	s.cancel()

	if s.inMsg != nil {
		c.provider.PutInMessage(s.inMsg)
		s.inMsg = nil
	}

	outcome := outcomeOK
	if opErr != nil {
		outcome = outcomeError
	}

	label := s.opcode.String()
	c.metrics.ops.WithLabelValues(label, outcome).Inc()
	c.metrics.opDuration.WithLabelValues(label).Observe(time.Since(s.start).Seconds())
	c.metrics.inFlight.Dec()

	c.opsInFlight.Done()
}

// Reply to an op previously read using ReadOp, with the supplied error (or
// nil if successful). The context must be the context returned by ReadOp.
//
// Each op must be replied to exactly once. A second call writes nothing and
// returns ErrAlreadyReplied. Replies to ops read before DESTROY are dropped.
func (c *Connection) Reply(ctx context.Context, opErr error) error {
	// Extract the state we stuffed in earlier.
	s, ok := ctx.Value(contextKey).(*opState)
	if !ok {
		panic(fmt.Sprintf("Reply called with invalid context: %#v", ctx))
	}

	if !s.replied.CAS(false, true) {
		return ErrAlreadyReplied
	}

	defer c.finishOp(s, opErr)

	// Report that the op is done, then log.
	s.report(opErr)

	level.Debug(c.logger).Log(
		"msg", "replying",
		"id", s.opID,
		"unique", s.unique,
		"op", describeOpType(reflect.TypeOf(s.op)),
		"err", opErr,
		"duration", time.Since(s.start))

	// Disposals are ours to tell the server about; the kernel waits for
	// nothing.
	if _, ok := s.op.(*fuseops.ForgetInodeOp); ok {
		if opErr != nil {
			level.Warn(c.logger).Log("msg", "disposing of node", "err", opErr)
		}

		return nil
	}

	c.replyMu.RLock()
	defer c.replyMu.RUnlock()

	if c.state.Load() == stateDestroyed {
		c.metrics.dropped.Inc()
		level.Debug(c.logger).Log("msg", "dropping reply after DESTROY", "unique", s.unique)
		return nil
	}

	m := c.provider.GetOutMessage()
	defer c.provider.PutOutMessage(m)

	lookups := c.kernelResponse(m, s.unique, s.op, opErr)

	// The count must be raised before the kernel can see the entry, or a
	// racing FORGET could underflow it.
	c.nodes.Increment(lookups...)

	delivered, err := c.ch.Send(m.Bytes())
	if err != nil {
		level.Error(c.logger).Log("msg", "writing reply", "unique", s.unique, "err", err)
		return err
	}

	if !delivered {
		c.metrics.abandoned.Inc()
		level.Debug(c.logger).Log("msg", "request abandoned by kernel", "unique", s.unique)
		c.rollback(lookups)
	}

	c.metrics.nodes.Set(float64(c.nodes.Len()))
	return nil
}

// Take back the lookups of a reply the kernel never received.
func (c *Connection) rollback(lookups []fuseops.InodeID) {
	for _, id := range lookups {
		disposed, err := c.nodes.Decrement(id, 1)
		if err != nil {
			panic(fmt.Sprintf("rolling back lookup of %d: %v", id, err))
		}

		if disposed {
			c.queueDisposal(id)
		}
	}
}

// Fill in m with the reply to op. Return the nodes looked up by the reply.
func (c *Connection) kernelResponse(
	m *buffer.OutMessage,
	unique uint64,
	op interface{},
	opErr error) (lookups []fuseops.InodeID) {
	m.SetUnique(unique)

	if opErr == nil {
		var errno syscall.Errno
		lookups, errno = c.kernelResponseForOp(m, op)
		if errno == 0 {
			return
		}

		opErr = errno
		lookups = nil
	}

	m.ShrinkTo(buffer.OutMessageHeaderSize)
	m.SetError(uint32(c.errnoFor(opErr)))
	return
}

// Map a server's error to the errno the kernel is given.
func (c *Connection) errnoFor(err error) syscall.Errno {
	var errno syscall.Errno
	switch {
	case errors.As(err, &errno):
		return errno

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return EINTR
	}

	level.Error(c.logger).Log("msg", "op failed with a non-errno error; replying EIO", "err", err)
	return EIO
}

// Send a reply with no body. errno may be zero.
func (c *Connection) replyErrno(unique uint64, errno syscall.Errno) error {
	m := c.provider.GetOutMessage()
	defer c.provider.PutOutMessage(m)

	m.SetUnique(unique)
	if errno != 0 {
		m.SetError(uint32(errno))
	}

	return c.send(m)
}

func (c *Connection) send(m *buffer.OutMessage) error {
	delivered, err := c.ch.Send(m.Bytes())
	if err != nil {
		return err
	}

	if !delivered {
		c.metrics.abandoned.Inc()
	}

	return nil
}
