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
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
)

// A type that knows how to serve ops read from a connection.
type Server interface {
	// Read and serve ops from the supplied connection until EOF. Do not return
	// until all operations have been responded to. Must not be called more than
	// once.
	ServeOps(*Connection)
}

// A Session is a connection being served in the background, with a method
// that waits for the kernel to end it.
type Session struct {
	conn *Connection

	// The result to return from Join. Not valid until the channel is closed.
	joinStatus          error
	joinStatusAvailable chan struct{}
}

// Connection returns the session's connection, e.g. to inspect what was
// negotiated.
func (s *Session) Connection() *Connection {
	return s.conn
}

// Block until the session has ended. Do not return successfully until all ops
// read from the connection have been responded to (i.e. the server has
// finished processing all in-flight ops).
//
// The return value will be non-nil if anything unexpected happened while
// serving. May be called multiple times.
func (s *Session) Join(ctx context.Context) error {
	select {
	case <-s.joinStatusAvailable:
		return s.joinStatus
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close the device, ending the session from our side. Use Join to wait for
// the server to finish.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Serve performs the handshake on dev, typically a descriptor for /dev/fuse
// handed over by a mount helper or one returned by OpenDevice("/dev/cuse"),
// then serves it in the background with the supplied Server. This function
// blocks until the handshake is done.
//
// The session takes ownership of dev, closing it when the session ends.
func Serve(
	dev io.ReadWriteCloser,
	server Server,
	cfg *Config) (s *Session, err error) {
	conn, err := NewConnection(dev, cfg)
	if err != nil {
		dev.Close()
		err = fmt.Errorf("NewConnection: %w", err)
		return
	}

	if err = conn.Init(); err != nil {
		conn.Close()
		err = fmt.Errorf("Init: %w", err)
		return
	}

	s = &Session{
		conn:                conn,
		joinStatusAvailable: make(chan struct{}),
	}

	// Serve the connection in the background. When done, set the join status.
	go func() {
		server.ServeOps(conn)
		conn.waitForOps()

		var result *multierror.Error
		if conn.fatalErr != nil {
			result = multierror.Append(result, conn.fatalErr)
		}

		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing device: %w", err))
		}

		s.joinStatus = result.ErrorOrNil()
		close(s.joinStatusAvailable)
	}()

	return
}
