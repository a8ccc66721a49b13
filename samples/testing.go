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

package samples

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/jacobsa/timeutil"
	"github.com/kernelwire/fuse"
	"github.com/kernelwire/fuse/fusetesting"
	"github.com/kernelwire/fuse/internal/fusekernel"
	"github.com/prometheus/client_golang/prometheus"
)

// A struct that implements common behavior needed by tests in the samples/
// directory. Use it as an anonymous member of your test fixture, calling its
// Initialize method from your SetUp method and its Destroy method from your
// TearDown method.
//
// Instead of mounting, the file system is served over an in-memory device
// driven by a simulated kernel.
type SampleTest struct {
	// A context object that can be used for long-running operations.
	Ctx context.Context

	// A clock with a fixed initial time. The test's set up method may use this
	// to wire the file system with a clock, if desired.
	Clock timeutil.SimulatedClock

	// The configuration to serve with. Initialize fills in a default if this
	// is nil, and always points its clock at Clock.
	Config *fuse.Config

	// The capabilities the simulated kernel offers in INIT.
	KernelFlags fusekernel.InitFlags

	// Set by Initialize.
	Device  *fusetesting.Device
	Kernel  *fusetesting.Kernel
	Session *fuse.Session
	InitOut fusekernel.InitOut
}

// Serve the supplied server and perform the handshake as a current kernel.
func (st *SampleTest) Initialize(server fuse.Server) error {
	st.setUp()

	return st.serve(server, func() error {
		out, err := st.Kernel.Init(
			fusekernel.LatestProtocol().Minor,
			1<<20,
			st.KernelFlags)

		st.InitOut = out
		return err
	})
}

// Serve the supplied server as a character device, performing the CUSE
// handshake. The kernel's reply is returned.
func (st *SampleTest) InitializeCUSE(server fuse.Server) (r fusetesting.Reply, err error) {
	st.setUp()

	err = st.serve(server, func() (err error) {
		r, err = st.Kernel.Call(
			fusekernel.OpCuseInit,
			0,
			fusekernel.CuseInitIn{
				Major: 7,
				Minor: fusekernel.LatestProtocol().Minor,
			})

		if err == nil && r.Errno != 0 {
			err = fmt.Errorf("CUSE_INIT failed: %v", r.Errno)
		}

		return
	})

	return
}

func (st *SampleTest) setUp() {
	st.Ctx = context.Background()
	st.Clock.SetTime(time.Date(2012, 8, 15, 22, 56, 0, 0, time.Local))

	if st.Config == nil {
		st.Config = fuse.DefaultConfig()
		st.Config.Logger = log.NewNopLogger()
	}

	st.Config.Clock = &st.Clock
	st.Config.MetricsRegisterer = prometheus.NewRegistry()

	st.Device = fusetesting.NewDevice()
	st.Kernel = fusetesting.NewKernel(st.Device)
}

// Serve blocks until the handshake is done, so the kernel's part runs in the
// background.
func (st *SampleTest) serve(server fuse.Server, handshake func() error) (err error) {
	done := make(chan error, 1)
	go func() { done <- handshake() }()

	st.Session, err = fuse.Serve(st.Device, server, st.Config)
	if err != nil {
		err = fmt.Errorf("Serve: %w", err)
		return
	}

	if err = <-done; err != nil {
		st.Session.Close()
		err = fmt.Errorf("handshake: %w", err)
		return
	}

	return
}

// End the session as the kernel does on unmount and wait for the server to
// finish.
func (st *SampleTest) Destroy() error {
	if st.Session == nil {
		return nil
	}

	if _, err := st.Kernel.Destroy(); err != nil {
		st.Session.Close()
		return fmt.Errorf("DESTROY: %w", err)
	}

	ctx, cancel := context.WithTimeout(st.Ctx, fusetesting.DefaultTimeout)
	defer cancel()

	return st.Session.Join(ctx)
}
