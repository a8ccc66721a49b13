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

// A tool for serving the hello file system on a /dev/fuse descriptor that a
// mount helper has already opened and mounted, e.g. one passed down by
// fusermount.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jacobsa/timeutil"
	"github.com/kernelwire/fuse"
	"github.com/kernelwire/fuse/internal/cmdutil"
	"github.com/kernelwire/fuse/samples/hellofs"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		ll         cmdutil.LogLevel
		fd         int
		configPath string
		infoAddr   string
	)

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Var(&ll, "log.level", "Level to display logs at")
	fs.IntVar(&fd, "fd", -1, "An open, mounted /dev/fuse descriptor to serve")
	fs.StringVar(&configPath, "config", "", "Optional YAML file of connection settings")
	fs.StringVar(&infoAddr, "info.addr", "127.0.0.1:9095", "Address to serve metrics on; empty to disable")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %s\n", err.Error())
		os.Exit(1)
	}

	l := cmdutil.NewLogger(log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)), ll)
	l = log.With(l, "program", "mount_hello")

	if fd < 0 {
		level.Error(l).Log("msg", "you must set -fd")
		os.Exit(1)
	}

	if err := serve(l, os.NewFile(uintptr(fd), "/dev/fuse"), configPath, infoAddr); err != nil {
		level.Error(l).Log("msg", "error during run", "err", err)
		os.Exit(1)
	}
}

func serve(l log.Logger, dev *os.File, configPath string, infoAddr string) error {
	cfg := fuse.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = fuse.LoadConfig(configPath); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	cfg.Logger = l
	cfg.MetricsRegisterer = reg

	server, err := hellofs.NewHelloFS(timeutil.RealClock())
	if err != nil {
		return fmt.Errorf("NewHelloFS: %w", err)
	}

	// Blocks until the kernel's INIT has been answered.
	session, err := fuse.Serve(dev, server, cfg)
	if err != nil {
		return err
	}

	var group run.Group
	cmdutil.AddSession(&group, l, session)
	cmdutil.AddSignalHandler(&group, l)

	if infoAddr != "" {
		if err := cmdutil.AddInfoServer(&group, l, infoAddr, reg); err != nil {
			session.Close()
			return fmt.Errorf("listening on %s: %w", infoAddr, err)
		}
	}

	return group.Run()
}
