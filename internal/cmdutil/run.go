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

package cmdutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/kernelwire/fuse"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewInfoRouter returns a router serving the metrics in g at /metrics and a
// liveness check at /-/healthy.
func NewInfoRouter(g prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

// AddInfoServer adds an actor to group serving NewInfoRouter on addr.
func AddInfoServer(group *run.Group, l log.Logger, addr string, g prometheus.Gatherer) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := http.Server{Handler: NewInfoRouter(g)}

	group.Add(func() error {
		level.Debug(l).Log("msg", "listening for http traffic", "addr", lis.Addr())
		err := srv.Serve(lis)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}, func(_ error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	})

	return nil
}

// AddSession adds an actor to group that runs until the session ends. If
// another actor stops first, the device is closed.
func AddSession(group *run.Group, l log.Logger, s *fuse.Session) {
	group.Add(func() error {
		level.Info(l).Log("msg", "serving", "minor", s.Connection().Negotiated().Minor)
		return s.Join(context.Background())
	}, func(_ error) {
		if err := s.Close(); err != nil {
			level.Warn(l).Log("msg", "closing device", "err", err)
		}
	})
}

// AddSignalHandler adds an actor to group that stops on SIGINT or SIGTERM.
func AddSignalHandler(group *run.Group, l log.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	group.Add(func() error {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)

		select {
		case <-ch:
			level.Info(l).Log("msg", "received shutdown signal")
		case <-ctx.Done():
		}
		return nil
	}, func(_ error) {
		cancel()
	})
}
