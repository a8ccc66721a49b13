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
	"flag"
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var fEnableDebug = flag.Bool(
	"fuse.debug",
	false,
	"Write FUSE debugging messages to stderr.")

var gLogger log.Logger
var gLoggerOnce sync.Once

func initLogger() {
	allow := level.AllowInfo()
	if flag.Parsed() && *fEnableDebug {
		allow = level.AllowDebug()
	}

	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = level.NewFilter(l, allow)
	gLogger = log.With(l, "ts", log.DefaultTimestamp, "caller", log.DefaultCaller, "component", "fuse")
}

// Return the logger used by connections whose Config carries none.
func getLogger() log.Logger {
	gLoggerOnce.Do(initLogger)
	return gLogger
}
