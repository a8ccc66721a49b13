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

// Package cmdutil holds flag helpers shared by the sample commands.
package cmdutil

import (
	"fmt"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var defaultLogLevel = LogLevel{
	value:  level.InfoValue(),
	option: level.AllowInfo(),
}

// LogLevel implements flag.Value for choosing how much a command logs. The
// zero value means "info".
type LogLevel struct {
	value  level.Value
	option level.Option
}

// String implements flag.Value.
func (l LogLevel) String() string {
	if l.value == nil {
		return defaultLogLevel.String()
	}
	return l.value.String()
}

// Set implements flag.Value.
func (l *LogLevel) Set(in string) error {
	switch strings.ToLower(in) {
	case "error":
		l.value, l.option = level.ErrorValue(), level.AllowError()
	case "warn":
		l.value, l.option = level.WarnValue(), level.AllowWarn()
	case "info":
		l.value, l.option = level.InfoValue(), level.AllowInfo()
	case "debug":
		l.value, l.option = level.DebugValue(), level.AllowDebug()
	default:
		return fmt.Errorf("unknown log level %q, valid options error, warn, info, debug", in)
	}
	return nil
}

// FilterOption returns l as an option for level.NewFilter.
func (l LogLevel) FilterOption() level.Option {
	if l.option == nil {
		return defaultLogLevel.option
	}
	return l.option
}

// NewLogger filters base at level l and stamps each line with the time and
// caller.
func NewLogger(base log.Logger, l LogLevel) log.Logger {
	base = level.NewFilter(base, l.FilterOption())
	return log.With(base, "ts", log.DefaultTimestamp, "caller", log.DefaultCaller)
}
