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

package fusetesting

import (
	"fmt"
	"reflect"
	"syscall"

	"github.com/jacobsa/oglematchers"
)

// Match Reply values that report success.
func Succeeded() oglematchers.Matcher {
	return ErrnoIs(0)
}

// Match Reply values that carry the given error number, and no body.
func ErrnoIs(expected syscall.Errno) oglematchers.Matcher {
	desc := fmt.Sprintf("errno is %d (%v)", int(expected), expected)
	if expected == 0 {
		desc = "succeeded"
	}

	return oglematchers.NewMatcher(
		func(c interface{}) error { return errnoIs(c, expected) },
		desc)
}

func errnoIs(c interface{}, expected syscall.Errno) error {
	r, ok := c.(Reply)
	if !ok {
		return fmt.Errorf("which is of type %v", reflect.TypeOf(c))
	}

	if r.Errno != expected {
		return fmt.Errorf("which has errno %d (%v)", int(r.Errno), r.Errno)
	}

	// The kernel ignores the body of an error reply; the daemon should not
	// send one.
	if expected != 0 && len(r.Body) != 0 {
		return fmt.Errorf("which has a %d byte body", len(r.Body))
	}

	return nil
}

// Match Reply values with a body of exactly n bytes.
func BodyLenIs(n int) oglematchers.Matcher {
	return oglematchers.NewMatcher(
		func(c interface{}) error {
			r, ok := c.(Reply)
			if !ok {
				return fmt.Errorf("which is of type %v", reflect.TypeOf(c))
			}

			if len(r.Body) != n {
				return fmt.Errorf("which has a %d byte body", len(r.Body))
			}

			return nil
		},
		fmt.Sprintf("body is %d bytes", n))
}
