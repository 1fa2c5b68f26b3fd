// Copyright 2026 The elfexec Authors.
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

package elfimage

import "fmt"

// ParseError is returned for images that are malformed or use features the
// loader does not support.
type ParseError struct {
	// Name is the image name given to Parse.
	Name string

	// Reason describes what is wrong with the image.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func parseErrorf(name string, err error, format string, v ...any) *ParseError {
	return &ParseError{Name: name, Reason: fmt.Sprintf(format, v...), Err: err}
}

// Error implements error.Error.
func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing ELF %q: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("parsing ELF %q: %s", e.Name, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// IOError is returned when the image file cannot be opened or read.
type IOError struct {
	Op   string
	Path string
	Err  error
}

// Error implements error.Error.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *IOError) Unwrap() error {
	return e.Err
}
