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

//go:build linux && amd64

package takeover

import (
	"runtime"
	"sync"
)

// loaderStub is implemented in assembly. It is never called directly; its
// code is copied into the loader region.
func loaderStub()

// jumpToLoader transfers control to the stub copy at stub. It does not
// return.
//
//go:noescape
func jumpToLoader(stub, table, entry, argv, argc uintptr)

var (
	stubOnce sync.Once
	stubCode []byte
)

// findEndAddress returns the end address (one byte beyond) of the function
// beginning at the given address.
func findEndAddress(begin uintptr) uintptr {
	f := runtime.FuncForPC(begin)
	if f != nil {
		for p := begin; ; p++ {
			g := runtime.FuncForPC(p)
			if f != g {
				return p
			}
		}
	}
	return begin
}

// LoaderCode returns a copy of the loader stub machine code.
func LoaderCode() ([]byte, error) {
	stubOnce.Do(func() {
		stubCode = loaderText()
	})
	return append([]byte(nil), stubCode...), nil
}
