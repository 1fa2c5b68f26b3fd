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
	"unsafe"
)

// addrOfLoaderStub returns the start address of loaderStub.
//
// In Go 1.17+, Go references to assembly functions resolve to an ABIInternal
// wrapper function rather than the function itself. We must reference from
// assembly to get the ABI0 (i.e., primary) address.
func addrOfLoaderStub() unsafe.Pointer

// loaderText copies the machine code of loaderStub out of the text segment.
func loaderText() []byte {
	begin := addrOfLoaderStub()
	n := findEndAddress(uintptr(begin)) - uintptr(begin)
	code := make([]byte, n)
	copy(code, unsafe.Slice((*byte)(begin), n))
	return code
}
