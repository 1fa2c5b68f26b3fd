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

//go:build linux

package takeover

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/elfexec/elfexec/pkg/hostarch"
	"github.com/elfexec/elfexec/pkg/log"
)

// region is the private RWX mapping holding the stub and the directive
// table.
type region struct {
	mem []byte
}

// mapRegion maps a fresh anonymous region of at least length bytes at an
// address chosen by the kernel. It must be executable for the stub and
// writable for the copies.
func mapRegion(length uint64) (*region, error) {
	length = hostarch.PageRoundUp(length)
	mem, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, &AllocationError{
			Op:    "mmap",
			Range: hostarch.AddrRange{End: hostarch.Addr(length)},
			Err:   err,
		}
	}
	return &region{mem: mem}, nil
}

// Start returns the address of the region.
func (r *region) Start() hostarch.Addr {
	return hostarch.Addr(uintptr(unsafe.Pointer(&r.mem[0])))
}

// Range returns the addresses covered by the region.
func (r *region) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: r.Start(), End: r.Start() + hostarch.Addr(len(r.mem))}
}

// release unmaps the region from the calling process.
func (r *region) release() {
	if r.mem == nil {
		return
	}
	if err := unix.Munmap(r.mem); err != nil {
		log.Warningf("Unmapping loader region %v: %v", r.Range(), err)
	}
	r.mem = nil
}
