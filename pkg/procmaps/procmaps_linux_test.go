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

package procmaps

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/elfexec/elfexec/pkg/hostarch"
)

func contains(t *testing.T, addr hostarch.Addr) bool {
	t.Helper()
	regions, err := Self()
	if err != nil {
		t.Fatalf("Self failed: %v", err)
	}
	for _, r := range regions {
		if r.Range.Contains(addr) {
			return true
		}
	}
	return false
}

func TestSelfTracksMappings(t *testing.T) {
	// MMap a new page.
	addr, _, errno := unix.RawSyscall6(
		unix.SYS_MMAP, 0, hostarch.PageSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE, 0, 0)
	if errno != 0 {
		t.Fatalf("unexpected map error: %v", errno)
	}
	page := hostarch.Addr(addr)

	if !contains(t, page) {
		unix.RawSyscall(unix.SYS_MUNMAP, addr, hostarch.PageSize, 0)
		t.Fatalf("updated map does not contain %v, expected true", page)
	}

	unix.RawSyscall(unix.SYS_MUNMAP, addr, hostarch.PageSize, 0)
	if contains(t, page) {
		t.Fatalf("final map does contain %v, expected false", page)
	}
}
