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
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/elfexec/elfexec/pkg/abi/linux"
	"github.com/elfexec/elfexec/pkg/hostarch"
	"github.com/elfexec/elfexec/pkg/procmaps"
)

// rseqArea is the restartable sequences registration of a thread. The zero
// value is no registration.
//
// The kernel keeps updating a registered area on every return to user
// space, so a thread that loses the memory under it is killed. execve
// drops the registration; the child has to do it by hand.
type rseqArea struct {
	addr uintptr
	len  uint32
	sig  uint32
}

// registered returns true if a is a registration.
func (a rseqArea) registered() bool {
	return a.addr != 0
}

// String implements fmt.Stringer.String.
func (a rseqArea) String() string {
	if !a.registered() {
		return "none"
	}
	return fmt.Sprintf("%#x len %d sig %#x", a.addr, a.len, a.sig)
}

// libcMapping returns the first mapping of glibc in regions.
func libcMapping(regions []procmaps.Region) (procmaps.Region, bool) {
	for _, r := range regions {
		base := filepath.Base(r.Path)
		if r.Offset == 0 && (base == "libc.so.6" || strings.HasPrefix(base, "libc.so.")) {
			return r, true
		}
	}
	return procmaps.Region{}, false
}

// rseqSymbols returns the addresses of __rseq_offset and __rseq_size in the
// libc mapped at lib. ok is false for a libc that does not register rseq
// areas (glibc before 2.35).
func rseqSymbols(lib procmaps.Region) (offset, size hostarch.Addr, ok bool, err error) {
	f, err := elf.Open(lib.Path)
	if err != nil {
		return 0, 0, false, err
	}
	defer f.Close()

	var first *elf.Prog
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			first = p
			break
		}
	}
	if first == nil {
		return 0, 0, false, fmt.Errorf("%s has no loadable segment", lib.Path)
	}
	bias := uint64(lib.Range.Start) - (first.Vaddr - first.Off)

	syms, err := f.DynamicSymbols()
	if err != nil {
		return 0, 0, false, err
	}
	var haveOffset, haveSize bool
	for _, s := range syms {
		switch s.Name {
		case "__rseq_offset":
			offset, haveOffset = hostarch.Addr(bias+s.Value), true
		case "__rseq_size":
			size, haveSize = hostarch.Addr(bias+s.Value), true
		}
	}
	return offset, size, haveOffset && haveSize, nil
}

// readSelf reads len(buf) bytes at addr of the calling process.
func readSelf(addr hostarch.Addr, buf []byte) error {
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMReadv(os.Getpid(), local, remote, 0)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short read of %d bytes at %#x: %d", len(buf), addr, n)
	}
	return nil
}

// threadPointer returns the FS base of the calling thread, which glibc uses
// as its thread pointer.
func threadPointer() (uintptr, error) {
	var fs uintptr
	if _, _, errno := unix.RawSyscall(unix.SYS_ARCH_PRCTL, linux.ARCH_GET_FS, uintptr(unsafe.Pointer(&fs)), 0); errno != 0 {
		return 0, errno
	}
	return fs, nil
}

// threadRseq returns the rseq area glibc registered for the calling thread.
// Processes without glibc, for example those built without cgo, have none,
// and so do threads whose registration glibc disabled or failed.
//
// Precondition: the runtime OS thread must be locked.
func threadRseq(regions []procmaps.Region) (rseqArea, error) {
	lib, ok := libcMapping(regions)
	if !ok {
		return rseqArea{}, nil
	}
	offsetAddr, sizeAddr, ok, err := rseqSymbols(lib)
	if err != nil {
		return rseqArea{}, fmt.Errorf("reading rseq symbols of %s: %w", lib.Path, err)
	}
	if !ok {
		return rseqArea{}, nil
	}

	var word [8]byte
	if err := readSelf(sizeAddr, word[:4]); err != nil {
		return rseqArea{}, fmt.Errorf("reading __rseq_size: %w", err)
	}
	size := binary.NativeEndian.Uint32(word[:4])
	if size == 0 {
		return rseqArea{}, nil
	}
	if err := readSelf(offsetAddr, word[:]); err != nil {
		return rseqArea{}, fmt.Errorf("reading __rseq_offset: %w", err)
	}
	offset := int64(binary.NativeEndian.Uint64(word[:]))

	tp, err := threadPointer()
	if err != nil {
		return rseqArea{}, fmt.Errorf("arch_prctl(ARCH_GET_FS): %w", err)
	}
	// __rseq_size is the feature size, which may be smaller than the
	// registered length.
	return rseqArea{
		addr: uintptr(int64(tp) + offset),
		len:  max(size, linux.RSEQ_AREA_SIZE_INITIAL),
		sig:  linux.RSEQ_SIG,
	}, nil
}

// unregisterRseq drops the registration a of the calling thread. A length
// that the kernel rejects is retried with the initial area size, which is
// what glibc registers unless the kernel supports extended areas.
//
//go:nosplit
func unregisterRseq(a *rseqArea) unix.Errno {
	_, _, errno := unix.RawSyscall6(unix.SYS_RSEQ, a.addr, uintptr(a.len), linux.RSEQ_FLAG_UNREGISTER, uintptr(a.sig), 0, 0)
	if errno == unix.EINVAL && a.len != linux.RSEQ_AREA_SIZE_INITIAL {
		_, _, errno = unix.RawSyscall6(unix.SYS_RSEQ, a.addr, linux.RSEQ_AREA_SIZE_INITIAL, linux.RSEQ_FLAG_UNREGISTER, uintptr(a.sig), 0, 0)
	}
	return errno
}
