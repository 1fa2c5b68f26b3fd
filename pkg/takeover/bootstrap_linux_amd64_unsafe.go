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

// //go:linkname directives type-checked by checklinkname. Any other
// non-linkname assumptions outside the Go 1 compatibility guarantee should
// have an accompanied vet check or version guard build tag.

package takeover

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/elfexec/elfexec/pkg/abi/linux"
	"github.com/elfexec/elfexec/pkg/hostarch"
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// bootstrap is everything the child needs after the fork. It is built by the
// parent; the child only reads it.
type bootstrap struct {
	region *region
	plan   Plan

	// block is the launch block, written into the child's stack at
	// blockAddr during the hand-off.
	block     []byte
	blockAddr hostarch.Addr

	// Arguments of jumpToLoader.
	stub  uintptr
	table uintptr
	entry uintptr
	argv  uintptr
	argc  uintptr

	// argv0 is the memory backing os.Args[0], overwritten with name when
	// non-nil.
	argv0 []byte
	name  []byte

	// comm is the NUL terminated thread name, or all zeroes to leave the
	// name alone.
	comm [linux.TASK_COMM_LEN]byte

	// closeFDs are the close-on-exec descriptors.
	closeFDs []int32

	// rseq is the registration of the forking thread.
	rseq rseqArea
}

// argStart returns the address of the argument strings on the initial
// stack, or 0 if os.Args is empty.
func argStart() hostarch.Addr {
	if len(os.Args) == 0 || len(os.Args[0]) == 0 {
		return 0
	}
	return hostarch.Addr(uintptr(unsafe.Pointer(unsafe.StringData(os.Args[0]))))
}

// argv0Bytes returns the bytes backing os.Args[0]. The runtime builds
// os.Args without copying, so these are the argument area of the initial
// stack that the kernel reports as the process command line.
func argv0Bytes() []byte {
	if len(os.Args) == 0 || len(os.Args[0]) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(os.Args[0]), len(os.Args[0]))
}

// spawn forks the calling process. The child enters the loader and never
// returns from spawn.
//
// Precondition: the runtime OS thread must be locked.
func (b *bootstrap) spawn() (*child, error) {
	// Declare all variables up front in order to ensure that there's no
	// need for allocations between beforeFork & afterFork.
	var (
		pid   uintptr
		errno unix.Errno
	)

	// Among other things, beforeFork masks all signals.
	beforeFork()

	// SIGCHLD is delivered when the child exits, like fork(2).
	pid, _, errno = unix.RawSyscall6(unix.SYS_CLONE, uintptr(unix.SIGCHLD), 0, 0, 0, 0, 0)
	if errno != 0 {
		afterFork()
		return nil, &SpawnError{Err: errno}
	}

	// Is this the parent?
	if pid != 0 {
		// Among other things, restore signal mask.
		afterFork()
		return newChild(int(pid)), nil
	}

	// afterForkInChild resets all signals to their default dispositions
	// and restores the signal mask to its pre-fork state.
	afterForkInChild()
	b.enterChild()
	panic("unreachable")
}

// enterChild runs in the child. Like all code between the fork and the jump
// it must not allocate or grow the stack.
//
//go:nosplit
func (b *bootstrap) enterChild() {
	if b.argv0 != nil {
		for i := range b.argv0 {
			var c byte
			if i < len(b.name) {
				c = b.name[i]
			}
			b.argv0[i] = c
		}
	}
	if b.comm[0] != 0 {
		// Failing to rename is harmless.
		unix.RawSyscall6(unix.SYS_PRCTL, linux.PR_SET_NAME, uintptr(unsafe.Pointer(&b.comm[0])), 0, 0, 0, 0)
	}

	for _, fd := range b.closeFDs {
		unix.RawSyscall(unix.SYS_CLOSE, uintptr(fd), 0, 0)
	}

	// The alternate signal stack lives in memory the loader releases.
	if errno := disableAltStack(); errno != 0 {
		unix.RawSyscall(unix.SYS_EXIT_GROUP, uintptr(errno), 0, 0)
	}

	// The rseq area lives in thread local storage the loader releases.
	if b.rseq.addr != 0 {
		if errno := unregisterRseq(&b.rseq); errno != 0 {
			unix.RawSyscall(unix.SYS_EXIT_GROUP, uintptr(errno), 0, 0)
		}
	}

	// Explicitly unmask all signals; the image starts like a fresh
	// execve.
	if errno := unmaskAllSignals(); errno != 0 {
		unix.RawSyscall(unix.SYS_EXIT_GROUP, uintptr(errno), 0, 0)
	}

	jumpToLoader(b.stub, b.table, b.entry, b.argv, b.argc)
	abort()
}

// unmaskAllSignals unmasks all signals on the current thread.
//
//go:nosplit
func unmaskAllSignals() unix.Errno {
	var set linux.SignalSet
	_, _, errno := unix.RawSyscall6(unix.SYS_RT_SIGPROCMASK, linux.SIG_SETMASK, uintptr(unsafe.Pointer(&set)), 0, linux.SignalSetSize, 0, 0)
	return errno
}

// disableAltStack removes the alternate signal stack of the current thread.
//
//go:nosplit
func disableAltStack() unix.Errno {
	ss := linux.SignalStack{Flags: linux.SS_DISABLE}
	_, _, errno := unix.RawSyscall(unix.SYS_SIGALTSTACK, uintptr(unsafe.Pointer(&ss)), 0, 0)
	return errno
}

// abort kills the child when control comes back from the loader, which is a
// fault that cannot be recovered from.
//
//go:nosplit
func abort() {
	pid, _, _ := unix.RawSyscall(unix.SYS_GETPID, 0, 0, 0)
	unix.RawSyscall(unix.SYS_KILL, pid, linux.SIGABRT, 0)
	unix.RawSyscall(unix.SYS_EXIT_GROUP, loaderFailed, 0, 0)
}
