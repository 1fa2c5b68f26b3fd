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

package takeover

import (
	"encoding/binary"
	"fmt"

	"github.com/elfexec/elfexec/pkg/abi/linux"
	"github.com/elfexec/elfexec/pkg/hostarch"
)

const (
	ptrSize = 8

	// stackAlign is the alignment of the initial stack pointer.
	stackAlign = 16
)

// launchBlock is the initial stack handed to the image: argc, the argument
// and environment vectors, the auxiliary vector and the strings and random
// bytes they point to.
type launchBlock struct {
	argv     []string
	envv     []string
	execfn   string
	platform string

	// aux holds the auxv entries that carry plain values. AT_RANDOM,
	// AT_PLATFORM, AT_EXECFN and AT_NULL are added by build.
	aux    []linux.AuxEntry
	random [linux.RandomBytes]byte
}

func (l *launchBlock) vectorWords() int {
	return 1 + len(l.argv) + 1 + len(l.envv) + 1 + 2*(len(l.aux)+4)
}

func (l *launchBlock) stringBytes() int {
	n := len(l.random) + len(l.platform) + 1 + len(l.execfn) + 1
	for _, s := range l.argv {
		n += len(s) + 1
	}
	for _, s := range l.envv {
		n += len(s) + 1
	}
	return n
}

// size returns the size of the block. It is a multiple of 16 so the block
// can end a 16 byte aligned area.
func (l *launchBlock) size() int {
	n := l.vectorWords()*ptrSize + l.stringBytes()
	return (n + stackAlign - 1) &^ (stackAlign - 1)
}

// build lays the block out for loading at base, which must be 16 byte
// aligned. argc is the first word, so base is the initial stack pointer.
// build returns the block and the address of the argv vector.
func (l *launchBlock) build(base hostarch.Addr) ([]byte, hostarch.Addr) {
	buf := make([]byte, l.size())
	w := 0
	putWord := func(v uint64) {
		binary.NativeEndian.PutUint64(buf[w:], v)
		w += ptrSize
	}
	s := l.vectorWords() * ptrSize
	putString := func(str string) uint64 {
		addr := uint64(base) + uint64(s)
		copy(buf[s:], str)
		s += len(str) + 1 // buf is zeroed, so the NUL is already there.
		return addr
	}

	random := uint64(base) + uint64(s)
	copy(buf[s:], l.random[:])
	s += len(l.random)
	platform := putString(l.platform)
	execfn := putString(l.execfn)

	putWord(uint64(len(l.argv)))
	for _, a := range l.argv {
		putWord(putString(a))
	}
	putWord(0)
	for _, e := range l.envv {
		putWord(putString(e))
	}
	putWord(0)
	for _, a := range l.aux {
		putWord(a.Key)
		putWord(a.Value)
	}
	putWord(linux.AT_RANDOM)
	putWord(random)
	putWord(linux.AT_PLATFORM)
	putWord(platform)
	putWord(linux.AT_EXECFN)
	putWord(execfn)
	putWord(linux.AT_NULL)
	putWord(0)

	return buf, base + ptrSize
}

// launchBase returns the address of a launch block of size bytes placed on
// the process stack, right below top. top is where the argument strings of
// the process start, which must stay intact because the kernel reports them
// as the command line. A top outside of stack puts the block at the end of
// stack instead.
//
// The stack survives the takeover and grows down on demand, so the image
// gets a full size stack below the block.
func launchBase(stack hostarch.AddrRange, top hostarch.Addr, size int) (hostarch.Addr, error) {
	if !stack.Contains(top) {
		top = stack.End
	}
	top = top.AlignDown(stackAlign)
	if top < stack.Start || uint64(top-stack.Start) < uint64(size) {
		return 0, fmt.Errorf("launch block of %d bytes does not fit below %#x", size, uint64(top))
	}
	return top - hostarch.Addr(size), nil
}
