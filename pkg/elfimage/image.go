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

// Package elfimage parses 64-bit ELF executables into an in-memory model
// suitable for loading them into a process.
package elfimage

import (
	"debug/elf"
	"fmt"
	"runtime"
	"strings"

	"github.com/elfexec/elfexec/pkg/hostarch"
)

// Header is the decoded ELF file header.
type Header struct {
	Class        elf.Class
	Data         elf.Data
	IdentVersion elf.Version
	OSABI        elf.OSABI
	ABIVersion   uint8

	Type      elf.Type
	Machine   elf.Machine
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// Kind classifies a program header.
type Kind int

// Segment kinds.
const (
	KindNull Kind = iota
	KindLoad
	KindDynamic
	KindInterp
	KindNote
	KindShlib
	KindPhdr
	KindTLS
	KindOther
)

var kindNames = [...]string{
	KindNull:    "NULL",
	KindLoad:    "LOAD",
	KindDynamic: "DYNAMIC",
	KindInterp:  "INTERP",
	KindNote:    "NOTE",
	KindShlib:   "SHLIB",
	KindPhdr:    "PHDR",
	KindTLS:     "TLS",
	KindOther:   "OTHER",
}

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

func kindOf(t elf.ProgType) Kind {
	switch t {
	case elf.PT_NULL:
		return KindNull
	case elf.PT_LOAD:
		return KindLoad
	case elf.PT_DYNAMIC:
		return KindDynamic
	case elf.PT_INTERP:
		return KindInterp
	case elf.PT_NOTE:
		return KindNote
	case elf.PT_SHLIB:
		return KindShlib
	case elf.PT_PHDR:
		return KindPhdr
	case elf.PT_TLS:
		return KindTLS
	default:
		return KindOther
	}
}

// Flags is the segment permission bitset.
type Flags uint32

// Segment permissions, with the values of PF_X, PF_W and PF_R.
const (
	FlagExec  Flags = Flags(elf.PF_X)
	FlagWrite Flags = Flags(elf.PF_W)
	FlagRead  Flags = Flags(elf.PF_R)
)

// String returns the flags in "rwx" notation.
func (f Flags) String() string {
	b := []byte("---")
	if f&FlagRead != 0 {
		b[0] = 'r'
	}
	if f&FlagWrite != 0 {
		b[1] = 'w'
	}
	if f&FlagExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Segment is a decoded program header.
type Segment struct {
	Kind     Kind
	Type     elf.ProgType
	Flags    Flags
	Offset   uint64
	Vaddr    uint64
	Paddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

// Loadable returns true for segments that must be placed in memory before
// the image runs.
func (s Segment) Loadable() bool {
	return s.Kind == KindLoad || s.Kind == KindTLS
}

// ReserveRange returns the page aligned range that must be mapped to hold
// the segment: it starts at Vaddr rounded down to pageSize and covers MemSize
// bytes from Vaddr. A segment with no memory footprint returns an empty
// range.
//
// Preconditions: pageSize is a power of 2.
func (s Segment) ReserveRange(pageSize uint64) hostarch.AddrRange {
	start := hostarch.Addr(s.Vaddr).AlignDown(pageSize)
	if s.MemSize == 0 {
		return hostarch.AddrRange{Start: start, End: start}
	}
	length := s.MemSize + (s.Vaddr - uint64(start))
	return hostarch.AddrRange{Start: start, End: start + hostarch.Addr(length)}
}

// Range returns [Vaddr, Vaddr+MemSize).
func (s Segment) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: hostarch.Addr(s.Vaddr), End: hostarch.Addr(s.Vaddr + s.MemSize)}
}

// Section is a decoded section header. It is metadata only; the loader
// never consults sections.
type Section struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// Image is a parsed ELF binary together with its raw bytes.
//
// Invariants: len(Raw) is the file size, and every segment's
// [Offset, Offset+FileSize) lies within Raw.
type Image struct {
	Name     string
	Header   Header
	Segments []Segment
	Sections []Section
	Raw      []byte
}

// Entry returns the entry point address.
func (img *Image) Entry() uint64 {
	return img.Header.Entry
}

// LoadSegments returns the segments that participate in loading, in program
// header order.
func (img *Image) LoadSegments() []Segment {
	var segs []Segment
	for _, s := range img.Segments {
		if s.Loadable() {
			segs = append(segs, s)
		}
	}
	return segs
}

// SegmentData returns the file bytes of s.
func (img *Image) SegmentData(s Segment) []byte {
	return img.Raw[s.Offset : s.Offset+s.FileSize]
}

// PhdrAddr returns the address the program header table will have once the
// image is loaded, or 0 if no loaded segment covers it.
func (img *Image) PhdrAddr() uint64 {
	for _, s := range img.Segments {
		if s.Kind == KindPhdr {
			return s.Vaddr
		}
	}
	phoff := img.Header.Phoff
	for _, s := range img.Segments {
		if s.Kind == KindLoad && s.Offset <= phoff && phoff-s.Offset < s.FileSize {
			return s.Vaddr + (phoff - s.Offset)
		}
	}
	return 0
}

// HostMachine returns the ELF machine of the running architecture.
func HostMachine() elf.Machine {
	switch runtime.GOARCH {
	case "amd64":
		return elf.EM_X86_64
	case "arm64":
		return elf.EM_AARCH64
	case "riscv64":
		return elf.EM_RISCV
	default:
		return elf.EM_NONE
	}
}

// Validate checks that the image can be loaded as-is on a machine of the
// given type: it must be a statically linked ET_EXEC image with at least one
// loadable segment.
func (img *Image) Validate(machine elf.Machine) error {
	if img.Header.Type != elf.ET_EXEC {
		// ET_DYN images need a load bias and relocation.
		return parseErrorf(img.Name, nil, "unsupported type %v, only %v can be loaded", img.Header.Type, elf.ET_EXEC)
	}
	if img.Header.Machine != machine {
		return parseErrorf(img.Name, nil, "machine %v does not match host %v", img.Header.Machine, machine)
	}
	var loadable int
	for _, s := range img.Segments {
		switch {
		case s.Kind == KindInterp:
			return parseErrorf(img.Name, nil, "dynamically linked images are not supported (%s)", interpName(img, s))
		case s.Loadable():
			loadable++
		}
	}
	if loadable == 0 {
		return parseErrorf(img.Name, nil, "no loadable segments")
	}
	return nil
}

func interpName(img *Image, s Segment) string {
	return strings.TrimRight(string(img.SegmentData(s)), "\x00")
}
