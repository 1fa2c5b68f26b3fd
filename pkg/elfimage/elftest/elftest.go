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

// Package elftest builds small ELF64 images in memory for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Section describes a section to emit. Its name is added to a generated
// .shstrtab.
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Addr  uint64
	Off   uint64
	Size  uint64
}

// Patch overwrites file bytes at Off with Data after the layout is built.
type Patch struct {
	Off  uint64
	Data []byte
}

// Builder describes an image. Zero fields take the defaults of a 64-bit,
// host-order ET_EXEC image for the host machine.
type Builder struct {
	Class   elf.Class
	Order   binary.ByteOrder
	Data    elf.Data
	Type    elf.Type
	Machine elf.Machine
	Entry   uint64

	// Progs are emitted right after the ELF header.
	Progs []elf.Prog64

	// Sections are emitted after the file contents, preceded by the NULL
	// section and followed by .shstrtab.
	Sections []Section

	// Shstrndx, when non-nil, overrides the section name table index.
	Shstrndx *uint16

	// Size is the minimum file size. File contents that are not headers
	// are filled with Pattern(offset).
	Size uint64

	Patches []Patch
}

// Pattern is the filler byte for file offset off.
func Pattern(off uint64) byte {
	return byte(off*7 + 3)
}

// Bytes lays out the image.
func (b *Builder) Bytes() []byte {
	order := b.Order
	if order == nil {
		order = binary.NativeEndian
	}
	data := b.Data
	if data == elf.ELFDATANONE {
		data = elf.ELFDATA2LSB
		if binary.NativeEndian.Uint16([]byte{0, 1}) == 1 {
			data = elf.ELFDATA2MSB
		}
	}
	class := b.Class
	if class == elf.ELFCLASSNONE {
		class = elf.ELFCLASS64
	}
	typ := b.Type
	if typ == elf.ET_NONE {
		typ = elf.ET_EXEC
	}
	machine := b.Machine
	if machine == elf.EM_NONE {
		machine = elf.EM_X86_64
	}

	const ehsize, phentsize, shentsize = 64, 56, 64
	phoff := uint64(0)
	if len(b.Progs) > 0 {
		phoff = ehsize
	}
	size := uint64(ehsize + phentsize*len(b.Progs))
	if b.Size > size {
		size = b.Size
	}

	var strtab bytes.Buffer
	var shoff, shstrOff uint64
	var shnum, shstrndx uint16
	nameOff := make([]uint32, len(b.Sections))
	if len(b.Sections) > 0 {
		strtab.WriteByte(0)
		for i, s := range b.Sections {
			nameOff[i] = uint32(strtab.Len())
			strtab.WriteString(s.Name)
			strtab.WriteByte(0)
		}
		shstrName := uint32(strtab.Len())
		strtab.WriteString(".shstrtab")
		strtab.WriteByte(0)

		shstrOff = size
		shoff = (size + uint64(strtab.Len()) + 7) &^ 7
		shnum = uint16(len(b.Sections) + 2)
		shstrndx = shnum - 1
		size = shoff + uint64(shnum)*shentsize
		nameOff = append(nameOff, shstrName)
	}
	if b.Shstrndx != nil {
		shstrndx = *b.Shstrndx
	}

	out := make([]byte, size)
	for i := range out {
		out[i] = Pattern(uint64(i))
	}

	var hdr bytes.Buffer
	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(class)
	ident[elf.EI_DATA] = byte(data)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	binary.Write(&hdr, order, elf.Header64{
		Ident:     ident,
		Type:      uint16(typ),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     b.Entry,
		Phoff:     phoff,
		Shoff:     shoff,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(len(b.Progs)),
		Shentsize: shentsize,
		Shnum:     shnum,
		Shstrndx:  shstrndx,
	})
	for _, p := range b.Progs {
		binary.Write(&hdr, order, p)
	}
	copy(out, hdr.Bytes())

	if len(b.Sections) > 0 {
		copy(out[shstrOff:], strtab.Bytes())
		var sh bytes.Buffer
		binary.Write(&sh, order, elf.Section64{})
		for i, s := range b.Sections {
			binary.Write(&sh, order, elf.Section64{
				Name:  nameOff[i],
				Type:  uint32(s.Type),
				Flags: uint64(s.Flags),
				Addr:  s.Addr,
				Off:   s.Off,
				Size:  s.Size,
			})
		}
		binary.Write(&sh, order, elf.Section64{
			Name: nameOff[len(b.Sections)],
			Type: uint32(elf.SHT_STRTAB),
			Off:  shstrOff,
			Size: uint64(strtab.Len()),
		})
		copy(out[shoff:], sh.Bytes())
	}

	for _, p := range b.Patches {
		copy(out[p.Off:], p.Data)
	}
	return out
}
