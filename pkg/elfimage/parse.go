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

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/elfexec/elfexec/pkg/abi/linux"
	"github.com/elfexec/elfexec/pkg/log"
)

// hostData returns the ELF data encoding of the running machine.
func hostData() elf.Data {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return elf.ELFDATA2LSB
	}
	return elf.ELFDATA2MSB
}

// Open reads and parses the ELF image at path.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, &IOError{Op: "stat", Path: path, Err: err}
	}
	return Parse(f, st.Size(), path)
}

// readFull reads len(buf) bytes at off. A short read is reported as a
// truncated image; anything else is an I/O failure.
func readFull(r io.ReaderAt, buf []byte, off int64, name, what string) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return parseErrorf(name, err, "truncated %s: read %d of %d bytes", what, n, len(buf))
	}
	return &IOError{Op: "read", Path: name, Err: err}
}

// Parse decodes the ELF image of the given size from r.
//
// The identification bytes are checked first: a wrong magic, a non 64-bit
// class, a byte order that differs from the host or an unknown ident version
// fail before any program or section header is read. The whole file is then
// read into memory and the header tables are decoded from that copy.
func Parse(r io.ReaderAt, size int64, name string) (*Image, error) {
	var ident [elf.EI_NIDENT]byte
	if err := readFull(r, ident[:], 0, name, "ident"); err != nil {
		return nil, err
	}
	if string(ident[:len(elf.ELFMAG)]) != elf.ELFMAG {
		return nil, parseErrorf(name, nil, "bad magic %#v", ident[:len(elf.ELFMAG)])
	}
	if c := elf.Class(ident[elf.EI_CLASS]); c != elf.ELFCLASS64 {
		return nil, parseErrorf(name, nil, "unsupported class %v", c)
	}
	if d := elf.Data(ident[elf.EI_DATA]); d != hostData() {
		return nil, parseErrorf(name, nil, "data encoding %v does not match host %v", d, hostData())
	}
	if v := elf.Version(ident[elf.EI_VERSION]); v != elf.EV_CURRENT {
		return nil, parseErrorf(name, nil, "unknown ident version %v", v)
	}
	if size < linux.ELF64EhdrSize {
		return nil, parseErrorf(name, nil, "file of %d bytes is smaller than the ELF header", size)
	}

	raw := make([]byte, size)
	if err := readFull(r, raw, 0, name, "image"); err != nil {
		return nil, err
	}

	var hdr elf.Header64
	if err := binary.Read(bytes.NewReader(raw), binary.NativeEndian, &hdr); err != nil {
		return nil, parseErrorf(name, err, "decoding header")
	}
	img := &Image{
		Name: name,
		Raw:  raw,
		Header: Header{
			Class:        elf.ELFCLASS64,
			Data:         hostData(),
			IdentVersion: elf.Version(ident[elf.EI_VERSION]),
			OSABI:        elf.OSABI(ident[elf.EI_OSABI]),
			ABIVersion:   ident[elf.EI_ABIVERSION],
			Type:         elf.Type(hdr.Type),
			Machine:      elf.Machine(hdr.Machine),
			Version:      hdr.Version,
			Entry:        hdr.Entry,
			Phoff:        hdr.Phoff,
			Shoff:        hdr.Shoff,
			Flags:        hdr.Flags,
			Ehsize:       hdr.Ehsize,
			Phentsize:    hdr.Phentsize,
			Phnum:        hdr.Phnum,
			Shentsize:    hdr.Shentsize,
			Shnum:        hdr.Shnum,
			Shstrndx:     hdr.Shstrndx,
		},
	}

	var err error
	if img.Segments, err = parseSegments(img); err != nil {
		return nil, err
	}
	if img.Sections, err = parseSections(img); err != nil {
		return nil, err
	}
	return img, nil
}

// table returns the bytes of a header table of num entries of entsize bytes
// at off, checking that entsize is want and that the table fits the file.
func table(img *Image, what string, off uint64, num, entsize uint16, want int) ([]byte, error) {
	if num == 0 {
		return nil, nil
	}
	if int(entsize) != want {
		return nil, parseErrorf(img.Name, nil, "%s entry size %d, want %d", what, entsize, want)
	}
	size := uint64(len(img.Raw))
	length := uint64(num) * uint64(entsize)
	if off > size || length > size-off {
		return nil, parseErrorf(img.Name, nil, "%s table [%#x, %#x) exceeds file size %#x", what, off, off+length, size)
	}
	return img.Raw[off : off+length], nil
}

func parseSegments(img *Image) ([]Segment, error) {
	h := &img.Header
	buf, err := table(img, "program header", h.Phoff, h.Phnum, h.Phentsize, linux.ELF64PhdrSize)
	if err != nil || buf == nil {
		return nil, err
	}
	progs := make([]elf.Prog64, h.Phnum)
	if err := binary.Read(bytes.NewReader(buf), binary.NativeEndian, progs); err != nil {
		return nil, parseErrorf(img.Name, err, "decoding program headers")
	}

	size := uint64(len(img.Raw))
	segs := make([]Segment, 0, len(progs))
	for i, p := range progs {
		s := Segment{
			Kind:     kindOf(elf.ProgType(p.Type)),
			Type:     elf.ProgType(p.Type),
			Flags:    Flags(p.Flags),
			Offset:   p.Off,
			Vaddr:    p.Vaddr,
			Paddr:    p.Paddr,
			FileSize: p.Filesz,
			MemSize:  p.Memsz,
			Align:    p.Align,
		}
		if s.FileSize > size || s.Offset > size-s.FileSize {
			return nil, parseErrorf(img.Name, nil, "segment %d: file range [%#x, +%#x) exceeds file size %#x", i, s.Offset, s.FileSize, size)
		}
		if s.MemSize < s.FileSize {
			return nil, parseErrorf(img.Name, nil, "segment %d: memory size %#x smaller than file size %#x", i, s.MemSize, s.FileSize)
		}
		if s.Loadable() && s.Vaddr+s.MemSize < s.Vaddr {
			return nil, parseErrorf(img.Name, nil, "segment %d: address range [%#x, +%#x) overflows", i, s.Vaddr, s.MemSize)
		}
		segs = append(segs, s)
	}
	return segs, nil
}

func parseSections(img *Image) ([]Section, error) {
	h := &img.Header
	buf, err := table(img, "section header", h.Shoff, h.Shnum, h.Shentsize, linux.ELF64ShdrSize)
	if err != nil || buf == nil {
		return nil, err
	}
	shdrs := make([]elf.Section64, h.Shnum)
	if err := binary.Read(bytes.NewReader(buf), binary.NativeEndian, shdrs); err != nil {
		return nil, parseErrorf(img.Name, err, "decoding section headers")
	}

	var strtab []byte
	if int(h.Shstrndx) < len(shdrs) {
		st := shdrs[h.Shstrndx]
		size := uint64(len(img.Raw))
		if st.Size <= size && st.Off <= size-st.Size {
			strtab = img.Raw[st.Off : st.Off+st.Size]
		} else {
			log.Warningf("%s: section name table [%#x, +%#x) exceeds file size, leaving names empty", img.Name, st.Off, st.Size)
		}
	} else {
		log.Warningf("%s: section name table index %d out of range (%d sections), leaving names empty", img.Name, h.Shstrndx, len(shdrs))
	}

	secs := make([]Section, 0, len(shdrs))
	for _, s := range shdrs {
		secs = append(secs, Section{
			Name:      cstring(strtab, s.Name),
			Type:      elf.SectionType(s.Type),
			Flags:     elf.SectionFlag(s.Flags),
			Addr:      s.Addr,
			Offset:    s.Off,
			Size:      s.Size,
			Link:      s.Link,
			Info:      s.Info,
			Addralign: s.Addralign,
			Entsize:   s.Entsize,
		})
	}
	return secs, nil
}

// cstring returns the NUL terminated string at off in tab, or "" if off is
// out of range.
func cstring(tab []byte, off uint32) string {
	if uint64(off) >= uint64(len(tab)) {
		return ""
	}
	s := tab[off:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}
