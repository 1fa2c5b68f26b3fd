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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/elfexec/elfexec/pkg/elfimage/elftest"
	"github.com/elfexec/elfexec/pkg/hostarch"
)

func parseBytes(t *testing.T, b []byte) (*Image, error) {
	t.Helper()
	return Parse(bytes.NewReader(b), int64(len(b)), "test")
}

func simple() *elftest.Builder {
	return &elftest.Builder{
		Entry: 0x401000,
		Progs: []elf.Prog64{
			{Type: uint32(elf.PT_PHDR), Flags: uint32(elf.PF_R), Off: 64, Vaddr: 0x400040, Filesz: 112, Memsz: 112, Align: 8},
			{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X), Off: 0, Vaddr: 0x400000, Filesz: 0x1200, Memsz: 0x1200, Align: 0x1000},
			{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_W), Off: 0x1200, Vaddr: 0x402200, Filesz: 0x100, Memsz: 0x3000, Align: 0x1000},
		},
		Sections: []elftest.Section{
			{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: 0x401000, Off: 0x1000, Size: 0x200},
			{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addr: 0x402300, Off: 0x1300, Size: 0x2f00},
		},
		Size: 0x1300,
	}
}

func TestParse(t *testing.T) {
	b := simple().Bytes()
	img, err := parseBytes(t, b)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(img.Raw) != len(b) {
		t.Errorf("len(Raw)=%d, want: %d", len(img.Raw), len(b))
	}
	if img.Entry() != 0x401000 {
		t.Errorf("Entry()=%#x, want: 0x401000", img.Entry())
	}
	if img.Header.Type != elf.ET_EXEC || img.Header.Phnum != 3 || img.Header.Shnum != 4 {
		t.Errorf("Header=%+v, want ET_EXEC with 3 program and 4 section headers", img.Header)
	}

	wantSegs := []Segment{
		{Kind: KindPhdr, Type: elf.PT_PHDR, Flags: FlagRead, Offset: 64, Vaddr: 0x400040, FileSize: 112, MemSize: 112, Align: 8},
		{Kind: KindLoad, Type: elf.PT_LOAD, Flags: FlagRead | FlagExec, Offset: 0, Vaddr: 0x400000, FileSize: 0x1200, MemSize: 0x1200, Align: 0x1000},
		{Kind: KindLoad, Type: elf.PT_LOAD, Flags: FlagRead | FlagWrite, Offset: 0x1200, Vaddr: 0x402200, FileSize: 0x100, MemSize: 0x3000, Align: 0x1000},
	}
	if diff := cmp.Diff(wantSegs, img.Segments); diff != "" {
		t.Errorf("Segments mismatch (-want +got):\n%s", diff)
	}

	wantNames := []string{"", ".text", ".bss", ".shstrtab"}
	var names []string
	for _, s := range img.Sections {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Errorf("section names mismatch (-want +got):\n%s", diff)
	}

	for i, s := range img.Segments {
		if got, want := img.SegmentData(s), b[s.Offset:s.Offset+s.FileSize]; !bytes.Equal(got, want) {
			t.Errorf("segment %d data differs from file bytes", i)
		}
	}
	if got := len(img.LoadSegments()); got != 2 {
		t.Errorf("len(LoadSegments())=%d, want: 2", got)
	}
	if got := img.PhdrAddr(); got != 0x400040 {
		t.Errorf("PhdrAddr()=%#x, want: 0x400040", got)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		bytes func() []byte
	}{
		{
			name: "bad magic",
			bytes: func() []byte {
				b := simple().Bytes()
				b[1] = 'X'
				return b
			},
		},
		{
			name: "32-bit class",
			bytes: func() []byte {
				bl := simple()
				bl.Class = elf.ELFCLASS32
				return bl.Bytes()
			},
		},
		{
			name: "foreign byte order",
			bytes: func() []byte {
				bl := simple()
				if hostData() == elf.ELFDATA2LSB {
					bl.Data, bl.Order = elf.ELFDATA2MSB, binary.BigEndian
				} else {
					bl.Data, bl.Order = elf.ELFDATA2LSB, binary.LittleEndian
				}
				return bl.Bytes()
			},
		},
		{
			name: "unknown ident version",
			bytes: func() []byte {
				b := simple().Bytes()
				b[elf.EI_VERSION] = 7
				return b
			},
		},
		{
			name: "truncated ident",
			bytes: func() []byte {
				return []byte(elf.ELFMAG)
			},
		},
		{
			name: "segment past end of file",
			bytes: func() []byte {
				bl := simple()
				bl.Progs[2].Filesz = 0x1000
				bl.Progs[2].Memsz = 0x3000
				return bl.Bytes()
			},
		},
		{
			name: "segment offset overflow",
			bytes: func() []byte {
				bl := simple()
				bl.Progs[2].Off = ^uint64(0) - 8
				return bl.Bytes()
			},
		},
		{
			name: "memsz below filesz",
			bytes: func() []byte {
				bl := simple()
				bl.Progs[1].Memsz = 0x100
				return bl.Bytes()
			},
		},
		{
			name: "program header table past end",
			bytes: func() []byte {
				b := simple().Bytes()
				binary.NativeEndian.PutUint64(b[32:], uint64(len(b)))
				return b
			},
		},
		{
			name: "bad program header entry size",
			bytes: func() []byte {
				b := simple().Bytes()
				binary.NativeEndian.PutUint16(b[54:], 32)
				return b
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseBytes(t, tc.bytes())
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Parse got err %v, want *ParseError", err)
			}
		})
	}
}

// countingReader records the furthest offset read.
type countingReader struct {
	r   *bytes.Reader
	max int64
}

func (c *countingReader) ReadAt(p []byte, off int64) (int, error) {
	if end := off + int64(len(p)); end > c.max {
		c.max = end
	}
	return c.r.ReadAt(p, off)
}

func TestClassRejectedBeforeHeaders(t *testing.T) {
	bl := simple()
	bl.Class = elf.ELFCLASS32
	b := bl.Bytes()
	cr := &countingReader{r: bytes.NewReader(b)}
	if _, err := Parse(cr, int64(len(b)), "test"); err == nil {
		t.Fatalf("Parse succeeded on a 32-bit image")
	}
	if cr.max > elf.EI_NIDENT {
		t.Errorf("read up to offset %d, want at most %d", cr.max, elf.EI_NIDENT)
	}
}

func TestBadSectionNameIndex(t *testing.T) {
	bl := simple()
	idx := uint16(99)
	bl.Shstrndx = &idx
	img, err := parseBytes(t, bl.Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	for i, s := range img.Sections {
		if s.Name != "" {
			t.Errorf("section %d name=%q, want empty", i, s.Name)
		}
	}
}

func TestReserveRange(t *testing.T) {
	const page = 0x1000
	for _, tc := range []struct {
		name string
		seg  Segment
		want hostarch.AddrRange
	}{
		{
			name: "aligned",
			seg:  Segment{Vaddr: 0x400000, MemSize: 0x2000},
			want: hostarch.AddrRange{Start: 0x400000, End: 0x402000},
		},
		{
			name: "unaligned start",
			seg:  Segment{Vaddr: 0x400123, MemSize: 0x10},
			want: hostarch.AddrRange{Start: 0x400000, End: 0x400133},
		},
		{
			name: "tail crosses page",
			seg:  Segment{Vaddr: 0x402200, MemSize: 0x3000},
			want: hostarch.AddrRange{Start: 0x402000, End: 0x405200},
		},
		{
			name: "empty",
			seg:  Segment{Vaddr: 0x400123},
			want: hostarch.AddrRange{Start: 0x400000, End: 0x400000},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.seg.ReserveRange(page); got != tc.want {
				t.Errorf("ReserveRange=%v, want: %v", got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*elftest.Builder)
		ok     bool
	}{
		{name: "static exec", mutate: func(*elftest.Builder) {}, ok: true},
		{name: "dyn", mutate: func(b *elftest.Builder) { b.Type = elf.ET_DYN }},
		{name: "machine", mutate: func(b *elftest.Builder) { b.Machine = elf.EM_PPC64 }},
		{
			name: "interp",
			mutate: func(b *elftest.Builder) {
				b.Progs = append(b.Progs, elf.Prog64{Type: uint32(elf.PT_INTERP), Off: 0x100, Filesz: 0x10, Memsz: 0x10})
			},
		},
		{
			name: "no load",
			mutate: func(b *elftest.Builder) {
				b.Progs = b.Progs[:1]
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bl := simple()
			tc.mutate(bl)
			img, err := parseBytes(t, bl.Bytes())
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			err = img.Validate(elf.EM_X86_64)
			if got := err == nil; got != tc.ok {
				t.Errorf("Validate()=%v, want ok=%t", err, tc.ok)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog")
	if err := os.WriteFile(path, simple().Bytes(), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	img, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", path, err)
	}
	if img.Name != path {
		t.Errorf("Name=%q, want: %q", img.Name, path)
	}

	_, err = Open(filepath.Join(dir, "missing"))
	var ioErr *IOError
	if !errors.As(err, &ioErr) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) got err %v, want *IOError wrapping ErrNotExist", err)
	}
}

func TestFlagsString(t *testing.T) {
	got := []string{
		(FlagRead | FlagExec).String(),
		(FlagRead | FlagWrite).String(),
		Flags(0).String(),
	}
	if diff := cmp.Diff([]string{"r-x", "rw-", "---"}, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Flags.String mismatch (-want +got):\n%s", diff)
	}
}
