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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/elfexec/elfexec/pkg/elfimage"
	"github.com/elfexec/elfexec/pkg/hostarch"
	"github.com/elfexec/elfexec/pkg/procmaps"
)

const page = 0x1000

func mapping(start, end hostarch.Addr, path string) procmaps.Region {
	return procmaps.Region{
		Range: hostarch.AddrRange{Start: start, End: end},
		Path:  path,
		Kind:  procmaps.Classify(path),
	}
}

// layout is a typical small static process.
var layout = []procmaps.Region{
	mapping(0x400000, 0x452000, "/usr/bin/prog"),
	mapping(0x651000, 0x653000, "/usr/bin/prog"),
	mapping(0xe03000, 0xe24000, "[heap]"),
	mapping(0x7f0000000000, 0x7f0000021000, ""),
	mapping(0x7ffc00000000, 0x7ffc00021000, "[stack]"),
	mapping(0x7ffc00030000, 0x7ffc00034000, "[vvar]"),
	mapping(0x7ffc00034000, 0x7ffc00036000, "[vdso]"),
	mapping(0xffffffffff600000, 0xffffffffff601000, "[vsyscall]"),
}

var noExclude = hostarch.AddrRange{}

func TestNewPlan(t *testing.T) {
	segs := []elfimage.Segment{
		{Kind: elfimage.KindLoad, Vaddr: 0x10000000, MemSize: 0x2000},
		{Kind: elfimage.KindNote, Vaddr: 0x10000100, MemSize: 0x20},
		{Kind: elfimage.KindLoad, Vaddr: 0x10003100, MemSize: 0x100},
		{Kind: elfimage.KindTLS, Vaddr: 0x10003100, MemSize: 0x10},
		{Kind: elfimage.KindLoad, Vaddr: 0x10005000},
	}
	p, err := NewPlan(layout, segs, noExclude, page)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}
	want := Plan{
		{Op: OpRelease, Addr: 0x400000, Len: 0x52000},
		{Op: OpRelease, Addr: 0x651000, Len: 0x2000},
		{Op: OpRelease, Addr: 0x7f0000000000, Len: 0x21000},
		{Op: OpReserve, Addr: 0x10000000, Len: 0x2000},
		{Op: OpReserve, Addr: 0x10003000, Len: 0x200},
		{Op: OpReserve, Addr: 0x10003000, Len: 0x110},
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestNewPlanInvariants(t *testing.T) {
	segs := []elfimage.Segment{
		{Kind: elfimage.KindLoad, Vaddr: 0x10000000, MemSize: 0x1000},
		{Kind: elfimage.KindLoad, Vaddr: 0x10001000, MemSize: 0x1000},
	}
	p, err := NewPlan(layout, segs, noExclude, page)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}

	var others int
	for _, r := range layout {
		if !r.Protected() {
			others++
		}
	}
	if got := p.Count(OpRelease); got != others {
		t.Errorf("releases=%d, want one per unprotected region (%d)", got, others)
	}
	if got := p.Count(OpReserve); got != len(segs) {
		t.Errorf("reserves=%d, want: %d", got, len(segs))
	}

	seenReserve := false
	for _, d := range p {
		if d.Op == OpReserve {
			seenReserve = true
			if d.Addr%page != 0 {
				t.Errorf("%v is not page aligned", d)
			}
			continue
		}
		if seenReserve {
			t.Errorf("%v follows a reserve", d)
		}
		for _, r := range layout {
			if r.Protected() && d.Range().Overlaps(r.Range) {
				t.Errorf("%v touches protected %v", d, r)
			}
		}
	}
}

func TestNewPlanExclude(t *testing.T) {
	regions := []procmaps.Region{
		mapping(0x7f0000000000, 0x7f0000010000, ""),
		mapping(0x7f0000020000, 0x7f0000030000, ""),
	}
	// The loader region sits inside the second mapping; only the pieces
	// around it are released.
	exclude := hostarch.AddrRange{Start: 0x7f0000024000, End: 0x7f0000026000}
	p, err := NewPlan(regions, nil, exclude, page)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}
	want := Plan{
		{Op: OpRelease, Addr: 0x7f0000000000, Len: 0x10000},
		{Op: OpRelease, Addr: 0x7f0000020000, Len: 0x4000},
		{Op: OpRelease, Addr: 0x7f0000026000, Len: 0xa000},
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if err := p.CheckCollision(exclude, regions); err != nil {
		t.Errorf("CheckCollision failed: %v", err)
	}
}

func TestNewPlanBadPageSize(t *testing.T) {
	if _, err := NewPlan(layout, nil, noExclude, 1000); err == nil {
		t.Errorf("NewPlan succeeded with page size 1000")
	}
}

func TestCheckCollision(t *testing.T) {
	stub := hostarch.AddrRange{Start: 0x7f1000000000, End: 0x7f1000004000}
	for _, tc := range []struct {
		name string
		segs []elfimage.Segment
		regs []procmaps.Region
		want bool
	}{
		{
			name: "clear",
			segs: []elfimage.Segment{{Kind: elfimage.KindLoad, Vaddr: 0x10000000, MemSize: 0x1000}},
			regs: layout,
		},
		{
			name: "segment inside stub",
			segs: []elfimage.Segment{{Kind: elfimage.KindLoad, Vaddr: 0x7f1000001000, MemSize: 0x1000}},
			regs: layout,
			want: true,
		},
		{
			name: "segment straddles stub start",
			segs: []elfimage.Segment{{Kind: elfimage.KindLoad, Vaddr: 0x7f0fffffe000, MemSize: 0x3000}},
			regs: layout,
			want: true,
		},
		{
			name: "protected mapping over stub",
			regs: append([]procmaps.Region{mapping(0x7f1000002000, 0x7f1000003000, "[vvar]")}, layout...),
			want: true,
		},
		{
			name: "segment over stack",
			segs: []elfimage.Segment{{Kind: elfimage.KindLoad, Vaddr: 0x7ffc00010000, MemSize: 0x1000}},
			regs: layout,
			want: true,
		},
		{
			name: "segment over released mapping",
			segs: []elfimage.Segment{{Kind: elfimage.KindLoad, Vaddr: 0x400000, MemSize: 0x1000}},
			regs: layout,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPlan(tc.regs, tc.segs, stub, page)
			if err != nil {
				t.Fatalf("NewPlan failed: %v", err)
			}
			err = p.CheckCollision(stub, tc.regs)
			if got := err != nil; got != tc.want {
				t.Fatalf("CheckCollision()=%v, want collision=%t", err, tc.want)
			}
			if err == nil {
				return
			}
			var aerr *AllocationError
			if !errors.As(err, &aerr) || !errors.Is(err, ErrCollision) {
				t.Errorf("CheckCollision got err %v, want *AllocationError wrapping ErrCollision", err)
			}
		})
	}
}

func TestCheckCollisionReleaseOverStub(t *testing.T) {
	stub := hostarch.AddrRange{Start: 0x7f1000000000, End: 0x7f1000004000}
	p := Plan{{Op: OpRelease, Addr: 0x7f1000000000, Len: 0x1000}}
	if err := p.CheckCollision(stub, nil); !errors.Is(err, ErrCollision) {
		t.Errorf("CheckCollision got err %v, want ErrCollision", err)
	}
}
