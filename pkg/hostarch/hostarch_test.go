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

package hostarch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRounding(t *testing.T) {
	for _, tc := range []struct {
		addr Addr
		down Addr
		up   Addr
		ok   bool
	}{
		{addr: 0, down: 0, up: 0, ok: true},
		{addr: 1, down: 0, up: PageSize, ok: true},
		{addr: PageSize, down: PageSize, up: PageSize, ok: true},
		{addr: 0x401234, down: 0x401000, up: 0x402000, ok: true},
		{addr: ^Addr(0), down: ^Addr(PageSize - 1), up: 0, ok: false},
	} {
		if got := tc.addr.RoundDown(); got != tc.down {
			t.Errorf("%v.RoundDown()=%v, want: %v", tc.addr, got, tc.down)
		}
		got, ok := tc.addr.RoundUp()
		if ok != tc.ok || (ok && got != tc.up) {
			t.Errorf("%v.RoundUp()=%v,%t, want: %v,%t", tc.addr, got, ok, tc.up, tc.ok)
		}
	}
}

func TestAlign(t *testing.T) {
	if got := Addr(0x1017).AlignDown(16); got != 0x1010 {
		t.Errorf("AlignDown=%v, want: 0x1010", got)
	}
	if got, ok := Addr(0x1011).AlignUp(8); !ok || got != 0x1018 {
		t.Errorf("AlignUp=%v,%t, want: 0x1018,true", got, ok)
	}
}

func TestSubtract(t *testing.T) {
	r := AddrRange{0x1000, 0x5000}
	for _, tc := range []struct {
		name string
		hole AddrRange
		want []AddrRange
	}{
		{
			name: "disjoint",
			hole: AddrRange{0x6000, 0x7000},
			want: []AddrRange{r},
		},
		{
			name: "middle",
			hole: AddrRange{0x2000, 0x3000},
			want: []AddrRange{{0x1000, 0x2000}, {0x3000, 0x5000}},
		},
		{
			name: "head",
			hole: AddrRange{0x0, 0x2000},
			want: []AddrRange{{0x2000, 0x5000}},
		},
		{
			name: "tail",
			hole: AddrRange{0x4000, 0x9000},
			want: []AddrRange{{0x1000, 0x4000}},
		},
		{
			name: "empty hole",
			hole: AddrRange{0x3000, 0x3000},
			want: []AddrRange{r},
		},
		{
			name: "covered",
			hole: AddrRange{0x0, 0x9000},
			want: nil,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, r.Subtract(tc.hole)); diff != "" {
				t.Errorf("Subtract(%v) mismatch (-want +got):\n%s", tc.hole, diff)
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	r := AddrRange{0x1000, 0x2000}
	for _, tc := range []struct {
		other AddrRange
		want  bool
	}{
		{AddrRange{0x0, 0x1000}, false},
		{AddrRange{0x0, 0x1001}, true},
		{AddrRange{0x1fff, 0x3000}, true},
		{AddrRange{0x2000, 0x3000}, false},
		{AddrRange{0x1800, 0x1800}, false},
		{AddrRange{0x1000, 0x1000}, false},
		{AddrRange{0x0, 0x3000}, true},
	} {
		if got := r.Overlaps(tc.other); got != tc.want {
			t.Errorf("%v.Overlaps(%v)=%t, want: %t", r, tc.other, got, tc.want)
		}
		if got := tc.other.Overlaps(r); got != tc.want {
			t.Errorf("%v.Overlaps(%v)=%t, want: %t", tc.other, r, got, tc.want)
		}
	}
}

func TestValidPageSize(t *testing.T) {
	for size, want := range map[uint64]bool{
		0:       false,
		512:     false,
		4096:    true,
		6000:    false,
		16384:   true,
		1 << 16: true,
	} {
		if got := ValidPageSize(size); got != want {
			t.Errorf("ValidPageSize(%d)=%t, want: %t", size, got, want)
		}
	}
}
