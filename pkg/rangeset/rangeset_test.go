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

package rangeset

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/elfexec/elfexec/pkg/hostarch"
)

type ar = hostarch.AddrRange

func TestAddCoalesces(t *testing.T) {
	for _, tc := range []struct {
		name string
		add  []ar
		want []ar
	}{
		{
			name: "disjoint",
			add:  []ar{{Start: 0x3000, End: 0x4000}, {Start: 0x1000, End: 0x2000}},
			want: []ar{{Start: 0x1000, End: 0x2000}, {Start: 0x3000, End: 0x4000}},
		},
		{
			name: "adjacent",
			add:  []ar{{Start: 0x1000, End: 0x2000}, {Start: 0x2000, End: 0x3000}},
			want: []ar{{Start: 0x1000, End: 0x3000}},
		},
		{
			name: "contained",
			add:  []ar{{Start: 0x1000, End: 0x5000}, {Start: 0x2000, End: 0x3000}},
			want: []ar{{Start: 0x1000, End: 0x5000}},
		},
		{
			name: "bridge",
			add:  []ar{{Start: 0x1000, End: 0x2000}, {Start: 0x3000, End: 0x4000}, {Start: 0x5000, End: 0x6000}, {Start: 0x1800, End: 0x5800}},
			want: []ar{{Start: 0x1000, End: 0x6000}},
		},
		{
			name: "empty ignored",
			add:  []ar{{Start: 0x1000, End: 0x1000}},
			want: []ar{},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := New()
			for _, r := range tc.add {
				s.Add(r)
			}
			if diff := cmp.Diff(tc.want, s.Ranges()); diff != "" {
				t.Errorf("Ranges() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOverlapping(t *testing.T) {
	s := New()
	s.Add(ar{Start: 0x1000, End: 0x2000})
	s.Add(ar{Start: 0x8000, End: 0x9000})

	for _, tc := range []struct {
		query ar
		want  ar
		ok    bool
	}{
		{query: ar{Start: 0x0, End: 0x1000}},
		{query: ar{Start: 0x2000, End: 0x8000}},
		{query: ar{Start: 0x0, End: 0x1001}, want: ar{Start: 0x1000, End: 0x2000}, ok: true},
		{query: ar{Start: 0x1fff, End: 0x2000}, want: ar{Start: 0x1000, End: 0x2000}, ok: true},
		{query: ar{Start: 0x3000, End: 0xa000}, want: ar{Start: 0x8000, End: 0x9000}, ok: true},
		{query: ar{Start: 0x0, End: 0x10000}, want: ar{Start: 0x8000, End: 0x9000}, ok: true},
		{query: ar{Start: 0x1800, End: 0x1800}},
	} {
		got, ok := s.Overlapping(tc.query)
		if ok != tc.ok || got != tc.want {
			t.Errorf("Overlapping(%v)=%v,%t, want: %v,%t", tc.query, got, ok, tc.want, tc.ok)
		}
	}
}
