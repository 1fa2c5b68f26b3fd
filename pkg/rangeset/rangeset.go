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

// Package rangeset provides a set of address ranges backed by a B-tree.
//
// Ranges added to a Set are coalesced, so the tree always holds disjoint,
// non-adjacent ranges ordered by start address.
package rangeset

import (
	"github.com/google/btree"

	"github.com/elfexec/elfexec/pkg/hostarch"
)

// degree is the B-tree degree. Address spaces hold at most a few thousand
// mappings.
const degree = 16

// Set is a set of addresses.
//
// The zero value is not usable; use New.
type Set struct {
	tree *btree.BTreeG[hostarch.AddrRange]
}

func less(a, b hostarch.AddrRange) bool {
	return a.Start < b.Start
}

// New returns an empty Set.
func New() *Set {
	return &Set{tree: btree.NewG(degree, less)}
}

// Len returns the number of disjoint ranges in the set.
func (s *Set) Len() int {
	return s.tree.Len()
}

// floor returns the range with the greatest start <= addr.
func (s *Set) floor(addr hostarch.Addr) (r hostarch.AddrRange, ok bool) {
	s.tree.DescendLessOrEqual(hostarch.AddrRange{Start: addr}, func(item hostarch.AddrRange) bool {
		r, ok = item, true
		return false
	})
	return
}

// ceil returns the range with the least start >= addr.
func (s *Set) ceil(addr hostarch.Addr) (r hostarch.AddrRange, ok bool) {
	s.tree.AscendGreaterOrEqual(hostarch.AddrRange{Start: addr}, func(item hostarch.AddrRange) bool {
		r, ok = item, true
		return false
	})
	return
}

// Add inserts ar into the set, merging it with every range it overlaps or
// touches. Empty ranges are ignored.
func (s *Set) Add(ar hostarch.AddrRange) {
	if ar.Empty() {
		return
	}
	if prev, ok := s.floor(ar.Start); ok && prev.End >= ar.Start {
		s.tree.Delete(prev)
		ar.Start = prev.Start
		if prev.End > ar.End {
			ar.End = prev.End
		}
	}
	for {
		next, ok := s.ceil(ar.Start)
		if !ok || next.Start > ar.End {
			break
		}
		s.tree.Delete(next)
		if next.End > ar.End {
			ar.End = next.End
		}
	}
	s.tree.ReplaceOrInsert(ar)
}

// Overlapping returns a range of the set that overlaps ar, if any.
func (s *Set) Overlapping(ar hostarch.AddrRange) (hostarch.AddrRange, bool) {
	if ar.Empty() {
		return hostarch.AddrRange{}, false
	}
	// Ranges are disjoint, so only the last range starting before ar.End
	// can reach into ar.
	cand, ok := s.floor(ar.End - 1)
	if !ok || cand.End <= ar.Start {
		return hostarch.AddrRange{}, false
	}
	return cand, true
}

// Ranges returns the ranges of the set in ascending order.
func (s *Set) Ranges() []hostarch.AddrRange {
	out := make([]hostarch.AddrRange, 0, s.tree.Len())
	s.tree.Ascend(func(item hostarch.AddrRange) bool {
		out = append(out, item)
		return true
	})
	return out
}
