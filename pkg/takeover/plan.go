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
	"fmt"

	"github.com/elfexec/elfexec/pkg/elfimage"
	"github.com/elfexec/elfexec/pkg/hostarch"
	"github.com/elfexec/elfexec/pkg/procmaps"
	"github.com/elfexec/elfexec/pkg/rangeset"
)

// NewPlan computes the directives that turn the address space described by
// regions into one holding only the protected kernel mappings, the loader
// region exclude and fresh reservations for every loadable segment.
//
// Regions of kind Other are released over their exact range, minus any part
// inside exclude. Each loadable segment gets a reservation starting at its
// address rounded down to pageSize and covering MemSize bytes from its
// address. Segments without a memory footprint are skipped.
func NewPlan(regions []procmaps.Region, segments []elfimage.Segment, exclude hostarch.AddrRange, pageSize uint64) (Plan, error) {
	if !hostarch.ValidPageSize(pageSize) {
		return nil, fmt.Errorf("invalid page size %d", pageSize)
	}

	var p Plan
	for _, r := range regions {
		if r.Protected() {
			continue
		}
		for _, piece := range r.Range.Subtract(exclude) {
			p = append(p, Directive{Op: OpRelease, Addr: uint64(piece.Start), Len: piece.Length()})
		}
	}
	for _, s := range segments {
		if !s.Loadable() {
			continue
		}
		ar := s.ReserveRange(pageSize)
		if ar.Empty() {
			continue
		}
		if !ar.WellFormed() {
			return nil, fmt.Errorf("segment at %#x with memory size %#x wraps the address space", s.Vaddr, s.MemSize)
		}
		p = append(p, Directive{Op: OpReserve, Addr: uint64(ar.Start), Len: ar.Length()})
	}
	return p, nil
}

// CheckCollision verifies that executing p cannot disturb the loader region
// stub: no directive may touch it and no protected region may overlap it.
// Reservations must also stay clear of protected regions, which survive the
// takeover. Failures are AllocationErrors wrapping ErrCollision.
func (p Plan) CheckCollision(stub hostarch.AddrRange, regions []procmaps.Region) error {
	touched := rangeset.New()
	reserved := rangeset.New()
	for _, d := range p {
		touched.Add(d.Range())
		if d.Op == OpReserve {
			reserved.Add(d.Range())
		}
	}
	protected := rangeset.New()
	for _, r := range regions {
		if r.Protected() {
			protected.Add(r.Range)
		}
	}

	if r, ok := touched.Overlapping(stub); ok {
		return &AllocationError{
			Op:    "collision check",
			Range: stub,
			Err:   fmt.Errorf("%w: directives cover %v", ErrCollision, r),
		}
	}
	if r, ok := protected.Overlapping(stub); ok {
		return &AllocationError{
			Op:    "collision check",
			Range: stub,
			Err:   fmt.Errorf("%w: protected mapping %v", ErrCollision, r),
		}
	}
	for _, ar := range reserved.Ranges() {
		if r, ok := protected.Overlapping(ar); ok {
			return &AllocationError{
				Op:    "collision check",
				Range: ar,
				Err:   fmt.Errorf("%w: reservation overlaps protected mapping %v", ErrCollision, r),
			}
		}
	}
	return nil
}
