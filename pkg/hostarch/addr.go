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

// Package hostarch contains host arch address operations for the loader.
package hostarch

import (
	"fmt"
)

// Addr represents an address in an unspecified address space.
type Addr uint64

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow the range of Addr.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// AlignDown rounds v down to a multiple of align, which must be a power of 2.
func (v Addr) AlignDown(align uint64) Addr {
	return v & ^Addr(align-1)
}

// AlignUp rounds v up to a multiple of align, which must be a power of 2. ok
// is true iff rounding up did not wrap around.
func (v Addr) AlignUp(align uint64) (addr Addr, ok bool) {
	addr = Addr(v + Addr(align) - 1).AlignDown(align)
	ok = addr >= v
	return
}

// RoundDown returns the address rounded down to the nearest host page
// boundary.
func (v Addr) RoundDown() Addr {
	return v.AlignDown(PageSize)
}

// RoundUp returns the address rounded up to the nearest host page boundary.
// ok is true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	return v.AlignUp(PageSize)
}

// MustRoundUp is equivalent to RoundUp, but panics if rounding up wraps
// around.
func (v Addr) MustRoundUp() Addr {
	addr, ok := v.RoundUp()
	if !ok {
		panic(fmt.Sprintf("hostarch.Addr(%d).RoundUp() wraps", v))
	}
	return addr
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// PageOffset returns the offset of v into the current host page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & Addr(PageSize-1))
}

// ToRange returns [v, v+length).
func (v Addr) ToRange(length uint64) (AddrRange, bool) {
	end, ok := v.AddLength(length)
	return AddrRange{v, end}, ok
}

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// PageRoundDown/Up are equivalent to Addr.RoundDown/Up, but may be used
// directly on uint64 values.
func PageRoundDown(x uint64) uint64 {
	return uint64(Addr(x).RoundDown())
}

// PageRoundUp is equivalent to Addr.RoundUp, but returns the rounded value
// only. It is up to the caller to check for overflow.
func PageRoundUp(x uint64) uint64 {
	addr, _ := Addr(x).RoundUp()
	return uint64(addr)
}
