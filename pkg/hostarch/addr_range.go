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

import "fmt"

// AddrRange is a half-open range of addresses [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// WellFormed returns true if r.Start <= r.End. All other methods on a range
// require that the range is well-formed.
func (r AddrRange) WellFormed() bool {
	return r.Start <= r.End
}

// Length returns the length of the range.
func (r AddrRange) Length() uint64 {
	return uint64(r.End - r.Start)
}

// Empty returns true if the range contains no addresses.
func (r AddrRange) Empty() bool {
	return r.Start == r.End
}

// Contains returns true if r contains x.
func (r AddrRange) Contains(x Addr) bool {
	return r.Start <= x && x < r.End
}

// Overlaps returns true if r and r2 have a non-empty intersection. An empty
// range overlaps nothing.
func (r AddrRange) Overlaps(r2 AddrRange) bool {
	if r.Empty() || r2.Empty() {
		return false
	}
	return r.Start < r2.End && r2.Start < r.End
}

// IsSupersetOf returns true if r is a superset of r2; that is, the range r2 is
// contained within r.
func (r AddrRange) IsSupersetOf(r2 AddrRange) bool {
	return r.Start <= r2.Start && r.End >= r2.End
}

// Intersect returns a range consisting of the intersection between r and r2.
// If r and r2 do not overlap, Intersect returns a range with unspecified
// bounds, but for which Length() == 0.
func (r AddrRange) Intersect(r2 AddrRange) AddrRange {
	if r.Start < r2.Start {
		r.Start = r2.Start
	}
	if r.End > r2.End {
		r.End = r2.End
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// Subtract returns the parts of r that are not covered by r2, in ascending
// order. The result holds zero, one or two non-empty ranges.
func (r AddrRange) Subtract(r2 AddrRange) []AddrRange {
	if !r.Overlaps(r2) {
		if r.Empty() {
			return nil
		}
		return []AddrRange{r}
	}
	var out []AddrRange
	if r.Start < r2.Start {
		out = append(out, AddrRange{r.Start, r2.Start})
	}
	if r2.End < r.End {
		out = append(out, AddrRange{r2.End, r.End})
	}
	return out
}

// RoundOut returns r with Start rounded down and End rounded up to the
// nearest page boundaries. ok is false if rounding End wraps.
func (r AddrRange) RoundOut() (AddrRange, bool) {
	end, ok := r.End.RoundUp()
	return AddrRange{r.Start.RoundDown(), end}, ok
}

// String implements fmt.Stringer.String.
func (r AddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}
