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

const (
	// PageSize is the system page size.
	PageSize = 1 << PageShift
)

// ValidPageSize returns true if size is a usable page size for planning: a
// power of two no smaller than 4K.
func ValidPageSize(size uint64) bool {
	return size >= 1<<12 && size&(size-1) == 0
}
