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

package linux

// Flags for rseq(2), from <linux/rseq.h>.
const (
	RSEQ_FLAG_UNREGISTER = 1 << 0
)

// RSEQ_SIG is the signature glibc registers its rseq areas with on x86.
const RSEQ_SIG = 0x53053053

// RSEQ_AREA_SIZE_INITIAL is the size of the original struct rseq, the
// smallest length rseq(2) accepts.
const RSEQ_AREA_SIZE_INITIAL = 32
