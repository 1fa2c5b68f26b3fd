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
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/elfexec/elfexec/pkg/hostarch"
)

// Op is the kind of a Directive. The values are part of the table format
// read by the loader stub.
type Op uint64

const (
	// OpRelease unmaps [Addr, Addr+Len).
	OpRelease Op = 1

	// OpReserve maps fresh anonymous private RWX memory at exactly
	// [Addr, Addr+Len).
	OpReserve Op = 2
)

// String implements fmt.Stringer.String.
func (o Op) String() string {
	switch o {
	case OpRelease:
		return "release"
	case OpReserve:
		return "reserve"
	default:
		return fmt.Sprintf("Op(%d)", uint64(o))
	}
}

// Directive is a single address space operation executed by the loader
// stub.
type Directive struct {
	Op   Op
	Addr uint64
	Len  uint64
}

// Range returns [Addr, Addr+Len).
func (d Directive) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: hostarch.Addr(d.Addr), End: hostarch.Addr(d.Addr + d.Len)}
}

// String implements fmt.Stringer.String.
func (d Directive) String() string {
	return fmt.Sprintf("%-7s %v", d.Op, d.Range())
}

// Table layout: a native endian uint64 count followed by count records of
// three native endian uint64s {op, addr, len}.
const (
	tableHeaderSize = 8
	recordSize      = 24
)

// Plan is the ordered list of directives the loader stub executes. All
// releases precede all reserves.
type Plan []Directive

// EncodedSize returns the size of the serialized table.
func (p Plan) EncodedSize() int {
	return tableHeaderSize + len(p)*recordSize
}

// Encode serializes p into b.
//
// Preconditions: len(b) >= p.EncodedSize().
func (p Plan) Encode(b []byte) {
	binary.NativeEndian.PutUint64(b, uint64(len(p)))
	b = b[tableHeaderSize:]
	for _, d := range p {
		binary.NativeEndian.PutUint64(b[0:], uint64(d.Op))
		binary.NativeEndian.PutUint64(b[8:], d.Addr)
		binary.NativeEndian.PutUint64(b[16:], d.Len)
		b = b[recordSize:]
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.MarshalBinary.
func (p Plan) MarshalBinary() ([]byte, error) {
	b := make([]byte, p.EncodedSize())
	p.Encode(b)
	return b, nil
}

// UnmarshalPlan decodes a table produced by Plan.MarshalBinary.
func UnmarshalPlan(b []byte) (Plan, error) {
	if len(b) < tableHeaderSize {
		return nil, &ParseError{Reason: fmt.Sprintf("table of %d bytes has no count", len(b))}
	}
	count := binary.NativeEndian.Uint64(b)
	b = b[tableHeaderSize:]
	if count > uint64(len(b)/recordSize) {
		return nil, &ParseError{Reason: fmt.Sprintf("count %d needs %d bytes of records, have %d", count, count*recordSize, len(b))}
	}
	p := make(Plan, 0, count)
	for i := uint64(0); i < count; i++ {
		d := Directive{
			Op:   Op(binary.NativeEndian.Uint64(b[0:])),
			Addr: binary.NativeEndian.Uint64(b[8:]),
			Len:  binary.NativeEndian.Uint64(b[16:]),
		}
		if d.Op != OpRelease && d.Op != OpReserve {
			return nil, &ParseError{Reason: fmt.Sprintf("record %d has unknown op %d", i, uint64(d.Op))}
		}
		p = append(p, d)
		b = b[recordSize:]
	}
	return p, nil
}

// Count returns the number of directives with the given op.
func (p Plan) Count(op Op) int {
	n := 0
	for _, d := range p {
		if d.Op == op {
			n++
		}
	}
	return n
}

// String implements fmt.Stringer.String.
func (p Plan) String() string {
	var b strings.Builder
	for _, d := range p {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	return b.String()
}
