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

// Package procmaps reads and classifies the memory mappings of a process.
//
// Results describe the address space at the moment of the call. They are
// not consistent over time and are never cached.
package procmaps

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/elfexec/elfexec/pkg/hostarch"
)

// Kind classifies a mapping by its path name.
type Kind int

// Mapping kinds. Every kind except KindOther is owned by the kernel and must
// survive an address space takeover.
const (
	KindOther Kind = iota
	KindStack
	KindHeap
	KindVSyscall
	KindVDSO
	KindVVar
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case KindOther:
		return "other"
	case KindStack:
		return "stack"
	case KindHeap:
		return "heap"
	case KindVSyscall:
		return "vsyscall"
	case KindVDSO:
		return "vdso"
	case KindVVar:
		return "vvar"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Classify returns the kind of a mapping with the given path name.
func Classify(path string) Kind {
	switch {
	case path == "[stack]" || strings.HasPrefix(path, "[stack:"):
		return KindStack
	case path == "[heap]":
		return KindHeap
	case path == "[vsyscall]":
		return KindVSyscall
	case path == "[vdso]":
		return KindVDSO
	case path == "[vvar]" || path == "[vvar_vclock]":
		return KindVVar
	default:
		return KindOther
	}
}

// Perms are the access permissions of a mapping.
type Perms struct {
	Read   bool
	Write  bool
	Exec   bool
	Shared bool
}

// String returns the permissions the way the maps file shows them.
func (p Perms) String() string {
	b := []byte("---p")
	if p.Read {
		b[0] = 'r'
	}
	if p.Write {
		b[1] = 'w'
	}
	if p.Exec {
		b[2] = 'x'
	}
	if p.Shared {
		b[3] = 's'
	}
	return string(b)
}

// Region is a single mapping.
type Region struct {
	Range  hostarch.AddrRange
	Perms  Perms
	Offset uint64
	Dev    uint64
	Inode  uint64
	Path   string
	Kind   Kind
}

// Protected returns true if the region must never be released.
func (r Region) Protected() bool {
	return r.Kind != KindOther
}

// String implements fmt.Stringer.String.
func (r Region) String() string {
	return fmt.Sprintf("%v %v %s", r.Range, r.Perms, r.Path)
}

// IOError is returned when the mappings cannot be read, for example because
// the process has exited or access was denied.
type IOError struct {
	Pid int
	Err error
}

// Error implements error.Error.
func (e *IOError) Error() string {
	return fmt.Sprintf("reading mappings of pid %d: %v", e.Pid, e.Err)
}

// Unwrap returns the underlying cause.
func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError is returned for a malformed maps file.
type ParseError struct {
	Pid int
	Err error
}

// Error implements error.Error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("badly formed mappings of pid %d: %v", e.Pid, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Inspect returns the mappings of the process pid.
func Inspect(pid int) ([]Region, error) {
	return InspectFS(procfs.DefaultMountPoint, pid)
}

// Self returns the mappings of the calling process.
func Self() ([]Region, error) {
	pfs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, &IOError{Pid: -1, Err: err}
	}
	p, err := pfs.Self()
	if err != nil {
		return nil, &IOError{Pid: -1, Err: err}
	}
	return read(p)
}

// InspectFS returns the mappings of the process pid from the proc file
// system mounted at procRoot.
func InspectFS(procRoot string, pid int) ([]Region, error) {
	pfs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, &IOError{Pid: pid, Err: err}
	}
	p, err := pfs.Proc(pid)
	if err != nil {
		return nil, &IOError{Pid: pid, Err: err}
	}
	return read(p)
}

func read(p procfs.Proc) ([]Region, error) {
	maps, err := p.ProcMaps()
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, &IOError{Pid: p.PID, Err: err}
		}
		return nil, &ParseError{Pid: p.PID, Err: err}
	}

	regions := make([]Region, 0, len(maps))
	for _, m := range maps {
		r := Region{
			Range: hostarch.AddrRange{
				Start: hostarch.Addr(m.StartAddr),
				End:   hostarch.Addr(m.EndAddr),
			},
			Offset: uint64(m.Offset),
			Dev:    m.Dev,
			Inode:  m.Inode,
			Path:   m.Pathname,
			Kind:   Classify(m.Pathname),
		}
		if m.Perms != nil {
			r.Perms = Perms{
				Read:   m.Perms.Read,
				Write:  m.Perms.Write,
				Exec:   m.Perms.Execute,
				Shared: m.Perms.Shared,
			}
		}
		if !r.Range.WellFormed() {
			return nil, &ParseError{Pid: p.PID, Err: fmt.Errorf("inverted range %v", r.Range)}
		}
		regions = append(regions, r)
	}
	return regions, nil
}
