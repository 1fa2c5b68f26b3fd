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
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/elfexec/elfexec/pkg/hostarch"
)

// ErrCollision is wrapped by AllocationErrors raised when executing a plan
// would overwrite the loader region or a protected mapping.
var ErrCollision = errors.New("address range collision")

// ErrUnsupportedArch is returned by Exec on architectures without a loader
// stub.
var ErrUnsupportedArch = errors.New("process takeover is not supported on this architecture")

// ParseError is returned for a malformed directive table.
type ParseError struct {
	Reason string
}

// Error implements error.Error.
func (e *ParseError) Error() string {
	return "malformed directive table: " + e.Reason
}

// SpawnError is returned when the child process cannot be created.
type SpawnError struct {
	Err error
}

// Error implements error.Error.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("creating child: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// AllocationError is returned when the loader region cannot be reserved or
// would collide with the plan.
type AllocationError struct {
	Op    string
	Range hostarch.AddrRange
	Err   error
}

// Error implements error.Error.
func (e *AllocationError) Error() string {
	return fmt.Sprintf("%s %v: %v", e.Op, e.Range, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AllocationError) Unwrap() error {
	return e.Err
}

// RemoteWriteError is returned when a segment or the launch block cannot be
// written into the child. The child has been killed when this is returned.
type RemoteWriteError struct {
	Pid  int
	Addr uint64
	Want int
	Got  int
	Err  error
}

// Error implements error.Error.
func (e *RemoteWriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("writing %d bytes at %#x in pid %d: wrote %d: %v", e.Want, e.Addr, e.Pid, e.Got, e.Err)
	}
	return fmt.Sprintf("writing %d bytes at %#x in pid %d: short write of %d", e.Want, e.Addr, e.Pid, e.Got)
}

// Unwrap returns the underlying cause.
func (e *RemoteWriteError) Unwrap() error {
	return e.Err
}

// ChildFailedError is returned when the child exits or is killed before it
// stops for the hand-off. Only the wait status is known.
type ChildFailedError struct {
	Pid    int
	Status unix.WaitStatus
}

// Error implements error.Error.
func (e *ChildFailedError) Error() string {
	switch {
	case e.Status.Exited():
		return fmt.Sprintf("child %d exited with status %d before the hand-off", e.Pid, e.Status.ExitStatus())
	case e.Status.Signaled():
		return fmt.Sprintf("child %d killed by %v before the hand-off", e.Pid, e.Status.Signal())
	default:
		return fmt.Sprintf("child %d failed before the hand-off (status %#x)", e.Pid, uint32(e.Status))
	}
}
