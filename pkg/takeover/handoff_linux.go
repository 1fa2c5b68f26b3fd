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

//go:build linux

package takeover

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/elfexec/elfexec/pkg/elfimage"
	"github.com/elfexec/elfexec/pkg/hostarch"
	"github.com/elfexec/elfexec/pkg/log"
)

// loaderFailed is the exit status of a child whose loader could not apply
// its table. The stub uses the same value.
const loaderFailed = 127

// childState is the position of a child in the hand-off protocol.
type childState int

const (
	// childRunning: forked, running the loader.
	childRunning childState = iota

	// childSuspended: the loader applied its table and stopped.
	childSuspended

	// childResumed: segments written and SIGCONT sent.
	childResumed

	// childExited: reaped.
	childExited
)

func (s childState) String() string {
	switch s {
	case childRunning:
		return "running"
	case childSuspended:
		return "suspended"
	case childResumed:
		return "resumed"
	case childExited:
		return "exited"
	default:
		return fmt.Sprintf("childState(%d)", int(s))
	}
}

// validTransitions lists the states each state may move to.
var validTransitions = map[childState][]childState{
	childRunning:   {childSuspended, childExited},
	childSuspended: {childResumed, childExited},
	childResumed:   {childExited},
}

// child is a process created by spawn. It is owned by the goroutine running
// the hand-off.
type child struct {
	pid   int
	state childState

	// stops logs job control stops of the loaded image.
	stops log.Logger
}

func newChild(pid int) *child {
	return &child{
		pid:   pid,
		state: childRunning,
		stops: log.BasicRateLimitedLogger(time.Second),
	}
}

// transition moves c to state to. Protocol violations are programming
// errors.
func (c *child) transition(to childState) {
	for _, s := range validTransitions[c.state] {
		if s == to {
			log.Debugf("Child %d: %v -> %v", c.pid, c.state, to)
			c.state = to
			return
		}
	}
	panic(fmt.Sprintf("child %d: illegal transition %v -> %v", c.pid, c.state, to))
}

// wait waits for a state change of c, retrying interrupted waits.
func (c *child) wait(options int) (unix.WaitStatus, error) {
	var status unix.WaitStatus
	for {
		r, err := unix.Wait4(c.pid, &status, options, nil)
		if err == unix.EINTR {
			// Wait was interrupted; wait again.
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("wait4(%d): %w", c.pid, err)
		}
		if r != c.pid {
			return 0, fmt.Errorf("wait4 returned %d, expected %d", r, c.pid)
		}
		return status, nil
	}
}

// waitSuspended waits until the loader stops itself. If the child exits or
// is killed first, a ChildFailedError is returned.
func (c *child) waitSuspended() error {
	for {
		status, err := c.wait(unix.WUNTRACED)
		if err != nil {
			c.kill()
			return err
		}
		switch {
		case status.Exited() || status.Signaled():
			c.transition(childExited)
			return &ChildFailedError{Pid: c.pid, Status: status}
		case status.Stopped() && status.StopSignal() == unix.SIGSTOP:
			c.transition(childSuspended)
			return nil
		case status.Stopped():
			// Stopped by job control before the loader got to its own
			// stop; let it get there.
			log.Infof("Child %d stopped by %v before the hand-off, continuing it", c.pid, status.StopSignal())
			if err := unix.Kill(c.pid, unix.SIGCONT); err != nil {
				c.kill()
				return fmt.Errorf("continuing child %d: %w", c.pid, err)
			}
		}
	}
}

// writeRemote copies data to addr in the suspended child.
func (c *child) writeRemote(addr uint64, data []byte, what string) error {
	if c.state != childSuspended {
		panic(fmt.Sprintf("child %d: %s write in state %v", c.pid, what, c.state))
	}
	if len(data) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}
	n, err := unix.ProcessVMWritev(c.pid, local, remote, 0)
	if err != nil || n != len(data) {
		return &RemoteWriteError{Pid: c.pid, Addr: addr, Want: len(data), Got: n, Err: err}
	}
	log.Debugf("Child %d: wrote %d bytes of %s at %#x", c.pid, n, what, addr)
	return nil
}

// resume continues the suspended child.
func (c *child) resume() error {
	if err := unix.Kill(c.pid, unix.SIGCONT); err != nil {
		return fmt.Errorf("continuing child %d: %w", c.pid, err)
	}
	c.transition(childResumed)
	return nil
}

// waitExit waits for the resumed child to exit and returns its status. Job
// control stops and continues of the image are logged and waited through.
func (c *child) waitExit() (unix.WaitStatus, error) {
	for {
		status, err := c.wait(unix.WUNTRACED | unix.WCONTINUED)
		if err != nil {
			return 0, err
		}
		switch {
		case status.Exited() || status.Signaled():
			c.transition(childExited)
			return status, nil
		case status.Stopped():
			c.stops.Infof("Child %d stopped by %v", c.pid, status.StopSignal())
		case status.Continued():
			c.stops.Infof("Child %d continued", c.pid)
		}
	}
}

// kill kills and reaps the child.
func (c *child) kill() {
	if c.state == childExited {
		return
	}
	if err := unix.Kill(c.pid, unix.SIGKILL); err != nil {
		log.Warningf("Killing child %d: %v", c.pid, err)
	}
	for {
		status, err := c.wait(0)
		if err != nil {
			log.Warningf("Reaping child %d: %v", c.pid, err)
			break
		}
		if status.Exited() || status.Signaled() {
			break
		}
	}
	c.transition(childExited)
}

// handoff drives the child from its stop to its exit: the launch block and
// the segments are written, the child is continued and its exit status
// collected.
func (c *child) handoff(img *elfimage.Image, block []byte, blockAddr hostarch.Addr) (unix.WaitStatus, error) {
	if err := c.waitSuspended(); err != nil {
		return 0, err
	}
	log.Infof("Child %d suspended, writing %s", c.pid, img.Name)
	if err := c.writeRemote(uint64(blockAddr), block, "launch block"); err != nil {
		c.kill()
		return 0, err
	}
	for _, s := range img.LoadSegments() {
		if err := c.writeRemote(s.Vaddr, img.SegmentData(s), s.Kind.String()+" segment"); err != nil {
			c.kill()
			return 0, err
		}
	}
	if err := c.resume(); err != nil {
		c.kill()
		return 0, err
	}
	status, err := c.waitExit()
	if err != nil {
		return 0, err
	}
	log.Infof("Child %d finished: %v", c.pid, describe(status))
	return status, nil
}

// describe renders a terminal wait status.
func describe(status unix.WaitStatus) string {
	if status.Signaled() {
		return fmt.Sprintf("killed by %v", status.Signal())
	}
	return fmt.Sprintf("exit status %d", status.ExitStatus())
}
