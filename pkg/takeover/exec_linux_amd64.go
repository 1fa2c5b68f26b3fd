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

//go:build linux && amd64

package takeover

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/elfexec/elfexec/pkg/cleanup"
	"github.com/elfexec/elfexec/pkg/elfimage"
	"github.com/elfexec/elfexec/pkg/hostarch"
	"github.com/elfexec/elfexec/pkg/log"
	"github.com/elfexec/elfexec/pkg/procmaps"
)

// tableSlack is the number of directives the table can hold beyond what the
// first inspection predicts. Mappings created by other threads between the
// inspections use it up.
const tableSlack = 64

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Exec runs img in a child of the calling process and waits for it to exit.
//
// The returned status is the child's own exit status; a non-zero exit of the
// image is not an error. Errors are ParseErrors from elfimage for images that
// cannot be loaded, AllocationErrors when the loader region cannot be set
// up, SpawnErrors, ChildFailedErrors when the child dies before the hand-off
// and RemoteWriteErrors when the launch block or the segments cannot be
// written.
func (l *Loader) Exec(img *elfimage.Image, argv, envv []string) (unix.WaitStatus, error) {
	if err := img.Validate(elfimage.HostMachine()); err != nil {
		return 0, err
	}

	// The child is forked from this thread, whose signal state the
	// runtime fork hooks manage and whose rseq registration prepare
	// looks up.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	b, err := l.prepare(img, argv, envv)
	if err != nil {
		return 0, err
	}
	c, err := b.spawn()
	if err == nil && log.IsLogging(log.Debug) {
		log.Debugf("Child %d: loader region %v, launch block at %#x, rseq %v, plan for %s:\n%v", c.pid, b.region.Range(), uint64(b.blockAddr), b.rseq, img.Name, b.plan)
	}
	// The child has its own copy of the region.
	b.region.release()
	if err != nil {
		return 0, err
	}
	log.Infof("Child %d spawned for %s", c.pid, img.Name)
	return c.handoff(img, b.block, b.blockAddr)
}

// stackRegion returns the [stack] mapping in regions.
func stackRegion(regions []procmaps.Region) (procmaps.Region, bool) {
	for _, r := range regions {
		if r.Kind == procmaps.KindStack {
			return r, true
		}
	}
	return procmaps.Region{}, false
}

// prepare builds the loader region and everything the child reads after the
// fork. The last inspection of the address space comes after every
// allocation but those of planning itself, so that the table releases the
// heap the preparation grew. Mappings that other runtime threads create
// later are not released.
func (l *Loader) prepare(img *elfimage.Image, argv, envv []string) (*bootstrap, error) {
	code, err := LoaderCode()
	if err != nil {
		return nil, err
	}
	segs := img.LoadSegments()
	lb, err := l.newLaunchBlock(img, argv, envv)
	if err != nil {
		return nil, err
	}
	fds, err := cloexecFDs()
	if err != nil {
		return nil, fmt.Errorf("listing close-on-exec descriptors: %w", err)
	}

	// The region shows up in the mappings once it exists, so size the
	// table from a first look.
	before, err := procmaps.Self()
	if err != nil {
		return nil, err
	}
	stack, ok := stackRegion(before)
	if !ok {
		return nil, &AllocationError{Op: "launch block", Err: errors.New("no [stack] mapping")}
	}
	blockAddr, err := launchBase(stack.Range, argStart(), lb.size())
	if err != nil {
		return nil, &AllocationError{Op: "launch block", Range: stack.Range, Err: err}
	}
	block, argvAddr := lb.build(blockAddr)
	rseq, err := threadRseq(before)
	if err != nil {
		return nil, err
	}

	tableCap := tableHeaderSize + (len(before)+len(segs)+tableSlack)*recordSize
	tableOff := alignUp(len(code), 8)
	r, err := mapRegion(uint64(tableOff + tableCap))
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(r.release)
	defer cu.Clean()
	copy(r.mem, code)

	b := &bootstrap{
		region:    r,
		block:     block,
		blockAddr: blockAddr,
		stub:      uintptr(r.Start()),
		table:     uintptr(r.Start()) + uintptr(tableOff),
		entry:     uintptr(img.Entry()),
		argv:      uintptr(argvAddr),
		argc:      uintptr(len(argv)),
		closeFDs:  fds,
		rseq:      rseq,
	}
	if l.opts.Rename {
		b.argv0 = argv0Bytes()
		b.name = []byte(img.Name)
		copy(b.comm[:len(b.comm)-1], filepath.Base(img.Name))
	}

	regions, err := procmaps.Self()
	if err != nil {
		return nil, err
	}
	plan, err := NewPlan(regions, segs, r.Range(), hostarch.PageSize)
	if err != nil {
		return nil, &AllocationError{Op: "plan", Range: r.Range(), Err: err}
	}
	if plan.EncodedSize() > tableCap {
		return nil, &AllocationError{
			Op:    "plan",
			Range: r.Range(),
			Err:   fmt.Errorf("%d directives exceed the table capacity of %d bytes", len(plan), tableCap),
		}
	}
	if err := plan.CheckCollision(r.Range(), regions); err != nil {
		return nil, err
	}
	plan.Encode(r.mem[tableOff:])
	b.plan = plan
	cu.Release()
	return b, nil
}
