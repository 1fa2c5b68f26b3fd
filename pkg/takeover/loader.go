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

// Package takeover runs an ELF image in a forked copy of the calling process
// by replacing the child's address space instead of calling execve.
//
// The parent prepares a private region holding a position independent loader
// stub and a table of Release and Reserve directives, lays out the initial
// stack of the image for the process stack, then forks. The child drops its
// rseq registration and jumps into the stub, which unmaps every non-kernel
// mapping, reserves the memory the image needs and stops itself with
// SIGSTOP. The parent then writes the initial stack and the segment bytes
// into the child with process_vm_writev and continues it, at which point the
// stub switches to the new stack and jumps to the image entry point.
//
// Only statically linked ET_EXEC images are supported, and only on
// linux/amd64.
package takeover

import (
	"crypto/rand"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/elfexec/elfexec/pkg/elfimage"
	"github.com/elfexec/elfexec/pkg/hostarch"
)

// Options configure a Loader.
type Options struct {
	// Rename rewrites argv[0] of the child with the image name, within the
	// length of the original argument, and sets the thread name to match.
	Rename bool

	// ExecFn is the path reported to the image through AT_EXECFN. The image
	// name is used when empty.
	ExecFn string
}

// Loader executes images with fixed options.
type Loader struct {
	opts Options
	host map[uint64]uint64
}

// NewLoader returns a Loader. It snapshots the host auxiliary vector, whose
// machine description entries are forwarded to loaded images.
func NewLoader(opts Options) (*Loader, error) {
	host, err := hostAuxv()
	if err != nil {
		return nil, fmt.Errorf("reading host auxiliary vector: %w", err)
	}
	return &Loader{opts: opts, host: host}, nil
}

// Exec runs img with the given arguments and environment in a child of the
// calling process and waits for it. See Loader.Exec.
func Exec(img *elfimage.Image, argv, envv []string, opts Options) (unix.WaitStatus, error) {
	l, err := NewLoader(opts)
	if err != nil {
		return 0, err
	}
	return l.Exec(img, argv, envv)
}

// platform is the AT_PLATFORM string of the host.
func platform() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

// newLaunchBlock assembles the initial stack contents for img.
func (l *Loader) newLaunchBlock(img *elfimage.Image, argv, envv []string) (*launchBlock, error) {
	execfn := l.opts.ExecFn
	if execfn == "" {
		execfn = img.Name
	}
	lb := &launchBlock{
		argv:     argv,
		envv:     envv,
		execfn:   execfn,
		platform: platform(),
		aux:      imageAux(img, hostarch.PageSize, l.host),
	}
	if _, err := rand.Read(lb.random[:]); err != nil {
		return nil, fmt.Errorf("reading AT_RANDOM bytes: %w", err)
	}
	return lb, nil
}
