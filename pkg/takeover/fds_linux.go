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
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// cloexecFDs returns the open descriptors of the calling process that are
// marked close-on-exec. The child closes them before entering the image, as
// execve would have.
func cloexecFDs() ([]int32, error) {
	p, err := procfs.Self()
	if err != nil {
		return nil, err
	}
	fds, err := p.FileDescriptors()
	if err != nil {
		return nil, err
	}
	var out []int32
	for _, fd := range fds {
		flags, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
		if err != nil {
			// The descriptor used to list the directory is gone.
			continue
		}
		if flags&unix.FD_CLOEXEC != 0 {
			out = append(out, int32(fd))
		}
	}
	return out, nil
}
