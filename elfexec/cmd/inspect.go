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

package cmd

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/elfexec/elfexec/elfexec/cmd/util"
	"github.com/elfexec/elfexec/pkg/procmaps"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	pid  int
	proc string
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "print the classified memory mappings of a process"
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect [-pid N] [-proc root] - print the mappings of process N, default is elfexec itself.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.IntVar(&i.pid, "pid", 0, "process to inspect, default is the calling process.")
	f.StringVar(&i.proc, "proc", "/proc", "mount point of the proc file system to read.")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	pid := i.pid
	if pid == 0 {
		pid = os.Getpid()
	}
	regions, err := procmaps.InspectFS(i.proc, pid)
	if err != nil {
		return util.Errorf("inspecting process %d: %v", pid, err)
	}
	if err := writeRegions(os.Stdout, regions); err != nil {
		return util.Errorf("writing regions: %v", err)
	}
	return subcommands.ExitSuccess
}
