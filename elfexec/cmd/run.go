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
	"golang.org/x/sys/unix"

	"github.com/elfexec/elfexec/elfexec/cmd/util"
	"github.com/elfexec/elfexec/elfexec/config"
	"github.com/elfexec/elfexec/pkg/elfimage"
	"github.com/elfexec/elfexec/pkg/log"
	"github.com/elfexec/elfexec/pkg/takeover"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	clearEnv bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run a static ELF binary in a child that takes over a copy of this process"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <binary> [args...] - run binary with args and exit with its status.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.clearEnv, "clear-env", false, "start the binary with an empty environment.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	waitStatus := args[1].(*unix.WaitStatus)

	img, err := elfimage.Open(f.Arg(0))
	if err != nil {
		util.Fatalf("loading binary: %v", err)
	}
	log.Debugf("Loaded %s: entry %#x, %d segments", img.Name, img.Entry(), len(img.Segments))

	l, err := takeover.NewLoader(takeover.Options{
		Rename: conf.Rename,
		ExecFn: conf.ExecFn,
	})
	if err != nil {
		util.Fatalf("%v", err)
	}
	var envv []string
	if !r.clearEnv {
		envv = os.Environ()
	}
	ws, err := l.Exec(img, f.Args(), envv)
	if err != nil {
		util.Fatalf("running %s: %v", img.Name, err)
	}
	*waitStatus = ws
	return subcommands.ExitSuccess
}
