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
	"errors"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/elfexec/elfexec/elfexec/cmd/util"
	"github.com/elfexec/elfexec/elfexec/config"
	"github.com/elfexec/elfexec/pkg/elfimage"
	"github.com/elfexec/elfexec/pkg/hostarch"
	"github.com/elfexec/elfexec/pkg/log"
	"github.com/elfexec/elfexec/pkg/procmaps"
	"github.com/elfexec/elfexec/pkg/takeover"
)

// Plan implements subcommands.Command for the "plan" command.
type Plan struct{}

// Name implements subcommands.Command.Name.
func (*Plan) Name() string {
	return "plan"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Plan) Synopsis() string {
	return "print the directives that would load an ELF binary over this process"
}

// Usage implements subcommands.Command.Usage.
func (*Plan) Usage() string {
	return `plan <binary> - dry run: print the release and reserve directives for binary.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Plan) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Plan) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	img, err := elfimage.Open(f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}
	if err := img.Validate(elfimage.HostMachine()); err != nil {
		return util.Errorf("%v", err)
	}
	regions, err := procmaps.Self()
	if err != nil {
		return util.Errorf("inspecting this process: %v", err)
	}
	pageSize := conf.PageSize
	if pageSize == 0 {
		pageSize = hostarch.PageSize
	}
	// Nothing is mapped for the loader during a dry run.
	plan, err := takeover.NewPlan(regions, img.LoadSegments(), hostarch.AddrRange{}, pageSize)
	if err != nil {
		return util.Errorf("planning %s: %v", img.Name, err)
	}
	log.Debugf("Plan for %s with %d byte pages: %d directives", img.Name, pageSize, len(plan))
	if err := writePlan(os.Stdout, plan); err != nil {
		return util.Errorf("writing plan: %v", err)
	}
	if err := plan.CheckCollision(hostarch.AddrRange{}, regions); err != nil {
		if errors.Is(err, takeover.ErrCollision) {
			return util.Errorf("plan cannot be executed: %v", err)
		}
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}
