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
	"github.com/elfexec/elfexec/pkg/elfimage"
)

// Headers implements subcommands.Command for the "headers" command.
type Headers struct{}

// Name implements subcommands.Command.Name.
func (*Headers) Name() string {
	return "headers"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Headers) Synopsis() string {
	return "print the file header, segments and sections of an ELF binary"
}

// Usage implements subcommands.Command.Usage.
func (*Headers) Usage() string {
	return `headers <binary> - print the headers of binary.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Headers) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Headers) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	img, err := elfimage.Open(f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}
	if err := writeHeaders(os.Stdout, img); err != nil {
		return util.Errorf("writing headers: %v", err)
	}
	return subcommands.ExitSuccess
}
