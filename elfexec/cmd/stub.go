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
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/arch/x86/x86asm"

	"github.com/elfexec/elfexec/elfexec/cmd/util"
	"github.com/elfexec/elfexec/pkg/takeover"
)

// Stub implements subcommands.Command for the "stub" command.
type Stub struct {
	syntax string
}

// Name implements subcommands.Command.Name.
func (*Stub) Name() string {
	return "stub"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stub) Synopsis() string {
	return "disassemble the loader stub copied into children"
}

// Usage implements subcommands.Command.Usage.
func (*Stub) Usage() string {
	return `stub [-syntax gnu|intel|go] - disassemble the loader stub.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stub) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.syntax, "syntax", "gnu", "assembly syntax: gnu, intel or go.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stub) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	format, ok := syntaxes[s.syntax]
	if !ok {
		f.Usage()
		return subcommands.ExitUsageError
	}
	code, err := takeover.LoaderCode()
	if err != nil {
		return util.Errorf("%v", err)
	}
	if err := disassemble(os.Stdout, code, format); err != nil {
		return util.Errorf("writing disassembly: %v", err)
	}
	return subcommands.ExitSuccess
}

type syntaxFunc func(inst x86asm.Inst, pc uint64, symname x86asm.SymLookup) string

var syntaxes = map[string]syntaxFunc{
	"gnu":   x86asm.GNUSyntax,
	"go":    x86asm.GoSyntax,
	"intel": x86asm.IntelSyntax,
}

// disassemble writes one line per instruction of code, whose offsets are
// relative to its start. Undecodable bytes are shown one at a time.
func disassemble(w io.Writer, code []byte, format syntaxFunc) error {
	for pc := 0; pc < len(code); {
		inst, err := x86asm.Decode(code[pc:], 64)
		if err != nil {
			if _, err := fmt.Fprintf(w, "0x%04x  %-22x  (bad)\n", pc, code[pc:pc+1]); err != nil {
				return err
			}
			pc++
			continue
		}
		if _, err := fmt.Fprintf(w, "0x%04x  %-22x  %s\n", pc, code[pc:pc+inst.Len], format(inst, uint64(pc), nil)); err != nil {
			return err
		}
		pc += inst.Len
	}
	return nil
}
